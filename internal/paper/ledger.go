package paper

import (
	"fmt"
	"sort"
	"sync"

	"barbot-go/internal/execution"
	"barbot-go/internal/position"

	"github.com/shopspring/decimal"
)

// Ledger keeps every paper fill and the realized P&L of closing fills per
// instrument.
type Ledger struct {
	mu       sync.Mutex
	fills    []execution.Fill
	realized map[string]decimal.Decimal
	closes   map[string]int
}

// NewLedger creates an empty ledger with room for capacity fills.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{
		fills:    make([]execution.Fill, 0, capacity),
		realized: make(map[string]decimal.Decimal),
		closes:   make(map[string]int),
	}
}

// Record appends a fill. Closing fills add their P&L to the instrument total.
func (l *Ledger) Record(fill execution.Fill) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fills = append(l.fills, fill)
	if fill.Closing {
		l.realized[fill.Instrument] = l.realized[fill.Instrument].Add(decimal.NewFromFloat(fill.PnL))
		l.closes[fill.Instrument]++
	}
}

// Fills returns a copy of the recorded fills in arrival order.
func (l *Ledger) Fills() []execution.Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]execution.Fill, len(l.fills))
	copy(out, l.fills)
	return out
}

// Realized sums closing P&L over all instruments.
func (l *Ledger) Realized() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := decimal.Zero
	for _, in := range l.instruments() {
		total = total.Add(l.realized[in])
	}
	return total.InexactFloat64()
}

// RealizedBy returns closing P&L for one instrument.
func (l *Ledger) RealizedBy(instrument string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realized[instrument].InexactFloat64()
}

// Reconcile checks the ledger against the engine's closed trades: each
// instrument must have the same number of closes and the same P&L within
// tolerance.
func (l *Ledger) Reconcile(trades []position.Trade, tolerance float64) error {
	pnl := make(map[string]decimal.Decimal)
	count := make(map[string]int)
	for _, t := range trades {
		pnl[t.Instrument] = pnl[t.Instrument].Add(decimal.NewFromFloat(t.PnL))
		count[t.Instrument]++
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]bool)
	for _, in := range l.instruments() {
		seen[in] = true
		if count[in] != l.closes[in] {
			return fmt.Errorf("%s: ledger has %d closes, trades %d", in, l.closes[in], count[in])
		}
		diff := l.realized[in].Sub(pnl[in]).Abs()
		if diff.GreaterThan(decimal.NewFromFloat(tolerance)) {
			return fmt.Errorf("%s: ledger realized %s, trades %s", in, l.realized[in].StringFixed(2), pnl[in].StringFixed(2))
		}
	}
	for in, n := range count {
		if !seen[in] {
			return fmt.Errorf("%s: %d trades missing from ledger", in, n)
		}
	}
	return nil
}

// instruments lists instruments with closes in a stable order. Callers hold mu.
func (l *Ledger) instruments() []string {
	out := make([]string, 0, len(l.realized))
	for in := range l.realized {
		out = append(out, in)
	}
	sort.Strings(out)
	return out
}

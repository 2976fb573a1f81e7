package engine

import (
	"sort"

	"barbot-go/internal/position"
	"barbot-go/internal/risk"
)

// Result is the flushed state of a run. Positions still open are reported as
// they stand; the engine never fabricates a closing price for them.
type Result struct {
	StartBalance  float64
	Account       risk.AccountState
	Bars          int
	Trades        []position.Trade
	OpenAtEnd     []position.Position
	Decisions     []risk.Decision
	Shadows       []position.ShadowOutcome
	ShadowPending int
}

// Result snapshots the run so far. Safe to call after Run returns or mid-run.
func (e *Engine) Result() Result {
	trades := make([]position.Trade, len(e.trades))
	copy(trades, e.trades)
	decisions := make([]risk.Decision, len(e.decisions))
	copy(decisions, e.decisions)

	open := make([]position.Position, 0, len(e.positions))
	for _, p := range e.positions {
		open = append(open, *p.Clone())
	}
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })

	return Result{
		StartBalance:  e.cfg.StartBalance,
		Account:       e.account.Snapshot(),
		Bars:          e.bars,
		Trades:        trades,
		OpenAtEnd:     open,
		Decisions:     decisions,
		Shadows:       e.shadow.Resolved(),
		ShadowPending: e.shadow.Pending(),
	}
}

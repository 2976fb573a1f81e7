package paper

import (
	"errors"
	"fmt"
	"sync"

	"barbot-go/internal/signal"

	"github.com/shopspring/decimal"
)

type positionState struct {
	Instrument string
	Side       signal.Side
	Volume     decimal.Decimal
	Entry      decimal.Decimal
	UnitValue  decimal.Decimal
}

// Account tracks the simulated balance in decimal so realized P&L sums without drift.
type Account struct {
	mu        sync.Mutex
	starting  decimal.Decimal
	balance   decimal.Decimal
	realized  decimal.Decimal
	positions map[string]positionState
}

// PositionSnapshot exposes a read-only view of a single open order.
type PositionSnapshot struct {
	Instrument string
	Side       signal.Side
	Volume     float64
	Entry      float64
	Unrealized float64
}

// Snapshot is a copy of the account, optionally marked to market.
type Snapshot struct {
	Balance     float64
	RealizedPnL float64
	Equity      float64
	Positions   map[string]PositionSnapshot
}

// NewAccount seeds the starting balance.
func NewAccount(starting float64) *Account {
	s := decimal.NewFromFloat(starting)
	return &Account{
		starting:  s,
		balance:   s,
		positions: make(map[string]positionState),
	}
}

// StartingBalance returns the initial bankroll.
func (a *Account) StartingBalance() float64 { return a.starting.InexactFloat64() }

// Open records an entry under id.
func (a *Account) Open(id, instrument string, side signal.Side, volume, price, unitValue float64) error {
	if volume <= 0 {
		return errors.New("volume must be positive")
	}
	if price <= 0 {
		return errors.New("price must be positive")
	}
	if !side.Valid() {
		return fmt.Errorf("unknown side %q", side)
	}
	if unitValue <= 0 {
		unitValue = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.positions[id]; ok {
		return fmt.Errorf("order %s already open", id)
	}
	a.positions[id] = positionState{
		Instrument: instrument,
		Side:       side,
		Volume:     decimal.NewFromFloat(volume),
		Entry:      decimal.NewFromFloat(price),
		UnitValue:  decimal.NewFromFloat(unitValue),
	}
	return nil
}

// Close realizes the P&L of id at price and credits it to the balance.
func (a *Account) Close(id string, price float64) (decimal.Decimal, error) {
	if price <= 0 {
		return decimal.Zero, errors.New("price must be positive")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	pos, ok := a.positions[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("order %s is not open", id)
	}
	pnl := pos.pnl(decimal.NewFromFloat(price))
	a.balance = a.balance.Add(pnl)
	a.realized = a.realized.Add(pnl)
	delete(a.positions, id)
	return pnl, nil
}

func (p positionState) pnl(price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.Entry)
	if p.Side == signal.Short {
		diff = diff.Neg()
	}
	return diff.Mul(p.Volume).Mul(p.UnitValue)
}

// Snapshot returns balances, marking open orders with marks when a price is known.
func (a *Account) Snapshot(marks map[string]float64) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	positions := make(map[string]PositionSnapshot, len(a.positions))
	equity := a.balance
	for id, pos := range a.positions {
		snap := PositionSnapshot{
			Instrument: pos.Instrument,
			Side:       pos.Side,
			Volume:     pos.Volume.InexactFloat64(),
			Entry:      pos.Entry.InexactFloat64(),
		}
		if mark, ok := marks[pos.Instrument]; ok && mark > 0 {
			u := pos.pnl(decimal.NewFromFloat(mark))
			snap.Unrealized = u.InexactFloat64()
			equity = equity.Add(u)
		}
		positions[id] = snap
	}
	return Snapshot{
		Balance:     a.balance.InexactFloat64(),
		RealizedPnL: a.realized.InexactFloat64(),
		Equity:      equity.InexactFloat64(),
		Positions:   positions,
	}
}

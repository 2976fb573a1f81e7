package risk

import (
	"fmt"
	"sync"
	"time"
)

// Account is the engine-owned AccountState. Guards and sizing only ever see a
// Snapshot; mutation happens at position open, position close and day roll.
type Account struct {
	mu                sync.Mutex
	startBalance      float64
	dailyStartBalance float64
	balance           float64
	equity            float64
	openRisk          float64
	dailyTrades       int
	day               time.Time
	open              map[string]float64 // instrument -> risk cash currently at stake
	lastOpened        map[string]int     // instrument -> bar index of the last open
}

// AccountState is an immutable copy of the account handed to guards and sizing.
type AccountState struct {
	StartBalance      float64
	DailyStartBalance float64
	Balance           float64
	Equity            float64
	OpenRisk          float64
	DailyTrades       int
	Day               time.Time
	OpenInstruments   map[string]float64
	LastOpened        map[string]int
}

// NewAccount seeds an account with the starting balance.
func NewAccount(startBalance float64) *Account {
	return &Account{
		startBalance:      startBalance,
		dailyStartBalance: startBalance,
		balance:           startBalance,
		equity:            startBalance,
		open:              make(map[string]float64),
		lastOpened:        make(map[string]int),
	}
}

// Snapshot copies the account state.
func (a *Account) Snapshot() AccountState {
	a.mu.Lock()
	defer a.mu.Unlock()
	open := make(map[string]float64, len(a.open))
	for k, v := range a.open {
		open[k] = v
	}
	last := make(map[string]int, len(a.lastOpened))
	for k, v := range a.lastOpened {
		last[k] = v
	}
	return AccountState{
		StartBalance:      a.startBalance,
		DailyStartBalance: a.dailyStartBalance,
		Balance:           a.balance,
		Equity:            a.equity,
		OpenRisk:          a.openRisk,
		DailyTrades:       a.dailyTrades,
		Day:               a.day,
		OpenInstruments:   open,
		LastOpened:        last,
	}
}

// RollDay resets the day-scoped fields when day differs from the current trading day.
// The day is derived from bar timestamps, never from the wall clock.
func (a *Account) RollDay(day time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.day.IsZero() && a.day.Equal(day) {
		return false
	}
	first := a.day.IsZero()
	a.day = day
	if first {
		return false
	}
	a.dailyStartBalance = a.equity
	a.dailyTrades = 0
	return true
}

// OnOpen debits risk budget for a freshly filled position.
func (a *Account) OnOpen(instrument string, riskCash float64, barIndex int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.open[instrument]; ok {
		return fmt.Errorf("open %s: position already counted as open", instrument)
	}
	a.open[instrument] = riskCash
	a.openRisk += riskCash
	a.dailyTrades++
	a.lastOpened[instrument] = barIndex
	return nil
}

// OnClose releases the risk recorded at open and applies realized P&L.
// A second close for the same instrument is an error, so risk is never released twice.
func (a *Account) OnClose(instrument string, pnl float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	riskCash, ok := a.open[instrument]
	if !ok {
		return fmt.Errorf("close %s: no open position", instrument)
	}
	delete(a.open, instrument)
	a.openRisk -= riskCash
	if a.openRisk < 1e-9 {
		a.openRisk = 0
	}
	a.balance += pnl
	a.equity += pnl
	return nil
}

// SyncEquity overrides equity with a broker-reported value (live mode only).
func (a *Account) SyncEquity(equity float64) {
	a.mu.Lock()
	a.equity = equity
	a.mu.Unlock()
}

// DailyDrawdown is the fraction lost since the start of the current trading day.
// The divisor is the day's starting balance, never the all-time starting balance.
func (s AccountState) DailyDrawdown() float64 {
	if s.DailyStartBalance <= 0 {
		return 0
	}
	return (s.DailyStartBalance - s.Equity) / s.DailyStartBalance
}

// TotalDrawdown is the fraction lost against the all-time starting balance.
func (s AccountState) TotalDrawdown() float64 {
	if s.StartBalance <= 0 {
		return 0
	}
	return (s.StartBalance - s.Equity) / s.StartBalance
}

// OpenPositions counts positions currently open.
func (s AccountState) OpenPositions() int { return len(s.OpenInstruments) }

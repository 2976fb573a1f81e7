package strategy

import (
	"math"

	"barbot-go/internal/signal"
)

// Breakout trades closes beyond the prior Donchian channel with a fixed
// reward-to-risk target.
type Breakout struct {
	p Params
}

// NewBreakout builds a Donchian channel breakout strategy.
func NewBreakout(p Params) *Breakout { return &Breakout{p: p} }

// Name returns the identifier for the strategy implementation.
func (b *Breakout) Name() string { return string(signal.Breakout) }

// Generate checks the newest bar only. The channel excludes the newest bar.
func (b *Breakout) Generate(w signal.Window, instrument string) []signal.Signal {
	bars := w.Bars
	n := len(bars)
	if b.p.DonchianPeriod <= 0 || n < max(b.p.DonchianPeriod, b.p.ATRPeriod)+1 {
		return nil
	}
	i := n - 1
	upper, lower := Donchian(bars, b.p.DonchianPeriod)
	atr := ATR(bars, b.p.ATRPeriod)[i]
	if math.IsNaN(atr) || atr <= 0 || math.IsNaN(upper[i]) {
		return nil
	}
	px := bars[i].Close
	dist := b.p.SLATRMult * atr
	rr := b.p.BreakoutRR
	switch {
	case px > upper[i]:
		return []signal.Signal{anchored(w, instrument, signal.Long, px-dist, px+rr*dist, atr, signal.Breakout)}
	case px < lower[i] && px-rr*dist > 0:
		return []signal.Signal{anchored(w, instrument, signal.Short, px+dist, px-rr*dist, atr, signal.Breakout)}
	}
	return nil
}

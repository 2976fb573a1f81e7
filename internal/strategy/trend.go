package strategy

import (
	"math"

	"barbot-go/internal/signal"
)

// Trend enters band breaks that follow a volatility squeeze. It sets no target;
// the lifecycle's trailing stop manages the exit.
type Trend struct {
	p Params
}

// NewTrend builds a squeeze-expansion breakout strategy.
func NewTrend(p Params) *Trend { return &Trend{p: p} }

// Name returns the configured identifier for logging.
func (t *Trend) Name() string { return string(signal.Trend) }

func (t *Trend) warmup() int {
	return max(t.p.BBPeriod+t.p.SqueezeMemory, t.p.ATRPeriod, 2*t.p.ADXPeriod+t.p.ADXRisingBars, t.p.CMFPeriod) + 1
}

// Generate checks the newest bar only.
func (t *Trend) Generate(w signal.Window, instrument string) []signal.Signal {
	bars := w.Bars
	n := len(bars)
	if n < t.warmup() {
		return nil
	}
	i := n - 1
	closes := w.Closes()
	bb := Bollinger(closes, t.p.BBPeriod, t.p.BBStd)
	atr := ATR(bars, t.p.ATRPeriod)[i]
	adx := ADX(bars, t.p.ADXPeriod)
	if math.IsNaN(atr) || atr <= 0 || math.IsNaN(bb.Width[i]) || math.IsNaN(adx[i]) {
		return nil
	}
	if !t.recentSqueeze(bb.Width, i) || !rising(bb.Width, i, t.p.ExpansionBars) {
		return nil
	}
	if adx[i] < t.p.ADXTrendMin {
		return nil
	}
	if adx[i] < 30 && !rising(adx, i, t.p.ADXRisingBars) {
		return nil
	}

	var cmf float64
	if t.p.CMFConfirm {
		cmf = CMF(bars, t.p.CMFPeriod)[i]
		if math.IsNaN(cmf) {
			return nil
		}
	}
	px := closes[i]
	dist := t.p.SLATRMult * atr
	switch {
	case px > bb.Upper[i]:
		if t.p.CMFConfirm && cmf <= 0 {
			return nil
		}
		return []signal.Signal{anchored(w, instrument, signal.Long, px-dist, 0, atr, signal.Trend)}
	case px < bb.Lower[i]:
		if t.p.CMFConfirm && cmf >= 0 {
			return nil
		}
		return []signal.Signal{anchored(w, instrument, signal.Short, px+dist, 0, atr, signal.Trend)}
	}
	return nil
}

// recentSqueeze reports a band width at or below the lookback percentile within
// the last SqueezeMemory bars.
func (t *Trend) recentSqueeze(width []float64, i int) bool {
	for j := i; j > i-t.p.SqueezeMemory && j >= 0; j-- {
		if math.IsNaN(width[j]) {
			return false
		}
		from := max(0, j-t.p.SqueezeLookback+1)
		if width[j] <= percentile(width[from:j+1], t.p.SqueezePctile) {
			return true
		}
	}
	return false
}

// rising reports strictly increasing values over the last n steps ending at i.
func rising(values []float64, i, n int) bool {
	if i-n < 0 {
		return false
	}
	for j := i; j > i-n; j-- {
		if math.IsNaN(values[j]) || math.IsNaN(values[j-1]) || values[j] <= values[j-1] {
			return false
		}
	}
	return true
}

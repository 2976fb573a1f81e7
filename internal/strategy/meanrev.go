package strategy

import (
	"math"

	"barbot-go/internal/signal"
)

// MeanReversion fades closes outside the Bollinger bands back to the mid band.
type MeanReversion struct {
	p Params
}

// NewMeanReversion builds a Bollinger excess strategy.
func NewMeanReversion(p Params) *MeanReversion { return &MeanReversion{p: p} }

// Name returns the configured identifier for logging.
func (m *MeanReversion) Name() string { return string(signal.MeanReversion) }

func (m *MeanReversion) warmup() int {
	return max(m.p.BBPeriod, m.p.ATRPeriod, m.p.RSIPeriod+1, 2*m.p.ADXPeriod) + 1
}

// Generate checks the newest bar only.
func (m *MeanReversion) Generate(w signal.Window, instrument string) []signal.Signal {
	bars := w.Bars
	n := len(bars)
	if n < m.warmup() {
		return nil
	}
	i := n - 1
	closes := w.Closes()
	bb := Bollinger(closes, m.p.BBPeriod, m.p.BBStd)
	atr := ATR(bars, m.p.ATRPeriod)[i]
	rsi := RSI(closes, m.p.RSIPeriod)[i]
	if math.IsNaN(atr) || atr <= 0 || math.IsNaN(bb.Lower[i]) || math.IsNaN(rsi) {
		return nil
	}
	if bb.Width[i] < m.p.MinBBWidth {
		return nil
	}

	px := closes[i]
	minDist := m.p.MinSLATR * atr
	switch {
	case px < bb.Lower[i]:
		if rsi > m.p.RSIOversold || m.againstTrend(w, signal.Long) {
			return nil
		}
		stop := lowest(bars, i-m.p.SwingBars+1, i) - 0.2*atr
		if px-stop < minDist {
			stop = px - math.Max(minDist, m.p.SLATRMult*atr)
		}
		return m.emit(w, instrument, signal.Long, stop, bb.Mid[i], atr)
	case px > bb.Upper[i]:
		if rsi < m.p.RSIOverbought || m.againstTrend(w, signal.Short) {
			return nil
		}
		stop := highest(bars, i-m.p.SwingBars+1, i) + 0.2*atr
		if stop-px < minDist {
			stop = px + math.Max(minDist, m.p.SLATRMult*atr)
		}
		return m.emit(w, instrument, signal.Short, stop, bb.Mid[i], atr)
	}
	return nil
}

// againstTrend reports a strong trend opposite to side: fast EMA on the wrong
// side of the slow one with ADX above the regime threshold.
func (m *MeanReversion) againstTrend(w signal.Window, side signal.Side) bool {
	if m.p.RegimeADX <= 0 || len(w.Bars) < m.p.EMASlow {
		return false
	}
	i := len(w.Bars) - 1
	closes := w.Closes()
	fast, slow := EMA(closes, m.p.EMAFast)[i], EMA(closes, m.p.EMASlow)[i]
	adx := ADX(w.Bars, m.p.ADXPeriod)[i]
	if math.IsNaN(adx) || adx < m.p.RegimeADX {
		return false
	}
	if side == signal.Long {
		return fast < slow
	}
	return fast > slow
}

func (m *MeanReversion) emit(w signal.Window, instrument string, side signal.Side, stop, target, atr float64) []signal.Signal {
	if stop <= 0 {
		return nil
	}
	s := anchored(w, instrument, side, stop, target, atr, signal.MeanReversion)
	if s.RiskDistance() <= 0 || s.RR < m.p.MinRR {
		return nil
	}
	return []signal.Signal{s}
}

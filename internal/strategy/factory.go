// Package strategy turns indicator values on a truncated bar window into
// candidate signals. Every source is a pure function of the window it is given.
package strategy

import (
	"fmt"
	"strings"

	"barbot-go/internal/signal"
)

// Params expresses tunable knobs required by strategy constructors.
type Params struct {
	BBPeriod  int
	BBStd     float64
	EMAFast   int
	EMASlow   int
	RSIPeriod int
	ATRPeriod int
	ADXPeriod int
	CMFPeriod int

	// mean reversion
	RSIOversold   float64
	RSIOverbought float64
	MinBBWidth    float64
	MinRR         float64
	SwingBars     int
	SLATRMult     float64
	MinSLATR      float64
	RegimeADX     float64 // a strong opposite trend blocks fading it

	// trend
	SqueezeLookback int
	SqueezePctile   float64
	SqueezeMemory   int
	ExpansionBars   int
	ADXTrendMin     float64
	ADXRisingBars   int
	CMFConfirm      bool

	// breakout
	DonchianPeriod int
	BreakoutRR     float64
}

// DefaultParams mirrors the tuned hourly defaults.
func DefaultParams() Params {
	return Params{
		BBPeriod:        20,
		BBStd:           2.0,
		EMAFast:         50,
		EMASlow:         200,
		RSIPeriod:       14,
		ATRPeriod:       14,
		ADXPeriod:       14,
		CMFPeriod:       20,
		RSIOversold:     35,
		RSIOverbought:   65,
		MinBBWidth:      0.003,
		MinRR:           0.5,
		SwingBars:       10,
		SLATRMult:       1.5,
		MinSLATR:        0.8,
		RegimeADX:       25,
		SqueezeLookback: 100,
		SqueezePctile:   20,
		SqueezeMemory:   10,
		ExpansionBars:   2,
		ADXTrendMin:     20,
		ADXRisingBars:   3,
		CMFConfirm:      true,
		DonchianPeriod:  55,
		BreakoutRR:      2.0,
	}
}

// Build returns the source for name: mean_reversion, trend, breakout or combined.
func Build(name string, p Params) (signal.Source, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mean_reversion", "mr":
		return NewMeanReversion(p), nil
	case "trend":
		return NewTrend(p), nil
	case "breakout", "donchian":
		return NewBreakout(p), nil
	case "", "combined":
		return NewCombined(NewTrend(p), NewMeanReversion(p)), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// Combined runs several sources on the same window. Earlier sources win when two
// fire on the same anchor, since the engine keeps one signal per anchor.
type Combined struct {
	sources []signal.Source
}

// NewCombined lists sources in priority order.
func NewCombined(sources ...signal.Source) *Combined {
	return &Combined{sources: sources}
}

func (c *Combined) Name() string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return "combined(" + strings.Join(names, ",") + ")"
}

// Generate concatenates the children's signals in priority order.
func (c *Combined) Generate(w signal.Window, instrument string) []signal.Signal {
	var out []signal.Signal
	for _, s := range c.sources {
		out = append(out, s.Generate(w, instrument)...)
	}
	return out
}

// anchored fills the fields every source sets the same way.
func anchored(w signal.Window, instrument string, side signal.Side, stop, target, atr float64, tag signal.StrategyTag) signal.Signal {
	last := w.Last()
	s := signal.Signal{
		Instrument:  instrument,
		Side:        side,
		AnchorIndex: w.LastIndex(),
		AnchorTs:    last.Ts,
		AnchorPrice: last.Close,
		Stop:        stop,
		Target:      target,
		ATR:         atr,
		Strategy:    tag,
	}
	if d := s.RiskDistance(); d > 0 && target > 0 {
		reward := target - last.Close
		if side == signal.Short {
			reward = -reward
		}
		s.RR = reward / d
	}
	s.ID = signal.SignalID(instrument, last.Ts, side)
	return s
}

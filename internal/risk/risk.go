// Package risk implements admission control for candidate trades: account state, guards and sizing.
package risk

import (
	"fmt"
	"math"
	"time"

	"barbot-go/internal/signal"
)

// Limits encodes guard-rails evaluated before any candidate may become a position.
// A non-positive limit disables the corresponding check.
type Limits struct {
	MaxOpenPositions  int
	MaxOpenRisk       float64 // fraction of equity at risk across open positions
	MaxDailyDrawdown  float64 // fraction of the day's starting balance
	MaxTotalDrawdown  float64 // fraction of the all-time starting balance
	TotalSafetyMargin float64 // pause this much before MaxTotalDrawdown
	MaxDailyTrades    int
	CooldownBars      int
	MaxSlippageATR    float64
}

// Candidate is a pending signal being executed on the bar after its anchor.
type Candidate struct {
	Signal       signal.Signal
	BarIndex     int
	Ts           time.Time
	Open         float64 // execution bar open
	Quote        float64 // open plus spread, before modelled slippage; 0 falls back to FillEstimate
	FillEstimate float64 // open adjusted by the fill model
	Stop         float64 // stop re-anchored on the fill estimate
	UnitValue    float64
	VolumeStep   float64
}

// Decision is the immutable record of one guard evaluation.
type Decision struct {
	SignalID     string             `json:"signal_id"`
	Instrument   string             `json:"instrument"`
	Side         signal.Side        `json:"side"`
	Strategy     signal.StrategyTag `json:"strategy"`
	AnchorIndex  int                `json:"anchor_index"`
	BarIndex     int                `json:"bar_index"`
	Ts           time.Time          `json:"ts"`
	Accepted     bool               `json:"accepted"`
	Reason       RejectReason       `json:"reason"`
	Detail       string             `json:"detail,omitempty"`
	Open         float64            `json:"open"`
	FillEstimate float64            `json:"fill_estimate"`
	RiskCash     float64            `json:"risk_cash"`
	Volume       float64            `json:"volume"`
}

// Guards evaluates limits and sizing against an account snapshot.
type Guards struct {
	limits Limits
	sizing SizingConfig
}

// NewGuards wires limits and sizing rules.
func NewGuards(limits Limits, sizing SizingConfig) *Guards {
	return &Guards{limits: limits, sizing: sizing}
}

// Limits returns the configured limits.
func (g *Guards) Limits() Limits { return g.limits }

// Evaluate runs the ordered checks; the first failing check wins.
func (g *Guards) Evaluate(c Candidate, s AccountState) Decision {
	size := g.sizing.Size(c, s, g.limits)
	d := Decision{
		SignalID:     c.Signal.ID,
		Instrument:   c.Signal.Instrument,
		Side:         c.Signal.Side,
		Strategy:     c.Signal.Strategy,
		AnchorIndex:  c.Signal.AnchorIndex,
		BarIndex:     c.BarIndex,
		Ts:           c.Ts,
		Open:         c.Open,
		FillEstimate: c.FillEstimate,
		RiskCash:     size.RiskCash,
		Volume:       size.Volume,
	}

	reason, detail := g.check(c, s, size)
	if reason != RejectNone {
		d.Reason = reason
		d.Detail = detail
		return d
	}
	d.Accepted = true
	return d
}

func (g *Guards) check(c Candidate, s AccountState, size Sizing) (RejectReason, string) {
	l := g.limits
	if _, open := s.OpenInstruments[c.Signal.Instrument]; open {
		return RejectDuplicateInstrument, "already open: " + c.Signal.Instrument
	}
	if l.MaxOpenPositions > 0 && s.OpenPositions() >= l.MaxOpenPositions {
		return RejectMaxPositions, fmt.Sprintf("%d/%d open", s.OpenPositions(), l.MaxOpenPositions)
	}
	if l.MaxOpenRisk > 0 {
		budget := l.MaxOpenRisk * s.Equity
		if s.OpenRisk+size.RiskCash > budget {
			return RejectOpenRiskLimit, fmt.Sprintf("open risk %.2f + %.2f > %.2f", s.OpenRisk, size.RiskCash, budget)
		}
	}
	if l.MaxDailyDrawdown > 0 && s.DailyDrawdown() >= l.MaxDailyDrawdown {
		return RejectDailyDrawdown, fmt.Sprintf("daily dd %.2f%%", s.DailyDrawdown()*100)
	}
	if l.MaxTotalDrawdown > 0 {
		pause := l.MaxTotalDrawdown - l.TotalSafetyMargin
		if s.TotalDrawdown() >= pause {
			return RejectTotalDrawdown, fmt.Sprintf("total dd %.2f%% >= pause %.2f%%", s.TotalDrawdown()*100, pause*100)
		}
	}
	if l.MaxDailyTrades > 0 && s.DailyTrades >= l.MaxDailyTrades {
		return RejectDailyTradeCap, fmt.Sprintf("%d/%d trades today", s.DailyTrades, l.MaxDailyTrades)
	}
	if l.CooldownBars > 0 {
		if last, ok := s.LastOpened[c.Signal.Instrument]; ok && c.BarIndex-last < l.CooldownBars {
			return RejectCooldown, fmt.Sprintf("%d bars since last open", c.BarIndex-last)
		}
	}
	if l.MaxSlippageATR > 0 && c.Signal.ATR > 0 {
		quote := c.Quote
		if quote == 0 {
			quote = c.FillEstimate
		}
		slip := math.Abs(quote-c.Open) / c.Signal.ATR
		if slip > l.MaxSlippageATR {
			return RejectSlippage, fmt.Sprintf("slip %.3f ATR", slip)
		}
	}
	if size.Volume <= 0 {
		return RejectZeroVolume, fmt.Sprintf("risk %.2f over distance %g", size.RiskCash, size.Distance)
	}
	return RejectNone, ""
}

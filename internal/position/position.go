// Package position owns open positions and the per-bar exit cascade.
package position

import (
	"math"
	"time"

	"barbot-go/internal/signal"
)

// Position is a filled trade. Stop is owned by the Manager and only ever tightens.
type Position struct {
	ID            string             `json:"id"`
	SignalID      string             `json:"signal_id"`
	Instrument    string             `json:"instrument"`
	Side          signal.Side        `json:"side"`
	Strategy      signal.StrategyTag `json:"strategy"`
	Entry         float64            `json:"entry"`
	InitialStop   float64            `json:"initial_stop"`
	Stop          float64            `json:"stop"`
	Target        float64            `json:"target,omitempty"`
	RiskCash      float64            `json:"risk_cash"`
	Volume        float64            `json:"volume"`
	UnitValue     float64            `json:"unit_value"`
	OpenIndex     int                `json:"open_index"`
	OpenedAt      time.Time          `json:"opened_at"`
	BarsOpen      int                `json:"bars_open"`
	BestPrice     float64            `json:"best_price"`
	WorstPrice    float64            `json:"worst_price"`
	LastClose     float64            `json:"last_close"`
	Status        Status             `json:"status"`
	CloseReason   CloseReason        `json:"close_reason"`
	ClosePrice    float64            `json:"close_price,omitempty"`
	CloseIndex    int                `json:"close_index,omitempty"`
	ClosedAt      time.Time          `json:"closed_at,omitempty"`
	BreakevenSet  bool               `json:"breakeven_set"`
	TrailingTier  int                `json:"trailing_tier"` // 0 = not trailing, 1 = highest MFE tier
	BrokerOrderID string             `json:"broker_order_id,omitempty"`

	recent []span
}

type span struct{ high, low float64 }

// Params describes a fill that becomes a position.
type Params struct {
	ID        string
	Signal    signal.Signal
	Entry     float64
	Stop      float64
	RiskCash  float64
	Volume    float64
	UnitValue float64
	OpenIndex int
	OpenedAt  time.Time
	BrokerID  string
}

// Open builds a position from a fill.
func Open(p Params) *Position {
	unit := p.UnitValue
	if unit <= 0 {
		unit = 1
	}
	return &Position{
		ID:            p.ID,
		SignalID:      p.Signal.ID,
		Instrument:    p.Signal.Instrument,
		Side:          p.Signal.Side,
		Strategy:      p.Signal.Strategy,
		Entry:         p.Entry,
		InitialStop:   p.Stop,
		Stop:          p.Stop,
		Target:        p.Signal.Target,
		RiskCash:      p.RiskCash,
		Volume:        p.Volume,
		UnitValue:     unit,
		OpenIndex:     p.OpenIndex,
		OpenedAt:      p.OpenedAt,
		BestPrice:     p.Entry,
		WorstPrice:    p.Entry,
		LastClose:     p.Entry,
		Status:        StatusOpen,
		BrokerOrderID: p.BrokerID,
	}
}

// IsOpen reports whether the position is still live.
func (p *Position) IsOpen() bool { return p.Status == StatusOpen }

// R is the initial risk distance. It never changes after the fill.
func (p *Position) R() float64 { return math.Abs(p.Entry - p.InitialStop) }

// RMultiple expresses price relative to entry in units of initial risk.
func (p *Position) RMultiple(price float64) float64 {
	r := p.R()
	if r == 0 {
		return 0
	}
	return p.Side.Sign() * (price - p.Entry) / r
}

// CurrentR is the unrealized result at the last seen close.
func (p *Position) CurrentR() float64 { return p.RMultiple(p.LastClose) }

// MFE is the peak favorable excursion in R.
func (p *Position) MFE() float64 { return math.Max(0, p.RMultiple(p.BestPrice)) }

// MAE is the peak adverse excursion in R, reported as a non-positive number.
func (p *Position) MAE() float64 { return math.Min(0, p.RMultiple(p.WorstPrice)) }

// ResultR is the closed result normalized by initial risk.
func (p *Position) ResultR() float64 {
	if p.IsOpen() {
		return p.CurrentR()
	}
	return p.RMultiple(p.ClosePrice)
}

// PnL is the realized cash result of a closed position.
func (p *Position) PnL() float64 {
	if p.IsOpen() {
		return 0
	}
	return p.Side.Sign() * (p.ClosePrice - p.Entry) * p.Volume * p.UnitValue
}

// StopMoved reports whether break-even or trailing ever moved the stop.
func (p *Position) StopMoved() bool { return p.Stop != p.InitialStop }

// tighten applies the monotonic stop rule and reports whether the stop moved.
func (p *Position) tighten(candidate float64) bool {
	var next float64
	if p.Side == signal.Long {
		next = math.Max(p.Stop, candidate)
	} else {
		next = math.Min(p.Stop, candidate)
	}
	if next == p.Stop {
		return false
	}
	p.Stop = next
	return true
}

func (p *Position) observe(bar signal.Bar, keep int) {
	p.BarsOpen++
	p.LastClose = bar.Close
	if p.Side == signal.Long {
		p.BestPrice = math.Max(p.BestPrice, bar.High)
		p.WorstPrice = math.Min(p.WorstPrice, bar.Low)
	} else {
		p.BestPrice = math.Min(p.BestPrice, bar.Low)
		p.WorstPrice = math.Max(p.WorstPrice, bar.High)
	}
	if keep <= 0 {
		return
	}
	p.recent = append(p.recent, span{high: bar.High, low: bar.Low})
	if len(p.recent) > keep {
		p.recent = p.recent[len(p.recent)-keep:]
	}
}

func (p *Position) recentRange() float64 {
	if len(p.recent) == 0 {
		return 0
	}
	hi, lo := p.recent[0].high, p.recent[0].low
	for _, s := range p.recent[1:] {
		hi = math.Max(hi, s.high)
		lo = math.Min(lo, s.low)
	}
	return hi - lo
}

func (p *Position) close(reason CloseReason, price float64, bar signal.Bar, index int) {
	p.Status = StatusClosed
	p.CloseReason = reason
	p.ClosePrice = price
	p.CloseIndex = index
	p.ClosedAt = bar.Ts
}

// Clone returns an independent copy, used to seed shadow tracking.
func (p *Position) Clone() *Position {
	c := *p
	c.recent = append([]span(nil), p.recent...)
	return &c
}

// RiskCash is the cash lost if volume entered at entry is stopped out at stop.
func RiskCash(entry, stop, volume, unitValue float64) float64 {
	if unitValue <= 0 {
		unitValue = 1
	}
	return math.Abs(entry-stop) * volume * unitValue
}

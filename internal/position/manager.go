package position

import (
	"sort"

	"barbot-go/internal/signal"
)

// ROIStep closes a position in profit once it has been open for at least Bars bars
// and its current result exceeds MinR.
type ROIStep struct {
	Bars int
	MinR float64
}

// TrailTier trails the stop Distance R behind the best price once MFE reaches MFE R.
type TrailTier struct {
	MFE      float64
	Distance float64
}

// Config holds the exit thresholds. A zero threshold disables its rule.
type Config struct {
	ROI              []ROIStep
	BreakevenTrigger float64 // MFE in R
	BreakevenOffset  float64 // R beyond entry, covers spread
	Tiers            []TrailTier
	GivebackMinMFE   float64 // peak MFE in R before give-back is armed
	GivebackRetain   float64 // close when current R <= retain * MFE
	DeadfishBars     int
	DeadfishRange    float64 // close when the high-low range over DeadfishBars < this * R
	TimeStopBars     int
}

// DefaultConfig mirrors the stock exit profile.
func DefaultConfig() Config {
	return Config{
		ROI: []ROIStep{
			{Bars: 0, MinR: 3.0},
			{Bars: 24, MinR: 1.0},
			{Bars: 36, MinR: 0.25},
		},
		BreakevenTrigger: 0.5,
		BreakevenOffset:  0.05,
		Tiers: []TrailTier{
			{MFE: 3.0, Distance: 1.5},
			{MFE: 2.0, Distance: 1.2},
			{MFE: 1.5, Distance: 0.8},
			{MFE: 1.0, Distance: 0.5},
			{MFE: 0.5, Distance: 0.3},
		},
		GivebackMinMFE: 1.0,
		GivebackRetain: 0.2,
		DeadfishBars:   24,
		DeadfishRange:  0.5,
		TimeStopBars:   48,
	}
}

// Outcome reports what one bar did to a position.
type Outcome struct {
	Closed     bool
	Reason     CloseReason
	Price      float64
	StopBefore float64
	StopAfter  float64
	Breakeven  bool // break-even applied on this bar
	Tier       int  // trailing tier after this bar, 0 when not trailing
}

// StopMoved reports whether this bar tightened the stop.
func (o Outcome) StopMoved() bool { return o.StopAfter != o.StopBefore }

// Manager runs the exit cascade. It holds no per-position state, so the same
// Manager drives live positions and shadow positions.
type Manager struct {
	cfg Config
}

// NewManager sorts the ROI ladder by descending bars and the trailing tiers by
// descending MFE so lookups can stop at the first match.
func NewManager(cfg Config) *Manager {
	roi := append([]ROIStep(nil), cfg.ROI...)
	sort.SliceStable(roi, func(i, j int) bool { return roi[i].Bars > roi[j].Bars })
	tiers := append([]TrailTier(nil), cfg.Tiers...)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MFE > tiers[j].MFE })
	cfg.ROI = roi
	cfg.Tiers = tiers
	return &Manager{cfg: cfg}
}

// Config returns the normalized configuration.
func (m *Manager) Config() Config { return m.cfg }

// Update drives one bar through the cascade: intrabar stop/target, ROI ladder,
// break-even, trailing, give-back, deadfish, time-stop. The first exit wins.
// Stop changes made here only take effect from the next bar's intrabar check.
func (m *Manager) Update(p *Position, bar signal.Bar, index int) Outcome {
	out := Outcome{StopBefore: p.Stop, StopAfter: p.Stop, Tier: p.TrailingTier}
	if !p.IsOpen() {
		return out
	}
	p.observe(bar, m.cfg.DeadfishBars)

	if reason, price, hit := m.intrabar(p, bar); hit {
		return m.finish(p, out, reason, price, bar, index)
	}
	if m.roiHit(p) {
		return m.finish(p, out, CloseROI, bar.Close, bar, index)
	}

	out.Breakeven = m.breakeven(p)
	m.trail(p)
	out.StopAfter = p.Stop
	out.Tier = p.TrailingTier

	if m.givebackHit(p) {
		return m.finish(p, out, CloseGiveback, bar.Close, bar, index)
	}
	if m.deadfishHit(p) {
		return m.finish(p, out, CloseDeadfish, bar.Close, bar, index)
	}
	if m.cfg.TimeStopBars > 0 && p.BarsOpen > m.cfg.TimeStopBars {
		return m.finish(p, out, CloseTimeStop, bar.Close, bar, index)
	}
	return out
}

func (m *Manager) finish(p *Position, out Outcome, reason CloseReason, price float64, bar signal.Bar, index int) Outcome {
	p.close(reason, price, bar, index)
	out.Closed = true
	out.Reason = reason
	out.Price = price
	return out
}

// intrabar resolves stop and target against the bar range. When both are inside
// the range the stop wins. A bar that opens through a level fills at the open.
func (m *Manager) intrabar(p *Position, bar signal.Bar) (CloseReason, float64, bool) {
	if p.Side == signal.Long {
		if bar.Low <= p.Stop {
			if bar.Open < p.Stop {
				return CloseStop, bar.Open, true
			}
			return CloseStop, p.Stop, true
		}
		if p.Target > 0 && bar.High >= p.Target {
			if bar.Open > p.Target {
				return CloseTarget, bar.Open, true
			}
			return CloseTarget, p.Target, true
		}
		return CloseNone, 0, false
	}

	if bar.High >= p.Stop {
		if bar.Open > p.Stop {
			return CloseStop, bar.Open, true
		}
		return CloseStop, p.Stop, true
	}
	if p.Target > 0 && bar.Low <= p.Target {
		if bar.Open < p.Target {
			return CloseTarget, bar.Open, true
		}
		return CloseTarget, p.Target, true
	}
	return CloseNone, 0, false
}

func (m *Manager) roiHit(p *Position) bool {
	for _, step := range m.cfg.ROI {
		if p.BarsOpen >= step.Bars {
			return p.CurrentR() > step.MinR
		}
	}
	return false
}

func (m *Manager) breakeven(p *Position) bool {
	if m.cfg.BreakevenTrigger <= 0 || p.BreakevenSet || p.MFE() < m.cfg.BreakevenTrigger {
		return false
	}
	p.BreakevenSet = true
	level := p.Entry + p.Side.Sign()*m.cfg.BreakevenOffset*p.R()
	return p.tighten(level)
}

func (m *Manager) trail(p *Position) {
	mfe := p.MFE()
	for i, tier := range m.cfg.Tiers {
		if mfe < tier.MFE {
			continue
		}
		candidate := p.BestPrice - p.Side.Sign()*tier.Distance*p.R()
		if p.tighten(candidate) {
			p.TrailingTier = i + 1
		}
		return
	}
}

func (m *Manager) givebackHit(p *Position) bool {
	if m.cfg.GivebackMinMFE <= 0 {
		return false
	}
	mfe := p.MFE()
	return mfe >= m.cfg.GivebackMinMFE && p.CurrentR() <= m.cfg.GivebackRetain*mfe
}

func (m *Manager) deadfishHit(p *Position) bool {
	if m.cfg.DeadfishBars <= 0 || p.BarsOpen < m.cfg.DeadfishBars {
		return false
	}
	return p.recentRange() < m.cfg.DeadfishRange*p.R()
}

package position

import (
	"time"

	"barbot-go/internal/signal"
)

// Origin says why a shadow was started.
type Origin string

const (
	OriginRejected Origin = "rejected"
	OriginGiveback Origin = "giveback"
	OriginDeadfish Origin = "deadfish"
)

// Verdict grades a resolved shadow.
type Verdict string

const (
	VerdictGoodReject      Verdict = "good_reject"
	VerdictMissedGain      Verdict = "missed_gain"
	VerdictGoodExit        Verdict = "good_exit"
	VerdictPrematureExit   Verdict = "premature_exit"
	VerdictTimeoutPositive Verdict = "timeout_positive"
	VerdictTimeoutNegative Verdict = "timeout_negative"
)

// ShadowOutcome is the resolved hypothetical result of a rejected candidate or an early exit.
type ShadowOutcome struct {
	SignalID    string      `json:"signal_id"`
	PositionID  string      `json:"position_id,omitempty"`
	Instrument  string      `json:"instrument"`
	Side        signal.Side `json:"side"`
	Origin      Origin      `json:"origin"`
	Detail      string      `json:"detail,omitempty"`
	ReferenceR  float64     `json:"reference_r"` // 0 for rejections, the realized R for early exits
	ResultR     float64     `json:"result_r"`
	CloseReason CloseReason `json:"close_reason"`
	BarsTracked int         `json:"bars_tracked"`
	Verdict     Verdict     `json:"verdict"`
}

type shadowEntry struct {
	pos       *Position
	origin    Origin
	detail    string
	reference float64
	bars      int
}

// Shadow simulates positions on paper-only state. Rejections run through the full
// cascade; early exits keep running with give-back and deadfish disabled so the
// held-to-stop alternative can be compared with what was realized.
type Shadow struct {
	full     *Manager
	hold     *Manager
	maxBars  int
	active   map[string][]*shadowEntry
	resolved []ShadowOutcome
}

// NewShadow builds a tracker that resolves every shadow after at most maxBars bars.
func NewShadow(cfg Config, maxBars int) *Shadow {
	hold := cfg
	hold.GivebackMinMFE = 0
	hold.DeadfishBars = 0
	return &Shadow{
		full:    NewManager(cfg),
		hold:    NewManager(hold),
		maxBars: maxBars,
		active:  make(map[string][]*shadowEntry),
	}
}

// TrackRejection starts a paper position for a rejected candidate.
func (s *Shadow) TrackRejection(p *Position, detail string) {
	s.add(&shadowEntry{pos: p, origin: OriginRejected, detail: detail})
}

// TrackExit keeps following a position that closed early. The shadow restarts from
// the closed position's state with its stop and target intact.
func (s *Shadow) TrackExit(closed *Position) {
	var origin Origin
	switch closed.CloseReason {
	case CloseGiveback:
		origin = OriginGiveback
	case CloseDeadfish:
		origin = OriginDeadfish
	default:
		return
	}
	p := closed.Clone()
	p.Status = StatusOpen
	p.CloseReason = CloseNone
	p.ClosePrice = 0
	p.CloseIndex = 0
	p.ClosedAt = time.Time{}
	p.ID = closed.ID + "/shadow"
	s.add(&shadowEntry{pos: p, origin: origin, reference: closed.ResultR(), detail: closed.CloseReason.String()})
}

func (s *Shadow) add(e *shadowEntry) {
	s.active[e.pos.Instrument] = append(s.active[e.pos.Instrument], e)
}

// Update advances every shadow on the bar's instrument and returns the ones resolved by it.
func (s *Shadow) Update(bar signal.Bar, index int) []ShadowOutcome {
	entries := s.active[bar.Instrument]
	if len(entries) == 0 {
		return nil
	}
	var done []ShadowOutcome
	keep := entries[:0]
	for _, e := range entries {
		mgr := s.full
		if e.origin != OriginRejected {
			mgr = s.hold
		}
		mgr.Update(e.pos, bar, index)
		e.bars++
		switch {
		case !e.pos.IsOpen():
			done = append(done, e.outcome(false))
		case s.maxBars > 0 && e.bars >= s.maxBars:
			done = append(done, e.outcome(true))
		default:
			keep = append(keep, e)
		}
	}
	if len(keep) == 0 {
		delete(s.active, bar.Instrument)
	} else {
		s.active[bar.Instrument] = keep
	}
	s.resolved = append(s.resolved, done...)
	return done
}

// Pending returns the number of shadows still being tracked.
func (s *Shadow) Pending() int {
	n := 0
	for _, entries := range s.active {
		n += len(entries)
	}
	return n
}

// Resolved returns every outcome so far.
func (s *Shadow) Resolved() []ShadowOutcome {
	out := make([]ShadowOutcome, len(s.resolved))
	copy(out, s.resolved)
	return out
}

func (e *shadowEntry) outcome(timeout bool) ShadowOutcome {
	result := e.pos.ResultR()
	better := result > e.reference
	var v Verdict
	switch {
	case timeout && better:
		v = VerdictTimeoutPositive
	case timeout:
		v = VerdictTimeoutNegative
	case e.origin == OriginRejected && better:
		v = VerdictMissedGain
	case e.origin == OriginRejected:
		v = VerdictGoodReject
	case better:
		v = VerdictPrematureExit
	default:
		v = VerdictGoodExit
	}
	return ShadowOutcome{
		SignalID:    e.pos.SignalID,
		PositionID:  e.pos.ID,
		Instrument:  e.pos.Instrument,
		Side:        e.pos.Side,
		Origin:      e.origin,
		Detail:      e.detail,
		ReferenceR:  e.reference,
		ResultR:     result,
		CloseReason: e.pos.CloseReason,
		BarsTracked: e.bars,
		Verdict:     v,
	}
}

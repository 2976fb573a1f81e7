package engine

import (
	"time"

	"barbot-go/internal/signal"
)

// instrumentState is the per-instrument mutable state: rolling window, pending
// FIFO and seen anchors. Nothing in it is shared across instruments.
type instrumentState struct {
	bars    []signal.Bar
	count   int // bars ever pushed; absolute index of the next bar
	lastTs  time.Time
	pending []signal.Signal
	seen    map[int64]struct{}
}

func newInstrumentState() *instrumentState {
	return &instrumentState{seen: make(map[int64]struct{})}
}

// push appends bar, evicting the oldest bar beyond capacity, and returns its absolute index.
func (s *instrumentState) push(bar signal.Bar, capacity int) int {
	if len(s.bars) >= capacity {
		copy(s.bars, s.bars[1:])
		s.bars = s.bars[:len(s.bars)-1]
	}
	s.bars = append(s.bars, bar)
	index := s.count
	s.count++
	s.lastTs = bar.Ts
	return index
}

// window returns a copy so sources cannot mutate engine state.
func (s *instrumentState) window() signal.Window {
	bars := make([]signal.Bar, len(s.bars))
	copy(bars, s.bars)
	return signal.Window{Bars: bars, Offset: s.count - len(s.bars)}
}

// markSeen records an anchor and reports whether it was new.
func (s *instrumentState) markSeen(anchor time.Time) bool {
	key := anchor.UnixNano()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

// drain hands over the pending FIFO.
func (s *instrumentState) drain() []signal.Signal {
	out := s.pending
	s.pending = nil
	return out
}

// Package exchange hosts bar sources: historical loaders, merged replay streams
// and the live kline websocket.
package exchange

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"barbot-go/internal/signal"
)

const (
	// ProviderCSV replays bars from per-instrument CSV files.
	ProviderCSV = "csv"
	// ProviderClickHouse replays bars from a ClickHouse candles table.
	ProviderClickHouse = "clickhouse"
	// ProviderBinance streams closed klines from Binance public websockets.
	ProviderBinance = "binance"
)

// Merge orders bars from several instruments by (Ts, Instrument). The sort is
// stable, so each instrument's own order is preserved for the engine to check.
func Merge(sets ...[]signal.Bar) []signal.Bar {
	n := 0
	for _, s := range sets {
		n += len(s)
	}
	out := make([]signal.Bar, 0, n)
	for _, s := range sets {
		out = append(out, s...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Ts.Equal(out[j].Ts) {
			return out[i].Ts.Before(out[j].Ts)
		}
		return out[i].Instrument < out[j].Instrument
	})
	return out
}

// SliceStream replays an in-memory, already ordered bar slice.
type SliceStream struct {
	bars []signal.Bar
	pos  int
}

// NewSliceStream wraps bars without copying them.
func NewSliceStream(bars []signal.Bar) *SliceStream {
	return &SliceStream{bars: bars}
}

// Next returns the next bar or io.EOF.
func (s *SliceStream) Next(ctx context.Context) (signal.Bar, error) {
	if err := ctx.Err(); err != nil {
		return signal.Bar{}, err
	}
	if s.pos >= len(s.bars) {
		return signal.Bar{}, io.EOF
	}
	b := s.bars[s.pos]
	s.pos++
	return b, nil
}

// Remaining reports how many bars are left.
func (s *SliceStream) Remaining() int { return len(s.bars) - s.pos }

// ReplayStream paces a SliceStream so paper runs look like a live session.
type ReplayStream struct {
	inner *SliceStream
	delay time.Duration
	first bool
}

// Option configures ReplayStream construction.
type Option func(*ReplayStream)

// WithDelay sets the pause between bars. Zero replays as fast as possible.
func WithDelay(d time.Duration) Option {
	return func(r *ReplayStream) {
		if d >= 0 {
			r.delay = d
		}
	}
}

// NewReplayStream wraps ordered bars with pacing.
func NewReplayStream(bars []signal.Bar, opts ...Option) *ReplayStream {
	r := &ReplayStream{inner: NewSliceStream(bars), first: true}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next waits out the delay, then returns the next bar. A cancelled context
// interrupts the wait.
func (r *ReplayStream) Next(ctx context.Context) (signal.Bar, error) {
	if r.delay > 0 && !r.first && r.inner.Remaining() > 0 {
		timer := time.NewTimer(r.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return signal.Bar{}, ctx.Err()
		case <-timer.C:
		}
	}
	r.first = false
	return r.inner.Next(ctx)
}

// normalizeInstruments trims, upper-cases, dedups and sorts instrument names.
func normalizeInstruments(instruments []string) []string {
	unique := make(map[string]struct{}, len(instruments))
	for _, in := range instruments {
		in = strings.ToUpper(strings.TrimSpace(in))
		if in == "" {
			continue
		}
		unique[in] = struct{}{}
	}
	out := make([]string, 0, len(unique))
	for in := range unique {
		out = append(out, in)
	}
	sort.Strings(out)
	return out
}

// BarStream is the pull contract shared by every stream in this package.
type BarStream interface {
	Next(ctx context.Context) (signal.Bar, error)
}

// ResumeStream drops bars at or before the last bar already seen for their
// instrument. A live stream can then follow a warmup history without
// tripping duplicate or out-of-order checks.
type ResumeStream struct {
	inner BarStream
	last  map[string]time.Time
}

// NewResumeStream records the newest timestamp per instrument in history.
func NewResumeStream(inner BarStream, history []signal.Bar) *ResumeStream {
	last := make(map[string]time.Time)
	for _, b := range history {
		if b.Ts.After(last[b.Instrument]) {
			last[b.Instrument] = b.Ts
		}
	}
	return &ResumeStream{inner: inner, last: last}
}

// Next returns the next bar newer than the history for its instrument.
func (r *ResumeStream) Next(ctx context.Context) (signal.Bar, error) {
	for {
		bar, err := r.inner.Next(ctx)
		if err != nil {
			return bar, err
		}
		if cutoff, ok := r.last[bar.Instrument]; ok && !bar.Ts.After(cutoff) {
			continue
		}
		return bar, nil
	}
}

// Tail keeps at most n of the newest bars per instrument, preserving order.
func Tail(bars []signal.Bar, n int) []signal.Bar {
	if n <= 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, b := range bars {
		counts[b.Instrument]++
	}
	out := make([]signal.Bar, 0, min(len(bars), n*len(counts)))
	for _, b := range bars {
		if counts[b.Instrument] <= n {
			out = append(out, b)
		}
		counts[b.Instrument]--
	}
	return out
}

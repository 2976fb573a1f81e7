package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"barbot-go/internal/metrics"
	"barbot-go/internal/signal"
)

const defaultBinanceBaseURL = "wss://stream.binance.com:9443"

type binanceEnvelope struct {
	Stream string           `json:"stream"`
	Data   binanceKlineData `json:"data"`
}

type binanceKlineData struct {
	Symbol string       `json:"s"`
	Kline  binanceKline `json:"k"`
}

type binanceKline struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	Closed    bool   `json:"x"`
}

// KlineStream turns Binance kline pushes into closed bars in (Ts, Instrument)
// order. Bars sharing an open time are held until every instrument reported or
// the grace period ran out; a bar arriving after its time was flushed is dropped.
type KlineStream struct {
	baseURL     string
	instruments []string
	interval    string
	grace       time.Duration
	log         zerolog.Logger

	out   chan signal.Bar
	errc  chan error
	start sync.Once
}

// KlineOption configures KlineStream construction.
type KlineOption func(*KlineStream)

// WithBaseURL points the stream at another websocket host (tests, testnet).
func WithBaseURL(u string) KlineOption {
	return func(s *KlineStream) {
		if u != "" {
			s.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithGrace sets how long a partial batch waits for missing instruments.
func WithGrace(d time.Duration) KlineOption {
	return func(s *KlineStream) {
		if d > 0 {
			s.grace = d
		}
	}
}

// NewKlineStream subscribes to <instrument>@kline_<interval> for every instrument.
func NewKlineStream(instruments []string, interval string, log zerolog.Logger, opts ...KlineOption) *KlineStream {
	if interval == "" {
		interval = "1h"
	}
	s := &KlineStream{
		baseURL:     defaultBinanceBaseURL,
		instruments: normalizeInstruments(instruments),
		interval:    interval,
		grace:       5 * time.Second,
		log:         log.With().Str("provider", ProviderBinance).Logger(),
		out:         make(chan signal.Bar, 64),
		errc:        make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next blocks until the next closed bar. The first call starts the connection
// under ctx, so later calls should share that context.
func (s *KlineStream) Next(ctx context.Context) (signal.Bar, error) {
	s.start.Do(func() {
		go func() {
			if err := s.run(ctx); err != nil {
				s.errc <- err
			}
		}()
	})
	select {
	case b := <-s.out:
		return b, nil
	case err := <-s.errc:
		return signal.Bar{}, err
	case <-ctx.Done():
		return signal.Bar{}, ctx.Err()
	}
}

func (s *KlineStream) url() string {
	streams := make([]string, len(s.instruments))
	for i, in := range s.instruments {
		streams[i] = strings.ToLower(in) + "@kline_" + s.interval
	}
	return fmt.Sprintf("%s/stream?streams=%s", s.baseURL, strings.Join(streams, "/"))
}

func (s *KlineStream) run(ctx context.Context) error {
	if len(s.instruments) == 0 {
		return fmt.Errorf("binance kline stream requires at least one instrument")
	}
	url := s.url()
	b := newBatcher(len(s.instruments), s.grace)
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.consume(ctx, url, b)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.FeedEventsTotal.WithLabelValues(ProviderBinance, "reconnect").Inc()
		s.log.Warn().Err(err).Dur("backoff", backoff).Msg("kline feed disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
	}
}

func (s *KlineStream) consume(ctx context.Context, url string, b *batcher) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.log.Info().Strs("instruments", s.instruments).Str("interval", s.interval).Msg("connected kline feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.log.Warn().Err(err).Msg("kline ping failed")
					return
				}
			case <-connCtx.Done():
				return
			}
		}
	}()

	raw := make(chan signal.Bar, 16)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(90 * time.Second))
			bar, ok, err := decodeKline(message)
			if err != nil {
				s.log.Warn().Err(err).Msg("failed to decode kline message")
				continue
			}
			if !ok {
				continue
			}
			select {
			case raw <- bar:
			case <-connCtx.Done():
				return
			}
		}
	}()

	tick := time.NewTicker(s.grace / 2)
	defer tick.Stop()
	for {
		var ready []signal.Bar
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case bar := <-raw:
			var late bool
			ready, late = b.add(bar, time.Now())
			if late {
				metrics.FeedEventsTotal.WithLabelValues(ProviderBinance, "late").Inc()
				s.log.Warn().Str("instrument", bar.Instrument).Time("ts", bar.Ts).Msg("late kline dropped")
			}
		case now := <-tick.C:
			ready = b.expire(now)
		}
		for _, bar := range ready {
			select {
			case s.out <- bar:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// decodeKline parses one combined-stream message. ok is false for klines that
// are still forming.
func decodeKline(message []byte) (signal.Bar, bool, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return signal.Bar{}, false, err
	}
	k := env.Data.Kline
	if !k.Closed {
		return signal.Bar{}, false, nil
	}
	symbol := k.Symbol
	if symbol == "" {
		symbol = parseBinanceSymbol(env.Stream)
	}
	var vals [5]float64
	for i, raw := range []string{k.Open, k.High, k.Low, k.Close, k.Volume} {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return signal.Bar{}, false, fmt.Errorf("kline %s field %d: %w", symbol, i, err)
		}
		vals[i] = v
	}
	bar := signal.Bar{
		Instrument: strings.ToUpper(symbol),
		Ts:         time.UnixMilli(k.OpenTime).UTC(),
		Open:       vals[0],
		High:       vals[1],
		Low:        vals[2],
		Close:      vals[3],
		Volume:     vals[4],
	}
	if err := bar.Validate(); err != nil {
		return signal.Bar{}, false, err
	}
	return bar, true, nil
}

func parseBinanceSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	if len(parts) == 0 || parts[0] == "" {
		return strings.ToUpper(stream)
	}
	return strings.ToUpper(parts[0])
}

type batch struct {
	bars  map[string]signal.Bar
	first time.Time
}

// batcher groups closed bars by open time and releases them in global order.
type batcher struct {
	expect  int
	grace   time.Duration
	pending map[time.Time]*batch
	last    time.Time
}

func newBatcher(expect int, grace time.Duration) *batcher {
	return &batcher{expect: expect, grace: grace, pending: make(map[time.Time]*batch)}
}

// add buffers bar and returns whatever became releasable. late reports a bar
// whose time was already released.
func (b *batcher) add(bar signal.Bar, now time.Time) (ready []signal.Bar, late bool) {
	if !b.last.IsZero() && !bar.Ts.After(b.last) {
		return nil, true
	}
	bt, ok := b.pending[bar.Ts]
	if !ok {
		bt = &batch{bars: make(map[string]signal.Bar), first: now}
		b.pending[bar.Ts] = bt
	}
	bt.bars[bar.Instrument] = bar
	if len(bt.bars) < b.expect {
		return nil, false
	}
	return b.release(bar.Ts), false
}

// expire releases every batch up to the newest one whose grace ran out.
func (b *batcher) expire(now time.Time) []signal.Bar {
	var cutoff time.Time
	for ts, bt := range b.pending {
		if now.Sub(bt.first) >= b.grace && ts.After(cutoff) {
			cutoff = ts
		}
	}
	if cutoff.IsZero() {
		return nil
	}
	return b.release(cutoff)
}

func (b *batcher) release(upTo time.Time) []signal.Bar {
	var times []time.Time
	for ts := range b.pending {
		if !ts.After(upTo) {
			times = append(times, ts)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	var out []signal.Bar
	for _, ts := range times {
		bt := b.pending[ts]
		start := len(out)
		for _, bar := range bt.bars {
			out = append(out, bar)
		}
		group := out[start:]
		sort.Slice(group, func(i, j int) bool { return group[i].Instrument < group[j].Instrument })
		delete(b.pending, ts)
	}
	b.last = upTo
	return out
}

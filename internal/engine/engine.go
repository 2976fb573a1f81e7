// Package engine replays a globally ordered bar stream through signal generation,
// admission guards, the broker and the position lifecycle. Backtest, replay and
// live runs share this loop; only the Stream and the Broker differ.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"barbot-go/internal/execution"
	"barbot-go/internal/metrics"
	"barbot-go/internal/position"
	"barbot-go/internal/risk"
	"barbot-go/internal/signal"

	"github.com/rs/zerolog"
)

// Stream yields bars in global (Ts, Instrument) order and io.EOF when exhausted.
type Stream interface {
	Next(ctx context.Context) (signal.Bar, error)
}

// Recorder receives audit events. Implementations must not block for long.
type Recorder interface {
	RecordDecision(risk.Decision)
	RecordTrade(position.Trade)
	RecordShadow(position.ShadowOutcome)
}

// Journal persists seen signal anchors so a restarted live run does not re-fire them.
type Journal interface {
	MarkSeen(instrument string, anchor time.Time)
}

// Config tunes the loop. Zero values fall back to the defaults in withDefaults.
type Config struct {
	WindowSize      int
	StartBalance    float64
	FillSpread      float64 // absolute price added against the trade at fill
	FillSpreadPct   float64 // used when FillSpread is zero: fraction of the open
	FillSlippageATR float64 // fraction of signal ATR added against the trade at fill
	UnitValue       float64
	VolumeStep      float64
	BrokerTimeout   time.Duration
	ShadowBars      int
	Location        *time.Location // trading-day boundary
	SyncEquity      bool           // pull equity from the broker after each close
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 300
	}
	if c.UnitValue <= 0 {
		c.UnitValue = 1
	}
	if c.VolumeStep <= 0 {
		c.VolumeStep = 0.01
	}
	if c.BrokerTimeout <= 0 {
		c.BrokerTimeout = 10 * time.Second
	}
	if c.ShadowBars <= 0 {
		c.ShadowBars = 50
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Source   signal.Source
	Guards   *risk.Guards
	Exits    position.Config
	Broker   execution.Broker
	Recorder Recorder // optional
	Journal  Journal  // optional
	Logger   zerolog.Logger
}

// Engine is single-threaded: Process must not be called concurrently.
type Engine struct {
	cfg      Config
	source   signal.Source
	guards   *risk.Guards
	manager  *position.Manager
	shadow   *position.Shadow
	broker   execution.Broker
	recorder Recorder
	journal  Journal
	log      zerolog.Logger

	account     *risk.Account
	instruments map[string]*instrumentState
	positions   map[string]*position.Position
	trades      []position.Trade
	decisions   []risk.Decision
	nextID      int
	bars        int

	started        bool
	lastTs         time.Time
	lastInstrument string
}

// New wires an engine.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Source == nil {
		return nil, errors.New("engine: signal source is required")
	}
	if deps.Guards == nil {
		return nil, errors.New("engine: guards are required")
	}
	if deps.Broker == nil {
		return nil, errors.New("engine: broker is required")
	}
	cfg = cfg.withDefaults()
	if cfg.StartBalance <= 0 {
		return nil, fmt.Errorf("engine: start balance must be positive, got %v", cfg.StartBalance)
	}
	return &Engine{
		cfg:         cfg,
		source:      deps.Source,
		guards:      deps.Guards,
		manager:     position.NewManager(deps.Exits),
		shadow:      position.NewShadow(deps.Exits, cfg.ShadowBars),
		broker:      deps.Broker,
		recorder:    deps.Recorder,
		journal:     deps.Journal,
		log:         deps.Logger.With().Str("component", "engine").Logger(),
		account:     risk.NewAccount(cfg.StartBalance),
		instruments: make(map[string]*instrumentState),
		positions:   make(map[string]*position.Position),
	}, nil
}

// Account returns a snapshot of the account state.
func (e *Engine) Account() risk.AccountState { return e.account.Snapshot() }

// Run drains the stream until io.EOF or ctx cancellation. Cancellation is checked
// between events only and is not an error. Input errors abort the run; the partial
// Result is returned alongside them.
func (e *Engine) Run(ctx context.Context, stream Stream) (Result, error) {
	for {
		if ctx.Err() != nil {
			e.log.Info().Msg("stop requested, flushing")
			break
		}
		bar, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				e.log.Info().Msg("stop requested, flushing")
				break
			}
			return e.Result(), fmt.Errorf("read stream: %w", err)
		}
		if err := e.Process(ctx, bar); err != nil {
			return e.Result(), err
		}
	}
	return e.Result(), nil
}

// Process handles one bar close: validate and order, append to the window, execute
// pending signals at this bar's open, update positions, generate new signals.
func (e *Engine) Process(ctx context.Context, bar signal.Bar) error {
	if err := e.admit(bar); err != nil {
		return err
	}
	if e.account.RollDay(e.tradingDay(bar.Ts)) {
		e.log.Debug().Time("day", e.tradingDay(bar.Ts)).Msg("trading day rolled")
	}
	st := e.state(bar.Instrument)
	index := st.push(bar, e.cfg.WindowSize)
	e.bars++
	metrics.BarsTotal.WithLabelValues(bar.Instrument).Inc()

	if err := e.executePending(ctx, st, bar, index); err != nil {
		return err
	}
	if err := e.updatePositions(ctx, bar, index); err != nil {
		return err
	}
	return e.generate(st, bar, index, true)
}

// Seed warms instrument windows from history without trading. Anchors produced
// while seeding are marked seen so a restart does not act on them again.
func (e *Engine) Seed(bars []signal.Bar) error {
	for _, bar := range bars {
		if err := e.admit(bar); err != nil {
			return err
		}
		st := e.state(bar.Instrument)
		index := st.push(bar, e.cfg.WindowSize)
		if err := e.generate(st, bar, index, false); err != nil {
			return err
		}
	}
	return nil
}

// PrimeSeen loads anchors that were already handled by a previous run.
func (e *Engine) PrimeSeen(instrument string, anchors []time.Time) {
	st := e.state(instrument)
	for _, a := range anchors {
		st.seen[a.UnixNano()] = struct{}{}
	}
}

func (e *Engine) admit(bar signal.Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	if e.started {
		if bar.Ts.Before(e.lastTs) || (bar.Ts.Equal(e.lastTs) && bar.Instrument < e.lastInstrument) {
			return signal.NewInputError(signal.ErrOutOfOrder, bar.Instrument, bar.Ts,
				fmt.Sprintf("after %s %s", e.lastInstrument, e.lastTs.UTC().Format(time.RFC3339)))
		}
	}
	if st, ok := e.instruments[bar.Instrument]; ok && st.count > 0 {
		if bar.Ts.Equal(st.lastTs) {
			return signal.NewInputError(signal.ErrDuplicateBar, bar.Instrument, bar.Ts, "timestamp already processed")
		}
		if bar.Ts.Before(st.lastTs) {
			return signal.NewInputError(signal.ErrOutOfOrder, bar.Instrument, bar.Ts, "timestamp moved backwards")
		}
	}
	e.started = true
	e.lastTs = bar.Ts
	e.lastInstrument = bar.Instrument
	return nil
}

func (e *Engine) tradingDay(ts time.Time) time.Time {
	y, m, d := ts.In(e.cfg.Location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.cfg.Location)
}

func (e *Engine) state(instrument string) *instrumentState {
	st, ok := e.instruments[instrument]
	if !ok {
		st = newInstrumentState()
		e.instruments[instrument] = st
	}
	return st
}

// generate runs the source on the truncated window and queues fresh signals for
// the next bar of this instrument.
func (e *Engine) generate(st *instrumentState, bar signal.Bar, index int, enqueue bool) error {
	window := st.window()
	for _, sig := range e.source.Generate(window, bar.Instrument) {
		if sig.AnchorIndex > index {
			return signal.NewInputError(signal.ErrFutureSignal, bar.Instrument, bar.Ts,
				fmt.Sprintf("%s anchored at %d, last bar is %d", e.source.Name(), sig.AnchorIndex, index))
		}
		if sig.AnchorIndex < index {
			// Older anchors cannot be filled on the next bar without breaking the one-bar delay.
			e.log.Debug().Str("instrument", bar.Instrument).Int("anchor", sig.AnchorIndex).Int("index", index).Msg("stale signal dropped")
			continue
		}
		if sig.Instrument == "" {
			sig.Instrument = bar.Instrument
		}
		if sig.Instrument != bar.Instrument || !sig.Side.Valid() || sig.Stop <= 0 {
			return signal.NewInputError(signal.ErrBadSignal, bar.Instrument, bar.Ts,
				fmt.Sprintf("%s emitted %+v", e.source.Name(), sig))
		}
		if sig.AnchorTs.IsZero() {
			sig.AnchorTs = bar.Ts
		}
		if sig.AnchorPrice == 0 {
			sig.AnchorPrice = bar.Close
		}
		if sig.ID == "" {
			sig.ID = signal.SignalID(sig.Instrument, sig.AnchorTs, sig.Side)
		}
		if detail := malformed(sig); detail != "" {
			return signal.NewInputError(signal.ErrBadSignal, bar.Instrument, bar.Ts,
				fmt.Sprintf("%s emitted %s: %s", e.source.Name(), sig.ID, detail))
		}
		if !st.markSeen(sig.AnchorTs) {
			continue
		}
		if e.journal != nil {
			e.journal.MarkSeen(sig.Instrument, sig.AnchorTs)
		}
		if !enqueue {
			continue
		}
		st.pending = append(st.pending, sig)
		metrics.SignalsTotal.WithLabelValues(sig.Instrument, string(sig.Strategy)).Inc()
		e.log.Debug().Str("signal", sig.ID).Str("strategy", string(sig.Strategy)).Float64("stop", sig.Stop).Msg("signal queued")
	}
	return nil
}

// malformed reports why a signal cannot be traded as emitted, or "" if it can.
// The stop and target must sit on the correct side of the anchor price.
func malformed(sig signal.Signal) string {
	if sig.ATR <= 0 || math.IsNaN(sig.ATR) {
		return fmt.Sprintf("atr %g", sig.ATR)
	}
	dir := sig.Side.Sign()
	if (sig.AnchorPrice-sig.Stop)*dir <= 0 {
		return fmt.Sprintf("%s stop %g against anchor %g", sig.Side, sig.Stop, sig.AnchorPrice)
	}
	if sig.Target != 0 && (sig.Target-sig.AnchorPrice)*dir <= 0 {
		return fmt.Sprintf("%s target %g against anchor %g", sig.Side, sig.Target, sig.AnchorPrice)
	}
	return ""
}

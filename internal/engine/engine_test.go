package engine

import (
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"barbot-go/internal/execution"
	"barbot-go/internal/paper"
	"barbot-go/internal/position"
	"barbot-go/internal/risk"
	"barbot-go/internal/signal"

	"github.com/rs/zerolog"
)

var h0 = time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC)

type sliceStream struct {
	bars []signal.Bar
	i    int
}

func (s *sliceStream) Next(ctx context.Context) (signal.Bar, error) {
	if s.i >= len(s.bars) {
		return signal.Bar{}, io.EOF
	}
	b := s.bars[s.i]
	s.i++
	return b, nil
}

// scripted emits the signals registered for the window's newest bar.
type scripted struct {
	byIndex map[string]map[int][]signal.Signal
	calls   int
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Generate(w signal.Window, instrument string) []signal.Signal {
	s.calls++
	return s.byIndex[instrument][w.LastIndex()]
}

func script(instrument string, sigs ...signal.Signal) *scripted {
	m := map[int][]signal.Signal{}
	for _, sig := range sigs {
		m[sig.AnchorIndex] = append(m[sig.AnchorIndex], sig)
	}
	return &scripted{byIndex: map[string]map[int][]signal.Signal{instrument: m}}
}

func longAt(anchor int, stop float64) signal.Signal {
	return signal.Signal{Side: signal.Long, AnchorIndex: anchor, Stop: stop, ATR: 1, Strategy: signal.Trend}
}

func hourly(instrument string, i int, o, h, l, c float64) signal.Bar {
	return signal.Bar{Instrument: instrument, Ts: h0.Add(time.Duration(i) * time.Hour), Open: o, High: h, Low: l, Close: c, Volume: 10}
}

func testLimits() risk.Limits {
	return risk.Limits{
		MaxOpenPositions: 5,
		MaxOpenRisk:      0.05,
		MaxDailyDrawdown: 0.03,
		MaxTotalDrawdown: 0.08,
		MaxDailyTrades:   10,
	}
}

func testExits() position.Config {
	return position.Config{
		BreakevenTrigger: 1.0,
		BreakevenOffset:  0,
		Tiers:            []position.TrailTier{{MFE: 2.0, Distance: 1.0}},
		GivebackMinMFE:   5,
		GivebackRetain:   0.2,
		TimeStopBars:     100,
	}
}

type captured struct {
	decisions []risk.Decision
	trades    []position.Trade
	shadows   []position.ShadowOutcome
}

func (c *captured) RecordDecision(d risk.Decision) { c.decisions = append(c.decisions, d) }
func (c *captured) RecordTrade(t position.Trade) { c.trades = append(c.trades, t) }
func (c *captured) RecordShadow(s position.ShadowOutcome) { c.shadows = append(c.shadows, s) }

func newEngine(t *testing.T, src signal.Source, broker execution.Broker, rec Recorder) *Engine {
	t.Helper()
	if broker == nil {
		broker = paper.NewBroker(10_000, nil, zerolog.Nop())
	}
	eng, err := New(Config{StartBalance: 10_000, WindowSize: 10, BrokerTimeout: time.Second}, Deps{
		Source:   src,
		Guards:   risk.NewGuards(testLimits(), risk.SizingConfig{RiskPerTrade: 0.01, DailyBudgetShare: 1}),
		Exits:    testExits(),
		Broker:   broker,
		Recorder: rec,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

func TestFiveBarBreakevenScenario(t *testing.T) {
	bars := []signal.Bar{
		hourly("EURUSD", 0, 100, 100.5, 99.5, 100),
		hourly("EURUSD", 1, 100, 100.6, 99.8, 100.4),  // fill at 100
		hourly("EURUSD", 2, 100.4, 101.5, 100.2, 101.2), // MFE 1.5R, stop to 100
		hourly("EURUSD", 3, 101.2, 101.4, 100.5, 100.8),
		hourly("EURUSD", 4, 100.8, 100.9, 99.9, 100.1), // low 99.9 takes the break-even stop
	}
	rec := &captured{}
	eng := newEngine(t, script("EURUSD", longAt(0, 99)), nil, rec)

	res, err := eng.Run(context.Background(), &sliceStream{bars: bars})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("expected exactly one trade, got %d", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Entry != 100.0 || tr.InitialStop != 99.0 {
		t.Fatalf("unexpected entry/stop %v/%v", tr.Entry, tr.InitialStop)
	}
	if tr.CloseReason != position.CloseStop {
		t.Fatalf("expected exit_stop, got %s", tr.CloseReason)
	}
	if tr.Exit != 100.0 {
		t.Fatalf("expected exit at 100.0, got %v", tr.Exit)
	}
	if tr.ResultR != 0.0 {
		t.Fatalf("expected 0.0R, got %v", tr.ResultR)
	}
	if !tr.ClosedAt.Equal(bars[4].Ts) || tr.BarsOpen != 4 {
		t.Fatalf("expected close on bar 4 after 4 bars, got %s after %d", tr.ClosedAt, tr.BarsOpen)
	}
	if !tr.StopMoved || tr.FinalStop != 100.0 {
		t.Fatalf("expected break-even stop recorded, got %+v", tr)
	}
	if math.Abs(tr.MFE-1.5) > 1e-9 {
		t.Fatalf("expected MFE 1.5R, got %v", tr.MFE)
	}
	if res.Account.Equity != 10_000 || res.Account.OpenRisk != 0 {
		t.Fatalf("scratch trade must leave equity unchanged and release risk: %+v", res.Account)
	}
	if len(rec.trades) != 1 || len(rec.decisions) != 1 || !rec.decisions[0].Accepted {
		t.Fatalf("recorder missed events: %+v", rec)
	}
}

func TestFillsAtNextBarOpen(t *testing.T) {
	bars := []signal.Bar{
		hourly("GBPUSD", 0, 100, 100.5, 99.5, 100),
		hourly("GBPUSD", 1, 101, 101.5, 100.6, 101.2),
		hourly("GBPUSD", 2, 101.2, 101.6, 100.8, 101.3),
	}
	eng := newEngine(t, script("GBPUSD", longAt(0, 99)), nil, nil)
	res, err := eng.Run(context.Background(), &sliceStream{bars: bars})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Decisions) != 1 {
		t.Fatalf("expected one decision, got %d", len(res.Decisions))
	}
	d := res.Decisions[0]
	if d.BarIndex != d.AnchorIndex+1 {
		t.Fatalf("fill bar %d must follow anchor %d", d.BarIndex, d.AnchorIndex)
	}
	if d.FillEstimate != bars[1].Open || d.FillEstimate == bars[0].Close {
		t.Fatalf("fill %v must be the next open %v, not the anchor close", d.FillEstimate, bars[1].Open)
	}
	if len(res.OpenAtEnd) != 1 {
		t.Fatalf("expected the position to still be open")
	}
	p := res.OpenAtEnd[0]
	if p.Entry != 101 || p.InitialStop != 100 {
		t.Fatalf("stop must keep the 1.0 risk distance from the fill: entry %v stop %v", p.Entry, p.InitialStop)
	}
}

func TestOpenAtEndIsNotForceClosed(t *testing.T) {
	bars := []signal.Bar{
		hourly("EURUSD", 0, 100, 100.5, 99.5, 100),
		hourly("EURUSD", 1, 100, 100.4, 99.7, 100.2),
	}
	eng := newEngine(t, script("EURUSD", longAt(0, 99)), nil, nil)
	res, err := eng.Run(context.Background(), &sliceStream{bars: bars})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 0 || len(res.OpenAtEnd) != 1 {
		t.Fatalf("expected 0 trades and 1 open position, got %d/%d", len(res.Trades), len(res.OpenAtEnd))
	}
	if !res.OpenAtEnd[0].IsOpen() || res.Account.OpenRisk <= 0 {
		t.Fatalf("open position must keep its risk reserved")
	}
}

func TestDedupSeenAnchors(t *testing.T) {
	src := script("EURUSD", longAt(0, 99))
	eng := newEngine(t, src, nil, nil)
	bar := hourly("EURUSD", 0, 100, 100.5, 99.5, 100)
	if err := eng.admit(bar); err != nil {
		t.Fatalf("admit: %v", err)
	}
	st := eng.state("EURUSD")
	index := st.push(bar, 10)

	for i := 0; i < 2; i++ {
		if err := eng.generate(st, bar, index, true); err != nil {
			t.Fatalf("generate: %v", err)
		}
	}
	if len(st.pending) != 1 {
		t.Fatalf("expected one pending signal after regenerating the same window, got %d", len(st.pending))
	}
	if src.calls != 2 {
		t.Fatalf("source should have been asked twice")
	}
}

func TestPrimeSeenSuppressesReplayedAnchor(t *testing.T) {
	bars := []signal.Bar{
		hourly("EURUSD", 0, 100, 100.5, 99.5, 100),
		hourly("EURUSD", 1, 100, 100.4, 99.7, 100.2),
	}
	eng := newEngine(t, script("EURUSD", longAt(0, 99)), nil, nil)
	eng.PrimeSeen("EURUSD", []time.Time{bars[0].Ts})
	res, err := eng.Run(context.Background(), &sliceStream{bars: bars})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Decisions) != 0 {
		t.Fatalf("primed anchor must not be traded again")
	}
}

func TestSeedWarmsWithoutTrading(t *testing.T) {
	history := []signal.Bar{
		hourly("EURUSD", 0, 100, 100.5, 99.5, 100),
		hourly("EURUSD", 1, 100, 100.4, 99.7, 100.2),
	}
	eng := newEngine(t, script("EURUSD", longAt(0, 99), longAt(1, 99)), nil, nil)
	if err := eng.Seed(history); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	res, err := eng.Run(context.Background(), &sliceStream{bars: []signal.Bar{hourly("EURUSD", 2, 100.2, 100.6, 100, 100.4)}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Decisions) != 0 || res.Bars != 1 {
		t.Fatalf("seeded anchors must not trade: %+v", res.Decisions)
	}
	if w := eng.state("EURUSD").window(); w.Offset != 0 || w.LastIndex() != 2 {
		t.Fatalf("unexpected window after seed %d..%d", w.Offset, w.LastIndex())
	}
}

func TestInputErrorsAreFatal(t *testing.T) {
	tests := []struct {
		name string
		bars []signal.Bar
		want error
	}{
		{"backwards", []signal.Bar{hourly("EURUSD", 1, 1, 1, 1, 1), hourly("EURUSD", 0, 1, 1, 1, 1)}, signal.ErrOutOfOrder},
		{"duplicate", []signal.Bar{hourly("EURUSD", 0, 1, 1, 1, 1), hourly("EURUSD", 0, 1, 1, 1, 1)}, signal.ErrDuplicateBar},
		{"tie order", []signal.Bar{hourly("GBPUSD", 0, 1, 1, 1, 1), hourly("EURUSD", 0, 1, 1, 1, 1)}, signal.ErrOutOfOrder},
		{"bad bar", []signal.Bar{hourly("EURUSD", 0, 1, 0.5, 1, 1)}, signal.ErrMissingField},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			eng := newEngine(t, &scripted{}, nil, nil)
			_, err := eng.Run(context.Background(), &sliceStream{bars: tc.bars})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var ie *signal.InputError
			if !errors.As(err, &ie) {
				t.Fatalf("expected an InputError, got %T", err)
			}
		})
	}
}

func TestCrossInstrumentTiesAccepted(t *testing.T) {
	bars := []signal.Bar{
		hourly("EURUSD", 0, 1, 1, 1, 1),
		hourly("GBPUSD", 0, 1, 1, 1, 1),
		hourly("EURUSD", 1, 1, 1, 1, 1),
	}
	eng := newEngine(t, &scripted{}, nil, nil)
	res, err := eng.Run(context.Background(), &sliceStream{bars: bars})
	if err != nil || res.Bars != 3 {
		t.Fatalf("expected 3 bars processed, got %d (%v)", res.Bars, err)
	}
}

type futureSource struct{}

func (futureSource) Name() string { return "future" }

func (futureSource) Generate(w signal.Window, instrument string) []signal.Signal {
	return []signal.Signal{{Instrument: instrument, Side: signal.Long, AnchorIndex: w.LastIndex() + 1, Stop: 1}}
}

func TestFutureSignalIsFatal(t *testing.T) {
	eng := newEngine(t, futureSource{}, nil, nil)
	_, err := eng.Run(context.Background(), &sliceStream{bars: []signal.Bar{hourly("EURUSD", 0, 100, 101, 99, 100)}})
	if !errors.Is(err, signal.ErrFutureSignal) {
		t.Fatalf("expected future signal error, got %v", err)
	}
}

func TestMalformedSignalIsFatal(t *testing.T) {
	shortAt := func(stop float64) signal.Signal {
		s := longAt(0, stop)
		s.Side = signal.Short
		return s
	}
	withATR := func(s signal.Signal, atr float64) signal.Signal { s.ATR = atr; return s }
	withTarget := func(s signal.Signal, target float64) signal.Signal { s.Target = target; return s }

	tests := []struct {
		name string
		sig  signal.Signal
	}{
		{"long stop above close", longAt(0, 101)},
		{"long stop at close", longAt(0, 100)},
		{"short stop below close", shortAt(99)},
		{"zero atr", withATR(longAt(0, 99), 0)},
		{"negative atr", withATR(longAt(0, 99), -1)},
		{"long target below close", withTarget(longAt(0, 99), 99.5)},
		{"short target above close", withTarget(shortAt(101), 100.5)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := &captured{}
			eng := newEngine(t, script("GBPUSD", tc.sig), nil, rec)
			res, err := eng.Run(context.Background(), &sliceStream{bars: []signal.Bar{
				hourly("GBPUSD", 0, 100, 100.5, 99.5, 100),
				hourly("GBPUSD", 1, 101, 101.5, 100.6, 101.2),
			}})
			if !errors.Is(err, signal.ErrBadSignal) {
				t.Fatalf("expected bad signal error, got %v", err)
			}
			var ie *signal.InputError
			if !errors.As(err, &ie) {
				t.Fatalf("expected an InputError, got %T", err)
			}
			if len(rec.decisions) != 0 || len(res.OpenAtEnd) != 0 {
				t.Fatalf("a malformed signal must never reach the guards: %+v", rec.decisions)
			}
		})
	}
}

func TestWellFormedShortWithTargetIsQueued(t *testing.T) {
	sig := longAt(0, 101)
	sig.Side = signal.Short
	sig.Target = 98
	eng := newEngine(t, script("GBPUSD", sig), nil, nil)
	res, err := eng.Run(context.Background(), &sliceStream{bars: []signal.Bar{
		hourly("GBPUSD", 0, 100, 100.5, 99.5, 100),
		hourly("GBPUSD", 1, 100, 100.4, 99.6, 99.8),
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.OpenAtEnd) != 1 || res.OpenAtEnd[0].Side != signal.Short {
		t.Fatalf("expected one open short, got %+v", res.OpenAtEnd)
	}
}

func TestSlippageGuardIgnoresModelledSlip(t *testing.T) {
	limits := testLimits()
	limits.MaxSlippageATR = 0.1
	eng, err := New(Config{
		StartBalance:    10_000,
		BrokerTimeout:   time.Second,
		FillSpread:      0.05,
		FillSlippageATR: 0.5,
	}, Deps{
		Source: script("GBPUSD", longAt(0, 99)),
		Guards: risk.NewGuards(limits, risk.SizingConfig{RiskPerTrade: 0.01, DailyBudgetShare: 1}),
		Exits:  testExits(),
		Broker: paper.NewBroker(10_000, nil, zerolog.Nop()),
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := eng.Run(context.Background(), &sliceStream{bars: []signal.Bar{
		hourly("GBPUSD", 0, 100, 100.5, 99.5, 100),
		hourly("GBPUSD", 1, 100, 100.8, 99.8, 100.6),
	}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Decisions) != 1 || !res.Decisions[0].Accepted {
		t.Fatalf("expected acceptance with 0.05 ATR of spread, got %+v", res.Decisions)
	}
	if d := res.Decisions[0]; math.Abs(d.FillEstimate-100.55) > 1e-9 {
		t.Fatalf("fill must still carry spread and slippage, got %v", d.FillEstimate)
	}
}

type stuckBroker struct{ *paper.Broker }

func (b stuckBroker) PlaceOrder(ctx context.Context, req execution.OrderRequest) (execution.Fill, error) {
	<-ctx.Done()
	return execution.Fill{}, &execution.BrokerError{Kind: execution.KindTimeout, Broker: "stuck", Op: "place", Err: ctx.Err()}
}

func TestBrokerTimeoutBecomesRejection(t *testing.T) {
	broker := stuckBroker{paper.NewBroker(10_000, nil, zerolog.Nop())}
	eng, err := New(Config{StartBalance: 10_000, BrokerTimeout: 20 * time.Millisecond}, Deps{
		Source: script("EURUSD", longAt(0, 99)),
		Guards: risk.NewGuards(testLimits(), risk.SizingConfig{RiskPerTrade: 0.01}),
		Exits:  testExits(),
		Broker: broker,
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := eng.Run(context.Background(), &sliceStream{bars: []signal.Bar{
		hourly("EURUSD", 0, 100, 100.5, 99.5, 100),
		hourly("EURUSD", 1, 100, 100.4, 99.7, 100.2),
	}})
	if err != nil {
		t.Fatalf("broker failures must not abort the run: %v", err)
	}
	if len(res.Decisions) != 1 || res.Decisions[0].Accepted || res.Decisions[0].Reason != risk.RejectBrokerTimeout {
		t.Fatalf("expected a broker timeout rejection, got %+v", res.Decisions)
	}
	if len(res.OpenAtEnd) != 0 || res.Account.OpenRisk != 0 || res.Account.DailyTrades != 0 {
		t.Fatalf("a timed out order must leave no trace in the account: %+v", res.Account)
	}
	if res.ShadowPending != 1 {
		t.Fatalf("rejected candidate should be shadowed")
	}
}

func TestDuplicateInstrumentRejectedAndShadowed(t *testing.T) {
	bars := []signal.Bar{
		hourly("EURUSD", 0, 100, 100.5, 99.5, 100),
		hourly("EURUSD", 1, 100, 100.4, 99.7, 100.2),
		hourly("EURUSD", 2, 100.2, 100.5, 99.9, 100.3),
		hourly("EURUSD", 3, 100.3, 102.5, 100.1, 102.2),
	}
	rec := &captured{}
	eng := newEngine(t, script("EURUSD", longAt(0, 99), longAt(1, 99.2)), nil, rec)
	res, err := eng.Run(context.Background(), &sliceStream{bars: bars})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(res.Decisions))
	}
	if res.Decisions[1].Reason != risk.RejectDuplicateInstrument {
		t.Fatalf("second signal must be rejected as duplicate, got %s", res.Decisions[1].Reason)
	}
	if res.ShadowPending+len(res.Shadows) != 1 {
		t.Fatalf("expected the rejection to be shadowed")
	}
}

func TestDailyRollResetsTradeCount(t *testing.T) {
	day := func(d, hour int, o, h, l, c float64) signal.Bar {
		return signal.Bar{Instrument: "EURUSD", Ts: time.Date(2024, 4, d, hour, 0, 0, 0, time.UTC), Open: o, High: h, Low: l, Close: c, Volume: 1}
	}
	bars := []signal.Bar{
		day(2, 22, 100, 100.5, 99.5, 100),
		day(2, 23, 100, 100.4, 99.7, 100.2),
		day(3, 0, 100.2, 100.3, 98, 98.5),
	}
	eng := newEngine(t, script("EURUSD", longAt(0, 99)), nil, nil)
	res, err := eng.Run(context.Background(), &sliceStream{bars: bars})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("expected the stop to be hit on the new day")
	}
	if res.Account.DailyTrades != 0 {
		t.Fatalf("trade count must reset on the new day, got %d", res.Account.DailyTrades)
	}
	if res.Account.DailyStartBalance != 10_000 {
		t.Fatalf("daily start must be equity at the roll, got %v", res.Account.DailyStartBalance)
	}
}

type cancellingStream struct {
	sliceStream
	after  int
	cancel context.CancelFunc
}

func (s *cancellingStream) Next(ctx context.Context) (signal.Bar, error) {
	if s.i == s.after {
		s.cancel()
	}
	return s.sliceStream.Next(ctx)
}

func TestCancellationFlushesBetweenEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream := &cancellingStream{
		sliceStream: sliceStream{bars: []signal.Bar{
			hourly("EURUSD", 0, 100, 100.5, 99.5, 100),
			hourly("EURUSD", 1, 100, 100.4, 99.7, 100.2),
			hourly("EURUSD", 2, 100.2, 100.5, 99.9, 100.3),
		}},
		after:  2,
		cancel: cancel,
	}
	eng := newEngine(t, script("EURUSD", longAt(0, 99)), nil, nil)
	res, err := eng.Run(ctx, stream)
	if err != nil {
		t.Fatalf("cancellation is not an error: %v", err)
	}
	if res.Bars != 3 {
		t.Fatalf("the in-flight event completes before stopping, got %d bars", res.Bars)
	}
	if len(res.OpenAtEnd) != 1 {
		t.Fatalf("open positions survive cancellation")
	}
}

func TestZeroTradeRun(t *testing.T) {
	eng := newEngine(t, &scripted{}, nil, nil)
	res, err := eng.Run(context.Background(), &sliceStream{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Bars != 0 || len(res.Trades) != 0 || res.Account.Equity != 10_000 {
		t.Fatalf("unexpected empty result %+v", res)
	}
}

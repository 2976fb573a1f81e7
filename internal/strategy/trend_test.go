package strategy

import (
	"math"
	"testing"
	"time"

	"barbot-go/internal/signal"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) signal.Bar {
	return signal.Bar{Instrument: "EURUSD", Ts: t0.Add(time.Duration(i) * time.Hour), Open: o, High: h, Low: l, Close: c, Volume: 1000}
}

// squeezeRally is 40 flat bars followed by five rising closes.
func squeezeRally() []signal.Bar {
	var bars []signal.Bar
	for i := 0; i < 40; i++ {
		bars = append(bars, bar(i, 100, 100.5, 99.5, 100))
	}
	prev := 100.0
	for k := 1; k <= 5; k++ {
		c := 100 + float64(k)
		bars = append(bars, bar(len(bars), prev, c+0.5, c-1, c))
		prev = c
	}
	return bars
}

func TestTrendLongAfterSqueeze(t *testing.T) {
	bars := squeezeRally()
	sigs := NewTrend(DefaultParams()).Generate(signal.Window{Bars: bars}, "EURUSD")
	if len(sigs) != 1 {
		t.Fatalf("expected one signal, got %d", len(sigs))
	}
	s := sigs[0]
	if s.Side != signal.Long || s.Strategy != signal.Trend {
		t.Fatalf("unexpected signal %+v", s)
	}
	if s.Target != 0 || s.RR != 0 {
		t.Fatalf("trend signals carry no target, got %.4f rr %.4f", s.Target, s.RR)
	}
	wantATR := (9*1 + 5*1.5) / 14.0
	if math.Abs(s.ATR-wantATR) > 1e-9 {
		t.Fatalf("expected atr %.6f, got %.6f", wantATR, s.ATR)
	}
	if math.Abs(s.Stop-(105-1.5*wantATR)) > 1e-9 {
		t.Fatalf("unexpected stop %.6f", s.Stop)
	}
	if s.AnchorIndex != len(bars)-1 || !s.AnchorTs.Equal(bars[len(bars)-1].Ts) {
		t.Fatalf("signal not anchored on the newest bar: %+v", s)
	}
}

func TestTrendNeedsADX(t *testing.T) {
	p := DefaultParams()
	p.ADXTrendMin = 50
	if sigs := NewTrend(p).Generate(signal.Window{Bars: squeezeRally()}, "EURUSD"); len(sigs) != 0 {
		t.Fatalf("expected no signal below the adx floor, got %d", len(sigs))
	}
}

func TestTrendQuietOnFlatTape(t *testing.T) {
	bars := squeezeRally()[:40]
	if sigs := NewTrend(DefaultParams()).Generate(signal.Window{Bars: bars}, "EURUSD"); len(sigs) != 0 {
		t.Fatalf("expected no signal on flat bars, got %d", len(sigs))
	}
}

func TestCombinedPrefersTrend(t *testing.T) {
	src, err := Build("combined", DefaultParams())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	sigs := src.Generate(signal.Window{Bars: squeezeRally()}, "EURUSD")
	if len(sigs) == 0 || sigs[0].Strategy != signal.Trend {
		t.Fatalf("expected trend signal first, got %+v", sigs)
	}
	for _, s := range sigs[1:] {
		if s.Strategy != signal.MeanReversion {
			t.Fatalf("unexpected trailing signal %+v", s)
		}
	}
}

func TestSignalsNeverAnchorPastWindow(t *testing.T) {
	src, err := Build("combined", DefaultParams())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	bars := squeezeRally()
	for k := 1; k <= len(bars); k++ {
		w := signal.Window{Bars: bars[:k], Offset: 7}
		for _, s := range src.Generate(w, "EURUSD") {
			if s.AnchorIndex != w.LastIndex() || !s.AnchorTs.Equal(bars[k-1].Ts) {
				t.Fatalf("prefix %d produced signal anchored at %d (%s)", k, s.AnchorIndex, s.AnchorTs)
			}
			if s.AnchorPrice != bars[k-1].Close {
				t.Fatalf("prefix %d anchor price %.4f", k, s.AnchorPrice)
			}
		}
	}
}

func TestBuildRejectsUnknown(t *testing.T) {
	if _, err := Build("martingale", DefaultParams()); err == nil {
		t.Fatalf("expected error for unknown strategy")
	}
	for _, name := range []string{"mean_reversion", "trend", "breakout", "combined", ""} {
		if _, err := Build(name, DefaultParams()); err != nil {
			t.Fatalf("build %q: %v", name, err)
		}
	}
}

package strategy

import (
	"math"
	"testing"

	"barbot-go/internal/signal"
)

func channel(n int, last signal.Bar) []signal.Bar {
	bars := make([]signal.Bar, 0, n+1)
	for i := 0; i < n; i++ {
		bars = append(bars, bar(i, 100, 101, 99, 100))
	}
	last.Ts = bar(n, 1, 1, 1, 1).Ts
	last.Instrument = "EURUSD"
	last.Volume = 1000
	return append(bars, last)
}

func TestBreakoutLong(t *testing.T) {
	bars := channel(59, signal.Bar{Open: 100, High: 106, Low: 100, Close: 105})
	sigs := NewBreakout(DefaultParams()).Generate(signal.Window{Bars: bars, Offset: 100}, "EURUSD")
	if len(sigs) != 1 {
		t.Fatalf("expected one signal, got %d", len(sigs))
	}
	s := sigs[0]
	atr := (13*2 + 6) / 14.0
	if s.Side != signal.Long || s.AnchorIndex != 159 {
		t.Fatalf("unexpected signal %+v", s)
	}
	if math.Abs(s.Stop-(105-1.5*atr)) > 1e-9 || math.Abs(s.Target-(105+3*atr)) > 1e-9 {
		t.Fatalf("unexpected levels stop=%.4f target=%.4f", s.Stop, s.Target)
	}
	if math.Abs(s.RR-2) > 1e-9 {
		t.Fatalf("expected rr 2, got %.6f", s.RR)
	}
}

func TestBreakoutShort(t *testing.T) {
	bars := channel(59, signal.Bar{Open: 100, High: 100, Low: 93, Close: 94})
	sigs := NewBreakout(DefaultParams()).Generate(signal.Window{Bars: bars}, "EURUSD")
	if len(sigs) != 1 || sigs[0].Side != signal.Short {
		t.Fatalf("expected short signal, got %+v", sigs)
	}
	if sigs[0].Stop <= 94 || sigs[0].Target >= 94 {
		t.Fatalf("levels on wrong side: %+v", sigs[0])
	}
}

func TestBreakoutInsideChannel(t *testing.T) {
	bars := channel(59, signal.Bar{Open: 100, High: 101, Low: 99, Close: 100.5})
	if sigs := NewBreakout(DefaultParams()).Generate(signal.Window{Bars: bars}, "EURUSD"); len(sigs) != 0 {
		t.Fatalf("expected no signal inside the channel, got %d", len(sigs))
	}
	if sigs := NewBreakout(DefaultParams()).Generate(signal.Window{Bars: bars[:30]}, "EURUSD"); len(sigs) != 0 {
		t.Fatalf("expected no signal on a short window, got %d", len(sigs))
	}
}

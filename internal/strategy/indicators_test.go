package strategy

import (
	"math"
	"testing"

	"barbot-go/internal/signal"
)

func TestSMA(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4}, 2)
	if !math.IsNaN(got[0]) {
		t.Fatalf("expected NaN before warmup, got %v", got[0])
	}
	for i, want := range []float64{1.5, 2.5, 3.5} {
		if got[i+1] != want {
			t.Fatalf("sma[%d]=%v want %v", i+1, got[i+1], want)
		}
	}
}

func TestRSIAllGains(t *testing.T) {
	got := RSI([]float64{1, 2, 3, 4, 5, 6}, 3)
	if !math.IsNaN(got[2]) || got[5] != 100 {
		t.Fatalf("unexpected rsi %v", got)
	}
}

func TestATRConstantRange(t *testing.T) {
	bars := channel(20, signal.Bar{Open: 100, High: 101, Low: 99, Close: 100})
	got := ATR(bars, 14)
	if got[20] != 2 {
		t.Fatalf("expected atr 2, got %v", got[20])
	}
}

func TestDonchianExcludesCurrentBar(t *testing.T) {
	bars := channel(5, signal.Bar{Open: 100, High: 150, Low: 50, Close: 100})
	upper, lower := Donchian(bars, 5)
	if upper[5] != 101 || lower[5] != 99 {
		t.Fatalf("channel leaked the current bar: %v/%v", upper[5], lower[5])
	}
	if !math.IsNaN(upper[4]) {
		t.Fatalf("expected NaN before warmup")
	}
}

func TestPercentile(t *testing.T) {
	vals := []float64{5, 1, math.NaN(), 3, 2, 4}
	if got := percentile(vals, 50); got != 3 {
		t.Fatalf("median=%v", got)
	}
	if got := percentile(vals, 25); got != 2 {
		t.Fatalf("p25=%v", got)
	}
	if got := percentile(vals, 10); math.Abs(got-1.4) > 1e-12 {
		t.Fatalf("p10=%v", got)
	}
}

func TestADXFlatIsZero(t *testing.T) {
	bars := channel(40, signal.Bar{Open: 100, High: 101, Low: 99, Close: 100})
	got := ADX(bars, 14)
	if got[40] != 0 {
		t.Fatalf("expected zero adx on a flat tape, got %v", got[40])
	}
}

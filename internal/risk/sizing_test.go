package risk

import (
	"math"
	"testing"
)

func TestSizeFloorsVolume(t *testing.T) {
	cfg := SizingConfig{RiskPerTrade: 0.01}
	cand := testCandidate()
	cand.Stop = 97 // distance 3
	cand.VolumeStep = 1
	state := NewAccount(10_000).Snapshot()

	size := cfg.Size(cand, state, Limits{})
	// 100 / 3 = 33.33 -> 33 units, realized risk 99
	if size.Volume != 33 {
		t.Fatalf("expected 33 units, got %v", size.Volume)
	}
	if math.Abs(size.RiskCash-99) > 1e-9 {
		t.Fatalf("expected realized risk 99, got %v", size.RiskCash)
	}
	if size.RiskCash > cfg.RiskPerTrade*state.Balance {
		t.Fatalf("sizing must never exceed the nominal budget")
	}
}

func TestSizeCappedByRemainingDailyBudget(t *testing.T) {
	cfg := SizingConfig{RiskPerTrade: 0.01, DailyBudgetShare: 0.5}
	state := NewAccount(10_000).Snapshot()
	state.Equity = 9_950 // 50 lost today, 250 left of a 3% budget, half usable
	limits := Limits{MaxDailyDrawdown: 0.03}

	cand := testCandidate()
	cand.VolumeStep = 1
	size := cfg.Size(cand, state, limits)
	if size.RiskCash != 100 {
		t.Fatalf("expected nominal 100 (below 125 half-budget), got %v", size.RiskCash)
	}

	state.Equity = 9_760 // 60 left -> 30 usable
	size = cfg.Size(cand, state, limits)
	if size.RiskCash != 30 || size.Volume != 30 {
		t.Fatalf("expected daily budget cap of 30, got %+v", size)
	}
}

func TestSizeTaperReducesRisk(t *testing.T) {
	cfg := SizingConfig{RiskPerTrade: 0.01, TaperFloor: 0.1}
	limits := Limits{MaxTotalDrawdown: 0.08, TotalSafetyMargin: 0.01}
	state := NewAccount(10_000).Snapshot()
	state.Equity = 9_650 // 3.5% dd -> halfway to the 7% pause
	state.Balance = 10_000

	cand := testCandidate()
	cand.VolumeStep = 0.001
	size := cfg.Size(cand, state, limits)
	want := 100 * (1 - 0.5*0.9)
	if math.Abs(size.RiskCash-want) > 0.01 {
		t.Fatalf("expected tapered risk %.2f, got %.4f", want, size.RiskCash)
	}
}

func TestSizeZeroDistance(t *testing.T) {
	cand := testCandidate()
	cand.Stop = cand.FillEstimate
	size := testSizing().Size(cand, NewAccount(10_000).Snapshot(), Limits{})
	if size.Volume != 0 || size.RiskCash != 0 {
		t.Fatalf("expected zero sizing, got %+v", size)
	}
}

package position

import "testing"

func TestShadowRejectionMissedGain(t *testing.T) {
	s := NewShadow(Config{}, 10)
	s.TrackRejection(openLong(100, 99, 102), "max_positions")

	if got := s.Update(bar(1, 100, 101, 99.5, 100.8), 1); len(got) != 0 {
		t.Fatalf("unexpected resolution: %+v", got)
	}
	got := s.Update(bar(2, 100.8, 102.2, 100.5, 102), 2)
	if len(got) != 1 {
		t.Fatalf("expected one resolution, got %d", len(got))
	}
	if got[0].Verdict != VerdictMissedGain || got[0].ResultR != 2 || got[0].CloseReason != CloseTarget {
		t.Fatalf("unexpected outcome %+v", got[0])
	}
	if s.Pending() != 0 || len(s.Resolved()) != 1 {
		t.Fatalf("expected tracker to be drained")
	}
}

func TestShadowRejectionGoodReject(t *testing.T) {
	s := NewShadow(Config{}, 10)
	s.TrackRejection(openShort(100, 101, 97), "cooldown")
	got := s.Update(bar(1, 100, 101.4, 99.6, 101.2), 1)
	if len(got) != 1 || got[0].Verdict != VerdictGoodReject || got[0].Origin != OriginRejected {
		t.Fatalf("expected good reject, got %+v", got)
	}
}

func TestShadowTimeout(t *testing.T) {
	s := NewShadow(Config{}, 2)
	s.TrackRejection(openLong(100, 95, 0), "slippage_too_high")
	s.Update(bar(1, 100, 100.5, 99.5, 100.2), 1)
	got := s.Update(bar(2, 100.2, 100.6, 100, 100.4), 2)
	if len(got) != 1 || got[0].Verdict != VerdictTimeoutPositive || got[0].BarsTracked != 2 {
		t.Fatalf("expected positive timeout after 2 bars, got %+v", got)
	}
}

func TestShadowIgnoresOtherInstruments(t *testing.T) {
	s := NewShadow(Config{}, 5)
	s.TrackRejection(openLong(100, 99, 0), "")
	other := bar(1, 10, 11, 9, 10)
	other.Instrument = "GBPUSD"
	if got := s.Update(other, 1); got != nil || s.Pending() != 1 {
		t.Fatalf("shadow must only see its own instrument")
	}
}

func TestShadowEarlyExitPremature(t *testing.T) {
	cfg := Config{GivebackMinMFE: 1.0, GivebackRetain: 0.2}
	m := NewManager(cfg)
	p := openLong(100, 99, 103)
	m.Update(p, bar(1, 100, 101.5, 99.9, 101.2), 1)
	m.Update(p, bar(2, 101.2, 101.2, 99.5, 100.2), 2)
	if p.CloseReason != CloseGiveback {
		t.Fatalf("fixture expects a give-back exit, got %s", p.CloseReason)
	}

	s := NewShadow(cfg, 10)
	s.TrackExit(p)
	if s.Pending() != 1 {
		t.Fatalf("give-back exits must be shadowed")
	}
	got := s.Update(bar(3, 100.2, 103.5, 100.1, 103), 3)
	if len(got) != 1 {
		t.Fatalf("expected resolution at target")
	}
	if got[0].Verdict != VerdictPrematureExit || got[0].Origin != OriginGiveback {
		t.Fatalf("expected premature exit, got %+v", got[0])
	}
	if p.IsOpen() {
		t.Fatalf("shadow must not reopen the real position")
	}
}

func TestShadowSkipsOrdinaryExits(t *testing.T) {
	s := NewShadow(Config{}, 10)
	p := openLong(100, 99, 0)
	NewManager(Config{}).Update(p, bar(1, 100, 100, 98, 98.5), 1)
	s.TrackExit(p)
	if s.Pending() != 0 {
		t.Fatalf("stop exits are not shadowed")
	}
}

package risk

import "math"

// SizingConfig converts an accepted candidate into an order size.
type SizingConfig struct {
	RiskPerTrade     float64 // fraction of balance risked per trade
	DailyBudgetShare float64 // share of the remaining daily drawdown budget one trade may use
	TaperFloor       float64 // >0 enables linear risk reduction with total drawdown, floored at this ratio
}

// Sizing is the outcome of the sizing step. RiskCash is recomputed from the floored
// volume, so it never exceeds the budget that produced it.
type Sizing struct {
	RiskCash float64
	Volume   float64
	Distance float64
}

// Size computes risk cash and volume, always rounding volume down.
func (c SizingConfig) Size(cand Candidate, s AccountState, l Limits) Sizing {
	distance := math.Abs(cand.FillEstimate - cand.Stop)
	unit := cand.UnitValue
	if unit <= 0 {
		unit = 1
	}
	step := cand.VolumeStep
	if step <= 0 {
		step = 1
	}
	if distance <= 0 || s.Balance <= 0 {
		return Sizing{Distance: distance}
	}

	riskCash := c.RiskPerTrade * s.Balance * c.taper(s, l)
	if remaining, ok := c.remainingDaily(s, l); ok && remaining < riskCash {
		riskCash = remaining
	}
	if riskCash <= 0 {
		return Sizing{Distance: distance}
	}

	lots := math.Floor(riskCash/(distance*unit)/step) * step
	if lots <= 0 {
		return Sizing{Distance: distance}
	}
	return Sizing{
		RiskCash: lots * distance * unit,
		Volume:   lots,
		Distance: distance,
	}
}

func (c SizingConfig) taper(s AccountState, l Limits) float64 {
	if c.TaperFloor <= 0 || l.MaxTotalDrawdown <= 0 {
		return 1
	}
	pause := l.MaxTotalDrawdown - l.TotalSafetyMargin
	dd := s.TotalDrawdown()
	if dd <= 0 || pause <= 0 {
		return 1
	}
	return math.Max(c.TaperFloor, 1-(dd/pause)*(1-c.TaperFloor))
}

func (c SizingConfig) remainingDaily(s AccountState, l Limits) (float64, bool) {
	if l.MaxDailyDrawdown <= 0 {
		return 0, false
	}
	lost := math.Max(0, s.DailyStartBalance-s.Equity)
	remaining := math.Max(0, l.MaxDailyDrawdown*s.DailyStartBalance-lost)
	share := c.DailyBudgetShare
	if share <= 0 {
		share = 1
	}
	return remaining * share, true
}

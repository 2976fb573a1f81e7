package position

import (
	"time"

	"barbot-go/internal/signal"
)

// Trade is the export record of a closed position.
type Trade struct {
	PositionID  string             `json:"position_id"`
	SignalID    string             `json:"signal_id"`
	Instrument  string             `json:"instrument"`
	Side        signal.Side        `json:"side"`
	Strategy    signal.StrategyTag `json:"strategy"`
	Entry       float64            `json:"entry"`
	InitialStop float64            `json:"initial_stop"`
	FinalStop   float64            `json:"final_stop"`
	Exit        float64            `json:"exit"`
	ResultR     float64            `json:"result_r"`
	RiskCash    float64            `json:"risk_cash"`
	Volume      float64            `json:"volume"`
	PnL         float64            `json:"pnl"`
	CloseReason CloseReason        `json:"close_reason"`
	StopMoved   bool               `json:"stop_moved"`
	BarsOpen    int                `json:"bars_open"`
	MFE         float64            `json:"mfe_r"`
	MAE         float64            `json:"mae_r"`
	OpenedAt    time.Time          `json:"opened_at"`
	ClosedAt    time.Time          `json:"closed_at"`
}

// Win reports a strictly positive result. Stop exits after break-even or trailing
// are classified by result, not by reason.
func (t Trade) Win() bool { return t.ResultR > 0 }

// Export converts a closed position into a trade record.
func (p *Position) Export() Trade {
	return Trade{
		PositionID:  p.ID,
		SignalID:    p.SignalID,
		Instrument:  p.Instrument,
		Side:        p.Side,
		Strategy:    p.Strategy,
		Entry:       p.Entry,
		InitialStop: p.InitialStop,
		FinalStop:   p.Stop,
		Exit:        p.ClosePrice,
		ResultR:     p.ResultR(),
		RiskCash:    p.RiskCash,
		Volume:      p.Volume,
		PnL:         p.PnL(),
		CloseReason: p.CloseReason,
		StopMoved:   p.StopMoved(),
		BarsOpen:    p.BarsOpen,
		MFE:         p.MFE(),
		MAE:         p.MAE(),
		OpenedAt:    p.OpenedAt,
		ClosedAt:    p.ClosedAt,
	}
}

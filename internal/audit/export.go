package audit

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"barbot-go/internal/position"
)

var tradeHeader = []string{
	"position_id", "instrument", "side", "strategy", "entry", "initial_stop", "exit",
	"result_r", "risk_cash", "pnl", "close_reason", "stop_moved", "bars_open", "mfe_r",
	"opened_at", "closed_at",
}

// WriteTradesCSV exports one row per closed position.
func WriteTradesCSV(w io.Writer, trades []position.Trade) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, t := range trades {
		row := []string{
			t.PositionID,
			t.Instrument,
			string(t.Side),
			string(t.Strategy),
			f(t.Entry),
			f(t.InitialStop),
			f(t.Exit),
			strconv.FormatFloat(t.ResultR, 'f', 4, 64),
			f(t.RiskCash),
			strconv.FormatFloat(t.PnL, 'f', 2, 64),
			t.CloseReason.String(),
			strconv.FormatBool(t.StopMoved),
			strconv.Itoa(t.BarsOpen),
			strconv.FormatFloat(t.MFE, 'f', 4, 64),
			t.OpenedAt.UTC().Format(time.RFC3339),
			t.ClosedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

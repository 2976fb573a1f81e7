package audit

import (
	"fmt"
	"io"
	"math"
	"sort"
	"text/tabwriter"
	"time"

	"barbot-go/internal/engine"
	"barbot-go/internal/position"
)

// InstrumentStats is the per-instrument slice of a summary.
type InstrumentStats struct {
	Instrument string  `json:"instrument"`
	Trades     int     `json:"trades"`
	Wins       int     `json:"wins"`
	NetR       float64 `json:"net_r"`
	PnL        float64 `json:"pnl"`
}

// Summary is the terminal record of a run.
type Summary struct {
	Start          time.Time         `json:"start"`
	End            time.Time         `json:"end"`
	Bars           int               `json:"bars"`
	StartEquity    float64           `json:"start_equity"`
	FinalEquity    float64           `json:"final_equity"`
	NetPnL         float64           `json:"net_pnl"`
	Trades         int               `json:"trades"`
	Wins           int               `json:"wins"`
	Losses         int               `json:"losses"`
	WinRate        float64           `json:"win_rate"`
	AvgWinR        float64           `json:"avg_win_r"`
	AvgLossR       float64           `json:"avg_loss_r"`
	ExpectancyR    float64           `json:"expectancy_r"`
	MaxDrawdown    float64           `json:"max_drawdown"`
	MaxDrawdownPct float64           `json:"max_drawdown_pct"`
	Accepted       int               `json:"accepted"`
	Rejected       int               `json:"rejected"`
	Exits          map[string]int    `json:"exits"`
	Rejections     map[string]int    `json:"rejections"`
	Shadows        map[string]int    `json:"shadows"`
	ShadowPending  int               `json:"shadow_pending"`
	OpenAtEnd      int               `json:"open_at_end"`
	OpenRisk       float64           `json:"open_risk"`
	Instruments    []InstrumentStats `json:"instruments"`
}

// Summarize derives the terminal summary. It is well defined for zero trades.
func Summarize(res engine.Result) Summary {
	s := Summary{
		Bars:          res.Bars,
		StartEquity:   res.StartBalance,
		FinalEquity:   res.Account.Equity,
		NetPnL:        res.Account.Equity - res.StartBalance,
		Trades:        len(res.Trades),
		Exits:         make(map[string]int),
		Rejections:    make(map[string]int),
		Shadows:       make(map[string]int),
		ShadowPending: res.ShadowPending,
		OpenAtEnd:     len(res.OpenAtEnd),
		OpenRisk:      res.Account.OpenRisk,
	}

	trades := make([]position.Trade, len(res.Trades))
	copy(trades, res.Trades)
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].ClosedAt.Before(trades[j].ClosedAt) })

	perInstrument := make(map[string]*InstrumentStats)
	var winR, lossR, totalR float64
	equity, peak := res.StartBalance, res.StartBalance
	for _, t := range trades {
		totalR += t.ResultR
		switch {
		case t.Win():
			s.Wins++
			winR += t.ResultR
		case t.ResultR < 0:
			s.Losses++
			lossR += t.ResultR
		}
		s.Exits[t.CloseReason.String()]++

		st, ok := perInstrument[t.Instrument]
		if !ok {
			st = &InstrumentStats{Instrument: t.Instrument}
			perInstrument[t.Instrument] = st
		}
		st.Trades++
		st.NetR += t.ResultR
		st.PnL += t.PnL
		if t.Win() {
			st.Wins++
		}

		equity += t.PnL
		peak = math.Max(peak, equity)
		if dd := peak - equity; dd > s.MaxDrawdown {
			s.MaxDrawdown = dd
			if peak > 0 {
				s.MaxDrawdownPct = dd / peak
			}
		}
		if s.Start.IsZero() || t.OpenedAt.Before(s.Start) {
			s.Start = t.OpenedAt
		}
		if t.ClosedAt.After(s.End) {
			s.End = t.ClosedAt
		}
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
		s.ExpectancyR = totalR / float64(s.Trades)
	}
	if s.Wins > 0 {
		s.AvgWinR = winR / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLossR = lossR / float64(s.Losses)
	}

	for _, d := range res.Decisions {
		if d.Accepted {
			s.Accepted++
		} else {
			s.Rejected++
			s.Rejections[d.Reason.String()]++
		}
		if s.Start.IsZero() || d.Ts.Before(s.Start) {
			s.Start = d.Ts
		}
		if d.Ts.After(s.End) {
			s.End = d.Ts
		}
	}
	for _, so := range res.Shadows {
		s.Shadows[string(so.Verdict)]++
	}

	s.Instruments = make([]InstrumentStats, 0, len(perInstrument))
	for _, st := range perInstrument {
		s.Instruments = append(s.Instruments, *st)
	}
	sort.Slice(s.Instruments, func(i, j int) bool { return s.Instruments[i].Instrument < s.Instruments[j].Instrument })
	return s
}

// WriteReport prints the human-readable summary.
func WriteReport(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "bars\t%d\n", s.Bars)
	fmt.Fprintf(tw, "equity\t%.2f -> %.2f\t(%+.2f)\n", s.StartEquity, s.FinalEquity, s.NetPnL)
	fmt.Fprintf(tw, "trades\t%d\twins %d / losses %d\n", s.Trades, s.Wins, s.Losses)
	fmt.Fprintf(tw, "win rate\t%.1f%%\n", s.WinRate*100)
	fmt.Fprintf(tw, "avg win / loss\t%.2fR / %.2fR\n", s.AvgWinR, s.AvgLossR)
	fmt.Fprintf(tw, "expectancy\t%.3fR\n", s.ExpectancyR)
	fmt.Fprintf(tw, "max drawdown\t%.2f\t(%.2f%%)\n", s.MaxDrawdown, s.MaxDrawdownPct*100)
	fmt.Fprintf(tw, "decisions\t%d accepted / %d rejected\n", s.Accepted, s.Rejected)
	fmt.Fprintf(tw, "open at end\t%d\trisk %.2f\n", s.OpenAtEnd, s.OpenRisk)
	writeCounts(tw, "exit", s.Exits)
	writeCounts(tw, "rejected", s.Rejections)
	writeCounts(tw, "shadow", s.Shadows)
	if s.ShadowPending > 0 {
		fmt.Fprintf(tw, "shadow\tpending\t%d\n", s.ShadowPending)
	}
	if len(s.Instruments) > 0 {
		fmt.Fprintln(tw, "\ninstrument\ttrades\twins\tnet R\tpnl")
		for _, st := range s.Instruments {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2f\n", st.Instrument, st.Trades, st.Wins, st.NetR, st.PnL)
		}
	}
	return tw.Flush()
}

func writeCounts(w io.Writer, label string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%s\t%d\n", label, k, counts[k])
	}
}

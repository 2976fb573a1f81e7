package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"barbot-go/internal/exchange"
	"barbot-go/internal/signal"
)

// backtestCmd replays history as fast as possible against the paper broker
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay historical bars against the paper broker",
	Long: `Load bars from the configured provider (csv or clickhouse), merge them into
(time, instrument) order and run them through the engine with the paper broker.
The summary is printed even when the run stops early.

Examples:
  barbot backtest --config configs/barbot.yaml
  barbot backtest --from 2024-01-01 --to 2024-06-30`,
	RunE: runBacktest,
}

var (
	btFrom string
	btTo   string
)

func init() {
	rootCmd.AddCommand(backtestCmd)
	backtestCmd.Flags().StringVar(&btFrom, "from", "", "Override data.from (RFC3339 or YYYY-MM-DD)")
	backtestCmd.Flags().StringVar(&btTo, "to", "", "Override data.to (RFC3339 or YYYY-MM-DD)")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	return runHistorical(false)
}

// runHistorical drives backtest and replay; they differ only in pacing.
func runHistorical(paced bool) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	if btFrom != "" {
		s.cfg.Data.From = btFrom
	}
	if btTo != "" {
		s.cfg.Data.To = btTo
	}
	from, to, err := s.cfg.Data.Range()
	if err != nil {
		return err
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bars, err := loadHistory(ctx, s.cfg, from, to)
	if err != nil {
		return err
	}
	bars = within(bars, from, to)
	s.log.Info().Int("bars", len(bars)).Str("provider", s.cfg.Data.Provider).Msg("history loaded")

	eng, err := s.newEngine(s.paperBroker(), nil)
	if err != nil {
		return err
	}
	var stream exchange.BarStream = exchange.NewSliceStream(bars)
	if paced {
		delay := replayDelay
		if delay <= 0 {
			delay = s.cfg.Data.ReplayDelay
		}
		if delay <= 0 {
			delay = 500 * time.Millisecond
		}
		stream = exchange.NewReplayStream(bars, exchange.WithDelay(delay))
	}
	res, runErr := eng.Run(ctx, stream)
	return s.finish(res, runErr)
}

func within(bars []signal.Bar, from, to time.Time) []signal.Bar {
	if from.IsZero() && to.IsZero() {
		return bars
	}
	out := bars[:0:0]
	for _, b := range bars {
		if !from.IsZero() && b.Ts.Before(from) {
			continue
		}
		if !to.IsZero() && !b.Ts.Before(to) {
			continue
		}
		out = append(out, b)
	}
	return out
}

package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"barbot-go/internal/engine"
	"barbot-go/internal/exchange"
	"barbot-go/internal/execution"
	"barbot-go/internal/signal"
	"barbot-go/internal/store"
)

// liveCmd trades closed Binance klines as they arrive
var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Trade closed klines from the Binance websocket",
	Long: `Subscribe to closed klines for every configured instrument and run them
through the engine. Windows are warmed from the historical provider first, and
signal anchors already handled by an earlier session are loaded from Redis so a
restart never fires the same signal twice.

execution.broker selects the paper broker (default) or the REST gateway.

Examples:
  barbot live --config configs/live.yaml
  BARBOT_BROKER=live BARBOT_LIVE_URL=https://gw.example.com barbot live`,
	RunE: runLive,
}

var skipWarmup bool

func init() {
	rootCmd.AddCommand(liveCmd)
	liveCmd.Flags().BoolVar(&skipWarmup, "no-warmup", false, "Start with empty windows instead of loading history")
}

func runLive(cmd *cobra.Command, args []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var broker execution.Broker
	if s.cfg.Execution.Broker == "live" {
		broker = execution.NewLiveBroker(s.cfg.LiveConfig(), s.log)
	} else {
		broker = s.paperBroker()
	}

	var journal *store.RedisJournal
	var hook engine.Journal
	if s.cfg.Redis.Addr != "" {
		client, err := store.Dial(ctx, s.cfg.RedisConfig())
		if err != nil {
			return err
		}
		journal = store.NewRedisJournal(client, s.cfg.Redis.Prefix, s.log)
		defer journal.Close()
		hook = journal
	}

	eng, err := s.newEngine(broker, hook)
	if err != nil {
		return err
	}
	if journal != nil {
		if err := restoreSeen(ctx, eng, journal, s.cfg.Data.Instruments, s.cfg.Redis.Retention); err != nil {
			return err
		}
	}

	var history []signal.Bar
	if !skipWarmup && s.cfg.Data.Provider != exchange.ProviderBinance {
		history, err = warmupHistory(ctx, s)
		if err != nil {
			return fmt.Errorf("warmup: %w", err)
		}
		if err := eng.Seed(history); err != nil {
			return fmt.Errorf("seed windows: %w", err)
		}
		s.log.Info().Int("bars", len(history)).Msg("windows warmed")
	}

	klines := exchange.NewKlineStream(s.cfg.Data.Instruments, s.cfg.Data.Interval, s.log,
		exchange.WithBaseURL(s.cfg.Data.BinanceURL))
	res, runErr := eng.Run(ctx, exchange.NewResumeStream(klines, history))
	return s.finish(res, runErr)
}

func restoreSeen(ctx context.Context, eng *engine.Engine, j *store.RedisJournal, instruments []string, retention time.Duration) error {
	cutoff := time.Now().Add(-retention)
	for _, in := range instruments {
		anchors, err := j.Load(ctx, in)
		if err != nil {
			return fmt.Errorf("load seen anchors %s: %w", in, err)
		}
		eng.PrimeSeen(in, anchors)
		if retention > 0 {
			if _, err := j.Prune(ctx, in, cutoff); err != nil {
				return fmt.Errorf("prune seen anchors %s: %w", in, err)
			}
		}
	}
	return nil
}

// warmupHistory loads roughly Warmup bars per instrument ending now.
func warmupHistory(ctx context.Context, s *session) ([]signal.Bar, error) {
	n := s.cfg.Data.Warmup
	if n <= 0 {
		return nil, nil
	}
	step, err := time.ParseDuration(s.cfg.Data.Interval)
	if err != nil {
		step = 24 * time.Hour
	}
	to := time.Now().UTC()
	from := to.Add(-2 * time.Duration(n) * step)
	bars, err := loadHistory(ctx, s.cfg, from, to)
	if err != nil {
		return nil, err
	}
	return exchange.Tail(bars, n), nil
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"barbot-go/internal/audit"
	"barbot-go/internal/config"
	"barbot-go/internal/engine"
	"barbot-go/internal/exchange"
	"barbot-go/internal/execution"
	"barbot-go/internal/metrics"
	"barbot-go/internal/paper"
	"barbot-go/internal/risk"
	"barbot-go/internal/signal"
	"barbot-go/internal/strategy"
	"barbot-go/internal/util"
)

// session holds what every subcommand sets up and tears down the same way.
type session struct {
	cfg     *config.Config
	log     zerolog.Logger
	rec     *audit.Recorder
	metrics *http.Server
	paper   *paper.Broker
}

func openSession() (*session, error) {
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.App.LogLevel = logLevel
	}
	log := util.NewLogger(cfg.App.LogLevel, cfg.App.LogFormat).With().Str("app", cfg.App.Name).Logger()

	var sinks audit.Multi
	if cfg.Audit.JSONLPath != "" {
		j, err := audit.NewJSONLRecorder(cfg.Audit.JSONLPath, log)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		sinks = append(sinks, j)
	}
	if len(cfg.Audit.Kafka.Brokers) > 0 {
		k, err := audit.NewKafkaRecorder(cfg.KafkaConfig(), log)
		if err != nil {
			_ = sinks.Close()
			return nil, fmt.Errorf("open kafka audit: %w", err)
		}
		sinks = append(sinks, k)
	}

	s := &session{cfg: cfg, log: log, rec: audit.NewRecorder(sinks)}
	if cfg.App.MetricsAddr != "" {
		s.metrics = metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}
	return s, nil
}

func (s *session) paperBroker() *paper.Broker {
	s.paper = paper.NewBroker(s.cfg.Risk.StartBalance, nil, s.log)
	return s.paper
}

// reconcile checks the paper fills against the engine's closed trades.
func (s *session) reconcile(res engine.Result) {
	if s.paper == nil {
		return
	}
	ledger := s.paper.Ledger()
	if err := ledger.Reconcile(res.Trades, 0.01); err != nil {
		s.log.Error().Err(err).Msg("paper ledger disagrees with closed trades")
		return
	}
	s.log.Info().Float64("realized", ledger.Realized()).Int("fills", len(ledger.Fills())).Msg("paper ledger reconciled")
}

func (s *session) newEngine(broker execution.Broker, journal engine.Journal) (*engine.Engine, error) {
	src, err := strategy.Build(s.cfg.Strategy.Name, s.cfg.StrategyParams())
	if err != nil {
		return nil, err
	}
	ecfg, err := s.cfg.EngineConfig()
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("strategy", src.Name()).
		Str("broker", broker.Name()).
		Strs("instruments", s.cfg.Data.Instruments).
		Float64("start_balance", ecfg.StartBalance).
		Msg("engine configured")
	return engine.New(ecfg, engine.Deps{
		Source:   src,
		Guards:   risk.NewGuards(s.cfg.Limits(), s.cfg.Sizing()),
		Exits:    s.cfg.ExitConfig(),
		Broker:   broker,
		Recorder: s.rec,
		Journal:  journal,
		Logger:   s.log,
	})
}

// finish always prints the summary, even when the run stopped on an error.
func (s *session) finish(res engine.Result, runErr error) error {
	s.reconcile(res)
	summary := audit.Summarize(res)
	s.rec.RecordSummary(summary)
	if err := audit.WriteReport(os.Stdout, summary); err != nil {
		s.log.Error().Err(err).Msg("write report")
	}
	if path := s.cfg.Audit.TradesCSV; path != "" {
		if err := writeTrades(path, res); err != nil {
			s.log.Error().Err(err).Str("path", path).Msg("export trades")
		}
	}
	if err := s.rec.Close(); err != nil {
		s.log.Error().Err(err).Msg("close audit sinks")
	}
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.metrics.Shutdown(ctx)
	}
	if runErr != nil {
		return runErr
	}
	s.log.Info().Int("bars", res.Bars).Int("trades", len(res.Trades)).Msg("run finished")
	return nil
}

func writeTrades(path string, res engine.Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := audit.WriteTradesCSV(f, res.Trades); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// loadHistory reads bars from the configured historical provider in replay order.
func loadHistory(ctx context.Context, cfg *config.Config, from, to time.Time) ([]signal.Bar, error) {
	switch cfg.Data.Provider {
	case exchange.ProviderClickHouse:
		loader, err := exchange.NewClickHouseLoader(ctx, cfg.ClickHouseConfig())
		if err != nil {
			return nil, err
		}
		defer loader.Close()
		return loader.LoadAll(ctx, cfg.Data.Instruments, from, to)
	case exchange.ProviderCSV:
		sets := make([][]signal.Bar, 0, len(cfg.Data.Instruments))
		for _, in := range cfg.Data.Instruments {
			bars, err := exchange.LoadCSV(filepath.Join(cfg.Data.CSVDir, in+".csv"), in)
			if err != nil {
				return nil, err
			}
			sets = append(sets, bars)
		}
		return exchange.Merge(sets...), nil
	default:
		return nil, fmt.Errorf("provider %q has no history", cfg.Data.Provider)
	}
}

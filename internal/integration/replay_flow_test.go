package integration

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"barbot-go/internal/audit"
	"barbot-go/internal/config"
	"barbot-go/internal/engine"
	"barbot-go/internal/exchange"
	"barbot-go/internal/paper"
	"barbot-go/internal/position"
	"barbot-go/internal/risk"
	"barbot-go/internal/signal"
	"barbot-go/internal/strategy"
)

var t0 = time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

// writeBars writes 59 quiet hourly bars, then the given rows, as CSV.
func writeBars(t *testing.T, dir, instrument string, tail [][4]float64) {
	t.Helper()
	var b strings.Builder
	b.WriteString("timestamp,open,high,low,close,volume\n")
	n := 0
	row := func(o, h, l, c float64) {
		fmt.Fprintf(&b, "%s,%g,%g,%g,%g,1000\n", t0.Add(time.Duration(n)*time.Hour).Format(time.RFC3339), o, h, l, c)
		n++
	}
	for i := 0; i < 59; i++ {
		row(100, 101, 99, 100)
	}
	for _, r := range tail {
		row(r[0], r[1], r[2], r[3])
	}
	if err := os.WriteFile(filepath.Join(dir, instrument+".csv"), []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
}

func writeConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	yaml := fmt.Sprintf(`data:
  provider: csv
  instruments: [EURUSD, GBPUSD]
  csv_dir: %s
strategy:
  name: breakout
execution:
  fill_spread_pct: 0
  fill_slippage_atr: 0
audit:
  jsonl_path: %s
`, dir, filepath.Join(dir, "audit", "events.jsonl"))
	path := filepath.Join(dir, "barbot.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

type run struct {
	res    engine.Result
	broker *paper.Broker
}

func replay(t *testing.T, cfg *config.Config, rec engine.Recorder) run {
	t.Helper()
	var sets [][]signal.Bar
	for _, in := range cfg.Data.Instruments {
		bars, err := exchange.LoadCSV(filepath.Join(cfg.Data.CSVDir, in+".csv"), in)
		if err != nil {
			t.Fatalf("load %s: %v", in, err)
		}
		sets = append(sets, bars)
	}
	src, err := strategy.Build(cfg.Strategy.Name, cfg.StrategyParams())
	if err != nil {
		t.Fatalf("build strategy: %v", err)
	}
	ecfg, err := cfg.EngineConfig()
	if err != nil {
		t.Fatalf("engine config: %v", err)
	}
	broker := paper.NewBroker(cfg.Risk.StartBalance, nil, zerolog.Nop())
	eng, err := engine.New(ecfg, engine.Deps{
		Source:   src,
		Guards:   risk.NewGuards(cfg.Limits(), cfg.Sizing()),
		Exits:    cfg.ExitConfig(),
		Broker:   broker,
		Recorder: rec,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	res, err := eng.Run(context.Background(), exchange.NewSliceStream(exchange.Merge(sets...)))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return run{res: res, broker: broker}
}

func TestReplayFlowStopOut(t *testing.T) {
	dir := t.TempDir()
	// breakout close at 105, then a bar that trades through the stop
	writeBars(t, dir, "EURUSD", [][4]float64{{100, 106, 100, 105}, {105, 105.5, 100, 101}, {101, 102, 100, 101}})
	writeBars(t, dir, "GBPUSD", [][4]float64{{100, 101, 99, 100}, {100, 101, 99, 100}, {100, 101, 99, 100}})
	cfg := writeConfig(t, dir)

	sink, err := audit.NewJSONLRecorder(cfg.Audit.JSONLPath, zerolog.Nop())
	if err != nil {
		t.Fatalf("open jsonl: %v", err)
	}
	rec := audit.NewRecorder(sink)
	out := replay(t, cfg, rec)
	summary := audit.Summarize(out.res)
	rec.RecordSummary(summary)
	if err := rec.Close(); err != nil {
		t.Fatalf("close recorder: %v", err)
	}

	if out.res.Bars != 124 {
		t.Fatalf("expected 124 bars, got %d", out.res.Bars)
	}
	if len(out.res.Trades) != 1 {
		t.Fatalf("expected one trade, got %d", len(out.res.Trades))
	}
	tr := out.res.Trades[0]
	atr := (13*2 + 6) / 14.0
	if tr.Instrument != "EURUSD" || tr.Side != signal.Long || tr.Entry != 105 {
		t.Fatalf("unexpected trade %+v", tr)
	}
	if tr.CloseReason != position.CloseStop || math.Abs(tr.Exit-(105-1.5*atr)) > 1e-9 {
		t.Fatalf("expected stop exit at %.4f, got %s at %.4f", 105-1.5*atr, tr.CloseReason, tr.Exit)
	}
	if math.Abs(tr.ResultR+1) > 1e-9 || tr.BarsOpen != 1 || tr.Win() {
		t.Fatalf("expected a one-bar -1R loss, got %+v", tr)
	}
	if tr.RiskCash > cfg.Risk.StartBalance*cfg.Risk.RiskPerTrade+1e-9 {
		t.Fatalf("risk cash %.2f above budget", tr.RiskCash)
	}

	if summary.Trades != 1 || summary.Losses != 1 || summary.Exits["exit_stop"] != 1 || summary.OpenAtEnd != 0 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if math.Abs(summary.FinalEquity-(cfg.Risk.StartBalance+tr.PnL)) > 1e-6 {
		t.Fatalf("equity %.4f does not match pnl %.4f", summary.FinalEquity, tr.PnL)
	}
	info, err := out.broker.AccountInfo(context.Background())
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if math.Abs(info.Balance-summary.FinalEquity) > 1e-6 {
		t.Fatalf("paper balance %.4f diverged from engine equity %.4f", info.Balance, summary.FinalEquity)
	}
	if err := out.broker.Ledger().Reconcile(out.res.Trades, 0.01); err != nil {
		t.Fatalf("paper ledger disagrees with trades: %v", err)
	}

	kinds := readKinds(t, cfg.Audit.JSONLPath)
	if kinds[audit.KindDecision] != 1 || kinds[audit.KindTrade] != 1 || kinds[audit.KindSummary] != 1 {
		t.Fatalf("unexpected audit events %v", kinds)
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeBars(t, dir, "EURUSD", [][4]float64{{100, 106, 100, 105}, {105, 108, 104.5, 107.5}, {107.5, 110, 107.5, 109.5}})
	writeBars(t, dir, "GBPUSD", [][4]float64{{100, 100, 93, 94}, {94, 95, 92, 93}, {92, 92.5, 90.5, 91}})
	cfg := writeConfig(t, dir)

	a := replay(t, cfg, nil)
	b := replay(t, cfg, nil)
	if len(a.res.Decisions) != 2 {
		t.Fatalf("expected a decision per instrument, got %d", len(a.res.Decisions))
	}
	ja, _ := json.Marshal(audit.Summarize(a.res))
	jb, _ := json.Marshal(audit.Summarize(b.res))
	if string(ja) != string(jb) {
		t.Fatalf("replays diverged:\n%s\n%s", ja, jb)
	}
	if len(a.res.OpenAtEnd) != 2 {
		t.Fatalf("expected both positions open at the end, got %d", len(a.res.OpenAtEnd))
	}
}

func readKinds(t *testing.T, path string) map[audit.Kind]int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()
	kinds := make(map[audit.Kind]int)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var e audit.Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		kinds[e.Kind]++
	}
	return kinds
}

package main

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"barbot-go/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	cfg.Data.Instruments = []string{"EURUSD"}
	return cfg
}

func TestEditRiskKeepsBlankAnswers(t *testing.T) {
	cfg := testConfig(t)
	// balance, risk %, positions, then blanks for the rest
	in := bufio.NewReader(strings.NewReader("25000\n1\n4\n\n\n\n\n\n\n"))
	editRisk(in, cfg)
	if cfg.Risk.StartBalance != 25000 || cfg.Risk.RiskPerTrade != 0.01 || cfg.Risk.MaxOpenPositions != 4 {
		t.Fatalf("unexpected risk: %+v", cfg.Risk)
	}
	if cfg.Risk.MaxTotalDrawdown != 0.08 {
		t.Fatalf("blank answer should keep total drawdown, got %.4f", cfg.Risk.MaxTotalDrawdown)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("edited config should validate: %v", err)
	}
}

func TestEditExitsDisablesRule(t *testing.T) {
	cfg := testConfig(t)
	in := bufio.NewReader(strings.NewReader("\n\n\n\n0\nabc\n\n"))
	editExits(in, cfg)
	if cfg.Exits.DeadfishBars != 0 {
		t.Fatalf("expected deadfish disabled, got %d", cfg.Exits.DeadfishBars)
	}
	if cfg.Exits.DeadfishRange != 0.5 {
		t.Fatalf("invalid input should keep the range, got %.2f", cfg.Exits.DeadfishRange)
	}
}

func TestEditUniverse(t *testing.T) {
	cfg := testConfig(t)
	editUniverse(bufio.NewReader(strings.NewReader("gbpusd, xauusd\ntrend\n")), cfg)
	if strings.Join(cfg.Data.Instruments, ",") != "gbpusd,xauusd" || cfg.Strategy.Name != "trend" {
		t.Fatalf("unexpected universe: %v %s", cfg.Data.Instruments, cfg.Strategy.Name)
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, testConfig(t))
	for _, want := range []string{"EURUSD", "Max positions: 3", "ROI: after 24 bars take 1.00R", "Trail: from 3.00R MFE keep 1.50R"} {
		if !strings.Contains(buf.String(), want) {
			t.Fatalf("summary missing %q:\n%s", want, buf.String())
		}
	}
}

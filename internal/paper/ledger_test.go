package paper

import (
	"strings"
	"testing"

	"barbot-go/internal/execution"
	"barbot-go/internal/position"
)

func TestLedgerRealizedPerInstrument(t *testing.T) {
	ledger := NewLedger(4)
	ledger.Record(execution.Fill{Instrument: "EURUSD", Volume: 1})
	ledger.Record(execution.Fill{Instrument: "EURUSD", Closing: true, PnL: 12.5})
	ledger.Record(execution.Fill{Instrument: "XAUUSD", Closing: true, PnL: -20.1})
	ledger.Record(execution.Fill{Instrument: "XAUUSD", Closing: true, PnL: 0.1})

	if n := len(ledger.Fills()); n != 4 {
		t.Fatalf("expected 4 fills, got %d", n)
	}
	if got := ledger.RealizedBy("XAUUSD"); got != -20 {
		t.Fatalf("expected -20 on XAUUSD, got %v", got)
	}
	if got := ledger.Realized(); got != -7.5 {
		t.Fatalf("expected -7.5 total from closing fills only, got %v", got)
	}
}

func TestLedgerReconcile(t *testing.T) {
	ledger := NewLedger(0)
	ledger.Record(execution.Fill{Instrument: "EURUSD", Closing: true, PnL: 40})
	ledger.Record(execution.Fill{Instrument: "GBPUSD", Closing: true, PnL: -25})

	trades := []position.Trade{
		{Instrument: "EURUSD", PnL: 40.004},
		{Instrument: "GBPUSD", PnL: -25},
	}
	if err := ledger.Reconcile(trades, 0.01); err != nil {
		t.Fatalf("expected ledger to agree with trades: %v", err)
	}

	tests := []struct {
		name   string
		trades []position.Trade
		want   string
	}{
		{"pnl drift", []position.Trade{{Instrument: "EURUSD", PnL: 41}, {Instrument: "GBPUSD", PnL: -25}}, "EURUSD: ledger realized"},
		{"missing trade", []position.Trade{{Instrument: "EURUSD", PnL: 40}}, "GBPUSD: ledger has 1 closes, trades 0"},
		{"unknown instrument", []position.Trade{
			{Instrument: "EURUSD", PnL: 40}, {Instrument: "GBPUSD", PnL: -25}, {Instrument: "USDJPY", PnL: 1},
		}, "USDJPY: 1 trades missing"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ledger.Reconcile(tc.trades, 0.01)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

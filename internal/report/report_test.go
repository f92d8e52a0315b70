package report_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/atlas-desktop/trading-backend/internal/backtest"
	"github.com/atlas-desktop/trading-backend/internal/report"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func sampleResult() *backtest.Result {
	return &backtest.Result{
		Trades: []types.Order{
			{ID: "ord-1", Token: types.TokenId{1}, Side: types.OrderSideBuy, Amount: 1_000_000_000, Status: types.OrderStatusConfirmed, CreatedAt: 1000, UpdatedAt: 2000},
			{ID: "ord-2", Token: types.TokenId{1}, Side: types.OrderSideSell, Amount: 1_000_000_000, Status: types.OrderStatusConfirmed, CreatedAt: 3000, UpdatedAt: 4000},
		},
		EquityCurve: []backtest.EquityPoint{
			{Time: 0, Capital: 10_000_000_000},
			{Time: 5000, Capital: 11_000_000_000},
		},
		FinalCapital: 11_000_000_000,
		DailyPnL:     types.DailyPnL{TradeCount: 2, Wins: 1, Losses: 1, Realized: 1_000_000_000},
	}
}

func TestWriteSummaryIncludesKeyFigures(t *testing.T) {
	run := report.NewRun(sampleResult())
	var buf bytes.Buffer
	if err := run.WriteSummary(&buf); err != nil {
		t.Fatalf("WriteSummary error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "trades:        2") {
		t.Errorf("summary missing trade count:\n%s", out)
	}
	if !strings.Contains(out, "final capital:") {
		t.Errorf("summary missing final capital:\n%s", out)
	}
}

func TestWriteTradesCSVRowCount(t *testing.T) {
	run := report.NewRun(sampleResult())
	var buf bytes.Buffer
	if err := run.WriteTradesCSV(&buf); err != nil {
		t.Fatalf("WriteTradesCSV error: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 { // header + 2 trades
		t.Fatalf("got %d lines, want 3 (header + 2 trades):\n%s", len(lines), buf.String())
	}
}

func TestWriteEquityCurveCSVRowCount(t *testing.T) {
	run := report.NewRun(sampleResult())
	var buf bytes.Buffer
	if err := run.WriteEquityCurveCSV(&buf); err != nil {
		t.Fatalf("WriteEquityCurveCSV error: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 { // header + 2 samples
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}
}

func TestWriteDailyPnLCSV(t *testing.T) {
	var buf bytes.Buffer
	pnl := types.DailyPnL{Date: "2026-07-29", TradeCount: 2, Wins: 1, Losses: 1}
	if err := report.WriteDailyPnLCSV(&buf, pnl); err != nil {
		t.Fatalf("WriteDailyPnLCSV error: %v", err)
	}
	if !strings.Contains(buf.String(), "2026-07-29") {
		t.Errorf("csv missing date:\n%s", buf.String())
	}
}

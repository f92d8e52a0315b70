package backtest_test

import (
	"context"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/backtest"
	"github.com/atlas-desktop/trading-backend/internal/eventsource"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func sampleTimeline(token types.TokenId, startMs int64) backtest.TokenTimeline {
	t0 := types.Timestamp(startMs)
	creator := "creator-1"
	trader := "trader-1"

	events := []eventsource.Event{
		{Type: eventsource.EventTokenLaunched, Launched: &eventsource.TokenLaunched{Mint: token, Creator: creator, Time: t0}},
		{Type: eventsource.EventBondingProgress, Progress: &eventsource.BondingProgress{
			Mint: token, ProgressPct: 10, VirtualSol: 30_000_000_000, VirtualTokens: 1_000_000_000_000,
			InEntryZone: true, Time: t0 + types.Timestamp(time.Second.Milliseconds()),
		}},
		{Type: eventsource.EventTokenTrade, Trade: &eventsource.TokenTrade{
			Mint: token, Side: types.OrderSideBuy, Trader: trader, SolAmount: types.LamportsFromSOL(2), TokenAmount: 50_000,
			Time: t0 + types.Timestamp(2*time.Second.Milliseconds()),
		}},
		{Type: eventsource.EventBondingProgress, Progress: &eventsource.BondingProgress{
			Mint: token, ProgressPct: 100, VirtualSol: 32_000_000_000, VirtualTokens: 950_000_000_000,
			InEntryZone: false, Time: t0 + types.Timestamp(20*time.Second.Milliseconds()),
		}},
		{Type: eventsource.EventTokenMigration, Migration: &eventsource.TokenMigration{
			Mint: token, FinalProgressPct: 100, Time: t0 + types.Timestamp(21*time.Second.Milliseconds()),
		}},
	}
	return backtest.TokenTimeline{Token: token, Events: events}
}

func TestEngineRunProducesEquityCurve(t *testing.T) {
	token := types.TokenId{9}
	events := backtest.MergeTimelines([]backtest.TokenTimeline{sampleTimeline(token, 0)})

	cfg := backtest.DefaultConfig()
	eng := backtest.NewEngine(cfg, zap.NewNop())
	result, err := eng.Run(context.Background(), events)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(result.EquityCurve) == 0 {
		t.Fatalf("expected at least one equity curve sample")
	}
	if result.FinalCapital == 0 {
		t.Fatalf("expected non-zero final capital")
	}
}

// TestReplayDeterminism matches spec.md section 8's universal invariant:
// identical inputs and config produce identical results.
func TestReplayDeterminism(t *testing.T) {
	token := types.TokenId{7}
	events := backtest.MergeTimelines([]backtest.TokenTimeline{sampleTimeline(token, 0)})
	cfg := backtest.DefaultConfig()

	first, err := backtest.NewEngine(cfg, zap.NewNop()).Run(context.Background(), events)
	if err != nil {
		t.Fatalf("first run error: %v", err)
	}
	second, err := backtest.NewEngine(cfg, zap.NewNop()).Run(context.Background(), events)
	if err != nil {
		t.Fatalf("second run error: %v", err)
	}

	if first.FinalCapital != second.FinalCapital {
		t.Errorf("FinalCapital differs between runs: %v vs %v", first.FinalCapital, second.FinalCapital)
	}
	if !reflect.DeepEqual(first.Trades, second.Trades) {
		t.Errorf("Trades differ between identical runs")
	}
}

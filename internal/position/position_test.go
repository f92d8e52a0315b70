package position_test

import (
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/internal/position"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// TestLadderedTakeProfit matches spec.md section 8 scenario 6: entry 1.0,
// levels [(2x,25%),(3x,25%),(5x,50%)]; at 2.0 the first level sells 25% of
// initial and the stop moves to break-even; jumping straight to 5.0 (before
// level 2 fires) fires level 2 (25%) then level 3, which sells *all*
// remaining rather than 50% of the initial amount.
func TestLadderedTakeProfit(t *testing.T) {
	mgr := position.New(position.TrailingConfig{TrailingPercent: 15}, clock.NewReplay(0), zap.NewNop())

	pos := &types.Position{
		ID:            "pos-1",
		Token:         types.TokenId{1},
		Status:        types.PositionStatusOpen,
		EntryPrice:    1.0,
		InitialAmount: 1000,
		CurrentAmount: 1000,
		TakeProfitLevels: []types.TakeProfitLevel{
			{Multiplier: 2, SellPercent: 0.25},
			{Multiplier: 3, SellPercent: 0.25},
			{Multiplier: 5, SellPercent: 0.50},
		},
	}
	mgr.Open(pos)

	trig := mgr.UpdatePrice(pos.ID, 2.0)
	if trig == nil || trig.Reason != types.ExitReasonTakeProfit || trig.SellPercent != 0.25 {
		t.Fatalf("first trigger = %+v, want take_profit at 25%%", trig)
	}
	if pos.StopLossPrice != pos.EntryPrice {
		t.Errorf("StopLossPrice = %v, want break-even (%v)", pos.StopLossPrice, pos.EntryPrice)
	}
	mgr.ApplySell(pos.ID, 250, types.LamportsFromSOL(0.5), types.ExitReasonTakeProfit)

	trig = mgr.UpdatePrice(pos.ID, 5.0)
	if trig == nil || trig.SellPercent != 0.25 {
		t.Fatalf("second trigger = %+v, want level-2 take_profit at 25%%", trig)
	}
	mgr.ApplySell(pos.ID, 250, types.LamportsFromSOL(1.25), types.ExitReasonTakeProfit)

	trig = mgr.UpdatePrice(pos.ID, 5.0)
	if trig == nil || trig.SellPercent != 1.0 {
		t.Fatalf("final trigger = %+v, want level-3 selling all remaining (100%%)", trig)
	}
}

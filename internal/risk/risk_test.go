package risk_test

import (
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/internal/killswitch"
	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// TestDailyLossGate matches spec.md section 8 scenario 7: starting capital
// 10 SOL, 10% daily-loss limit; realized losses summing past -1.0 SOL trips
// the kill switch with reason daily_loss and CheckBuy starts refusing.
func TestDailyLossGate(t *testing.T) {
	clk := clock.NewReplay(0)
	log := zap.NewNop()
	kill := killswitch.New(clk, log)

	var trippedReason types.KillSwitchTrigger
	kill.OnTrip(func(state types.KillSwitchState) {
		trippedReason = state.TriggeredBy
	})

	limits := risk.Limits{
		MaxPositionSize:           types.LamportsFromSOL(5),
		MaxTotalExposure:          types.LamportsFromSOL(5),
		MaxConcurrentPositions:    5,
		MaxTradeFractionOfCapital: 1.0,
		MaxDailyLossPct:           10,
		MaxSlippageBps:            500,
		MinReserve:                0,
	}
	mgr := risk.New(limits, types.LamportsFromSOL(10), clk, kill, log)

	mgr.RecordOpen(types.LamportsFromSOL(2))
	mgr.RecordTrade(types.LamportsFromSOL(2), types.LamportsFromSOL(0.95), -int64(types.LamportsFromSOL(1.05)), true)

	if !kill.IsActive() {
		t.Fatalf("expected kill switch to be active after breaching the daily loss limit")
	}
	if trippedReason != types.KillSwitchDailyLoss {
		t.Errorf("trippedReason = %v, want daily_loss", trippedReason)
	}

	decision := mgr.CheckBuy(types.LamportsFromSOL(1))
	if decision.Allowed {
		t.Errorf("CheckBuy should refuse once the daily limit is hit")
	}

	snap := mgr.Snapshot()
	if !snap.LimitHit || !snap.TradingPaused {
		t.Errorf("Snapshot = %+v, want LimitHit and TradingPaused true", snap)
	}
}

package volume_test

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/analyzer/volume"
	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func newAnalyzer() *volume.Analyzer {
	return volume.New(volume.DefaultConfig(), clock.NewReplay(0), zap.NewNop())
}

// TestVolumeVelocityAndSpike matches spec.md section 8 scenario 2: a 5 SOL
// 5-minute sum against a 12 SOL 1-hour sum gives avg_per_5m = 1,
// velocity = 4.0 and has_spike = true (5 >= 3x1).
func TestVolumeVelocityAndSpike(t *testing.T) {
	a := newAnalyzer()
	token := types.TokenId{1}
	now := types.Timestamp(time.Hour.Milliseconds())

	a.Ingest(volume.Trade{Token: token, Side: types.OrderSideBuy, Trader: "early", SolAmount: types.LamportsFromSOL(7), Time: now - types.Timestamp(40*time.Minute.Milliseconds())})
	a.Ingest(volume.Trade{Token: token, Side: types.OrderSideBuy, Trader: "recent", SolAmount: types.LamportsFromSOL(5), Time: now - types.Timestamp(time.Minute.Milliseconds())})

	m := a.Compute(token, now)

	if math.Abs(m.Velocity-4.0) > 0.01 {
		t.Errorf("Velocity = %.4f, want 4.0", m.Velocity)
	}
	if !m.HasSpike {
		t.Errorf("HasSpike = false, want true")
	}
	if m.Trend != types.TrendAccelerating {
		t.Errorf("Trend = %v, want Accelerating", m.Trend)
	}
}

// TestBuyRatioNeutralOnZeroVolume matches spec.md section 8 scenario 3.
func TestBuyRatioNeutralOnZeroVolume(t *testing.T) {
	a := newAnalyzer()
	m := a.Compute(types.TokenId{2}, 0)

	if m.BuyRatio != 0.5 {
		t.Errorf("BuyRatio = %v, want 0.5", m.BuyRatio)
	}
	if m.Velocity != 0 {
		t.Errorf("Velocity = %v, want 0", m.Velocity)
	}
}

// TestWashTradingDetection matches spec.md section 8 scenario 4: 10 trades,
// 3 traders all trading both sides, fully alternating, every amount exactly
// 0.1 SOL. All five heuristics should fire for a wash score of 1.0.
func TestWashTradingDetection(t *testing.T) {
	a := newAnalyzer()
	token := types.TokenId{3}

	traders := []string{"t1", "t2", "t3", "t1", "t2", "t3", "t1", "t2", "t3", "t1"}
	sides := []types.OrderSide{
		types.OrderSideBuy, types.OrderSideSell, types.OrderSideBuy, types.OrderSideSell, types.OrderSideBuy,
		types.OrderSideSell, types.OrderSideBuy, types.OrderSideSell, types.OrderSideBuy, types.OrderSideSell,
	}
	base := types.Timestamp(time.Hour.Milliseconds())
	for i := range traders {
		a.Ingest(volume.Trade{
			Token:     token,
			Side:      sides[i],
			Trader:    traders[i],
			SolAmount: types.LamportsFromSOL(0.1),
			Time:      base + types.Timestamp(i)*types.Timestamp(10*time.Second.Milliseconds()),
		})
	}

	now := base + types.Timestamp(100)*types.Timestamp(time.Second.Milliseconds())
	m := a.Compute(token, now)

	if m.WashScore != 1.0 {
		t.Errorf("WashScore = %.3f, want 1.0", m.WashScore)
	}
}

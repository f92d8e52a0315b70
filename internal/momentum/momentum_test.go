package momentum_test

import (
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/internal/momentum"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

func fullConfidence() types.AnalyzerMetaMetrics {
	return types.AnalyzerMetaMetrics{Confidence: 1.0}
}

// TestSafetyOverride matches spec.md section 8 scenario 5: with full
// confidence on every channel and liquidity in the entry zone, safety =
// 0/unsafe still yields DO_NOT_TRADE and should_enter = false, whatever the
// other channels score.
func TestSafetyOverride(t *testing.T) {
	a := momentum.New(momentum.DefaultConfig(), clock.NewReplay(0), zap.NewNop())

	snap := momentum.AnalyzerSnapshots{
		Volume:    types.VolumeMetrics{AnalyzerMetaMetrics: fullConfidence(), BuyRatio: 0.5},
		Holder:    types.HolderMetrics{AnalyzerMetaMetrics: fullConfidence()},
		Liquidity: types.LiquidityMetrics{AnalyzerMetaMetrics: fullConfidence(), InEntryZone: true},
		Safety:    types.SafetyMetrics{AnalyzerMetaMetrics: fullConfidence(), Score: 0, IsSafe: false},
	}

	m := a.Compute(types.TokenId{1}, snap, false, 1000)

	if m.Signal != types.SignalDoNotTrade {
		t.Errorf("Signal = %v, want DO_NOT_TRADE", m.Signal)
	}
	if m.ShouldEnter {
		t.Errorf("ShouldEnter = true, want false")
	}
}

// TestMigrationForcesStrongSell matches spec.md section 8 scenario 8: a
// completed bonding curve forces STRONG_SELL regardless of composite score.
func TestMigrationForcesStrongSell(t *testing.T) {
	a := momentum.New(momentum.DefaultConfig(), clock.NewReplay(0), zap.NewNop())

	snap := momentum.AnalyzerSnapshots{
		Volume:    types.VolumeMetrics{AnalyzerMetaMetrics: fullConfidence()},
		Holder:    types.HolderMetrics{AnalyzerMetaMetrics: fullConfidence()},
		Liquidity: types.LiquidityMetrics{AnalyzerMetaMetrics: fullConfidence(), IsComplete: true},
		Safety:    types.SafetyMetrics{AnalyzerMetaMetrics: fullConfidence(), Score: 100, IsSafe: true},
	}

	m := a.Compute(types.TokenId{2}, snap, false, 1000)

	if m.Signal != types.SignalStrongSell {
		t.Errorf("Signal = %v, want STRONG_SELL", m.Signal)
	}
	if !m.ShouldExit {
		t.Errorf("ShouldExit = false, want true")
	}
}

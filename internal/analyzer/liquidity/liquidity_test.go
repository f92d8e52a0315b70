package liquidity_test

import (
	"math"
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/analyzer/liquidity"
	"github.com/atlas-desktop/trading-backend/internal/clock"
)

// TestTokensOutConstantProduct matches spec.md section 8 scenario 1: 30 SOL
// / 1,000,000 token reserves, a 1 SOL trade, expects ~32,258.06 tokens out
// and ~3.33% raw price impact (3.83% after the 0.5% buffer).
func TestTokensOutConstantProduct(t *testing.T) {
	const virtualSol = 30_000_000_000
	const virtualTokens = 1_000_000_000_000
	const tradeLamports = 1_000_000_000

	tokensOut, rawPct := liquidity.TokensOut(virtualSol, virtualTokens, tradeLamports)

	// TokensOut returns token base units (6 decimals).
	wantTokens := 32_258.06
	if math.Abs(tokensOut/1e6-wantTokens) > 1 {
		t.Errorf("tokensOut = %.2f tokens, want ~%.2f", tokensOut/1e6, wantTokens)
	}
	wantPct := 3.33
	if math.Abs(rawPct-wantPct) > 0.05 {
		t.Errorf("rawSlippagePct = %.4f, want ~%.2f", rawPct, wantPct)
	}
}

func TestSlippageAppliesBuffer(t *testing.T) {
	cfg := liquidity.DefaultConfig()
	a := liquidity.New(cfg, clock.NewReplay(0), zap.NewNop())

	point := a.Slippage(30_000_000_000, 1_000_000_000_000, 1.0)
	wantTotal := 3.33 + cfg.PriceImpactBufferPct
	if math.Abs(point.SlippagePct-wantTotal) > 0.05 {
		t.Errorf("SlippagePct = %.4f, want ~%.2f", point.SlippagePct, wantTotal)
	}
	if !point.Executable {
		t.Errorf("expected trade to be executable under the default 5%% ceiling")
	}
}

// Package liquidity implements the bonding-curve tracking and
// constant-product slippage math described in spec.md section 4.4.
package liquidity

import (
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/internal/window"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

const (
	maxRetention = 2 * time.Hour
	maxItems     = 2000

	// DefaultMaxAcceptableSlippagePct is the default slippage ceiling a
	// trade size must clear to be considered executable.
	DefaultMaxAcceptableSlippagePct = 5.0
	// defaultBufferPct is added on top of the raw constant-product
	// price impact to account for movement between quote and fill
	// (spec.md section 4.4); configurable per spec.md section 9(d).
	defaultBufferPct = 0.5

	// slippageSizesSOL are the trade sizes the slippage curve is reported
	// at (spec.md section 4.4).
)

var slippageSizesSOL = []float64{0.1, 0.5, 1, 2, 5, 10}

// Config tunes the liquidity analyzer's thresholds.
type Config struct {
	MaxAcceptableSlippagePct float64
	PriceImpactBufferPct     float64
}

// DefaultConfig returns the spec-documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxAcceptableSlippagePct: DefaultMaxAcceptableSlippagePct,
		PriceImpactBufferPct:     defaultBufferPct,
	}
}

// BondingProgress is the normalized shape of a consumed BondingProgress
// event.
type BondingProgress struct {
	Token          types.TokenId
	ProgressPct    float64
	VirtualSol     uint64
	VirtualTokens  uint64
	RealSol        uint64
	RealTokens     uint64
	TotalSupply    uint64
	InEntryZone    bool
	IsComplete     bool
	Time           types.Timestamp
}

type tokenState struct {
	latest     BondingProgress
	progressSeq *window.Numeric
	lastUpdate  types.Timestamp
	hasData     bool
}

func newTokenState() *tokenState {
	return &tokenState{progressSeq: window.NewNumeric(maxRetention, maxItems)}
}

// Analyzer tracks bonding-curve state per token.
type Analyzer struct {
	cfg   Config
	clock clock.Clock
	log   *zap.Logger

	tokens map[types.TokenId]*tokenState
}

// New creates a liquidity analyzer.
func New(cfg Config, clk clock.Clock, log *zap.Logger) *Analyzer {
	return &Analyzer{cfg: cfg, clock: clk, log: log.Named("liquidity_analyzer"), tokens: make(map[types.TokenId]*tokenState)}
}

func (a *Analyzer) stateFor(token types.TokenId) *tokenState {
	st, ok := a.tokens[token]
	if !ok {
		st = newTokenState()
		a.tokens[token] = st
	}
	return st
}

// Ingest records a BondingProgress update for its token.
func (a *Analyzer) Ingest(bp BondingProgress) {
	st := a.stateFor(bp.Token)
	st.latest = bp
	st.hasData = true
	st.lastUpdate = bp.Time
	price := Price(bp.VirtualSol, bp.VirtualTokens)
	st.progressSeq.Add(bp.ProgressPct, bp.Time)
	_ = price
}

// Evict drops all state for a token.
func (a *Analyzer) Evict(token types.TokenId) {
	delete(a.tokens, token)
}

// Price returns virtual_sol / virtual_tokens, the constant-product spot
// price in base units. Returns 0 if virtualTokens is 0.
func Price(virtualSol, virtualTokens uint64) float64 {
	if virtualTokens == 0 {
		return 0
	}
	return float64(virtualSol) / float64(virtualTokens)
}

// TokensOut returns the number of tokens received for spending sizeLamports
// of SOL against a constant-product pool, along with the raw (unbuffered)
// percentage price impact. The impact is the trade's effective price
// (size_in / tokens_out) versus the pre-trade spot price, not the
// post-trade spot price — matches spec.md section 8 scenario 1
// (30e9/1e6e6 reserves, 1e9 lamport trade -> ~32,258.06 tokens, ~3.33%).
func TokensOut(virtualSol, virtualTokens uint64, sizeLamports uint64) (tokensOut float64, rawSlippagePct float64) {
	if virtualSol == 0 || virtualTokens == 0 {
		return 0, 0
	}
	k := float64(virtualSol) * float64(virtualTokens)
	newVirtualSol := float64(virtualSol) + float64(sizeLamports)
	newVirtualTokens := k / newVirtualSol
	tokensOut = float64(virtualTokens) - newVirtualTokens
	if tokensOut == 0 {
		return 0, 0
	}

	spotBefore := float64(virtualSol) / float64(virtualTokens)
	effectivePrice := float64(sizeLamports) / tokensOut
	if spotBefore == 0 {
		return tokensOut, 0
	}
	rawSlippagePct = (effectivePrice - spotBefore) / spotBefore * 100
	return tokensOut, rawSlippagePct
}

// Slippage computes the buffered slippage percentage and executability for
// trading sizeSOL SOL against the given reserves.
func (a *Analyzer) Slippage(virtualSol, virtualTokens uint64, sizeSOL float64) types.SlippagePoint {
	sizeLamports := uint64(sizeSOL * 1e9)
	_, raw := TokensOut(virtualSol, virtualTokens, sizeLamports)
	total := raw + a.cfg.PriceImpactBufferPct
	return types.SlippagePoint{
		SizeSOL:     sizeSOL,
		SlippagePct: total,
		Executable:  total <= a.cfg.MaxAcceptableSlippagePct,
	}
}

// Compute recomputes LiquidityMetrics for token as of now.
func (a *Analyzer) Compute(token types.TokenId, now types.Timestamp) types.LiquidityMetrics {
	st, ok := a.tokens[token]
	if !ok || !st.hasData {
		return types.LiquidityMetrics{AnalyzerMetaMetrics: types.AnalyzerMetaMetrics{CalculatedAt: now, IsStale: true}}
	}
	bp := st.latest

	price := Price(bp.VirtualSol, bp.VirtualTokens)
	marketCap := uint64(price * float64(bp.TotalSupply))

	progress := bp.ProgressPct
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	points := make([]types.SlippagePoint, len(slippageSizesSOL))
	for i, s := range slippageSizesSOL {
		points[i] = a.Slippage(bp.VirtualSol, bp.VirtualTokens, s)
	}

	depthScore := depthScore(bp.VirtualSol)
	distance := 100 - progress

	velocity := st.progressSeq.Velocity(15*time.Minute, now) * 60 // %/sec -> %/min; Velocity returns slope per second since base is seconds

	var estTime *int64
	if velocity > 0 {
		minutes := distance / velocity
		ms := int64(minutes * 60 * 1000)
		estTime = &ms
	}

	trend := types.LiquidityTrendStable
	switch {
	case velocity > 0.5:
		trend = types.LiquidityTrendGrowing
	case velocity < -0.5:
		trend = types.LiquidityTrendShrinking
	}

	confidence := 1.0
	if st.progressSeq.Len() < 2 {
		confidence = 0.5
	}

	return types.LiquidityMetrics{
		AnalyzerMetaMetrics: types.AnalyzerMetaMetrics{
			CalculatedAt: now,
			Confidence:   confidence,
			DataAgeMs:    ageMs(st.lastUpdate, now),
		},
		Price:                price,
		MarketCapLamports:    marketCap,
		ProgressPct:          progress,
		IsComplete:           bp.IsComplete,
		InEntryZone:          bp.InEntryZone,
		Slippage:             points,
		DepthScore:           depthScore,
		DistanceToMigration:  distance,
		VelocityPctPerMinute: velocity,
		EstTimeToMigrationMs: estTime,
		Trend:                trend,
	}
}

// depthScore rates pool depth 0-10 from virtual SOL reserves; 85 SOL (the
// typical pump.fun graduation reserve) maps to a full score.
func depthScore(virtualSol uint64) float64 {
	sol := float64(virtualSol) / 1e9
	score := sol / 85.0 * 10.0
	if score > 10 {
		score = 10
	}
	return score
}

func ageMs(last, now types.Timestamp) int64 {
	if last == 0 {
		return 0
	}
	return now.Sub(last).Milliseconds()
}

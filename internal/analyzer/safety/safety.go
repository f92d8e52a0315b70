// Package safety implements the one-shot and periodic safety checks
// described in spec.md section 4.5: eight weighted checks feeding a 0-100
// score, plus an "instant reject" gate that overrides it.
//
// Spec.md section 9 open question (a) leaves the sub-check weight set
// unspecified in the sources; this implementation makes it a Config field
// with a documented default so operators can retune it without a code
// change.
package safety

import (
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Weights assigns a weight to each of the eight sub-checks; the sum should
// be 1.0 so the aggregate lands in [0,100].
type Weights struct {
	MintAuthority      float64
	FreezeAuthority    float64
	HolderDistribution float64
	CreatorHoldings    float64
	TokenAge           float64
	SocialPresence     float64
	LiquidityDepth     float64
	TradingPattern     float64
}

// DefaultWeights weights the eight checks unevenly, summing to 1: mint
// authority is heaviest (0.20), then freeze authority and holder
// distribution (0.15 each), creator holdings and liquidity depth (0.125
// each), token age (0.10), and social presence and trading pattern (0.075
// each).
func DefaultWeights() Weights {
	return Weights{
		MintAuthority:      0.20,
		FreezeAuthority:    0.15,
		HolderDistribution: 0.15,
		CreatorHoldings:    0.125,
		TokenAge:           0.10,
		SocialPresence:     0.075,
		LiquidityDepth:     0.125,
		TradingPattern:     0.075,
	}
}

// Config tunes the safety analyzer's thresholds.
type Config struct {
	Weights Weights

	// Instant-reject thresholds.
	CriticalTop10ConcentrationPct float64
	MinTokenAge                   time.Duration
}

// DefaultConfig returns spec-documented defaults.
func DefaultConfig() Config {
	return Config{
		Weights:                       DefaultWeights(),
		CriticalTop10ConcentrationPct: 80,
		MinTokenAge:                   10 * time.Second,
	}
}

// Input is the set of signals the safety analyzer reasons over, gathered
// from the other three analyzers plus on-chain authority state.
type Input struct {
	Token types.TokenId

	MintAuthorityRevoked   bool
	FreezeAuthorityRevoked bool
	Top10ConcentrationPct  float64
	CreatorHoldingsPct     float64
	TokenAge               time.Duration
	HasSocialPresence      bool
	LiquidityDepthScore    float64 // 0-10, from the liquidity analyzer
	WashScore              float64 // 0-1, from the volume analyzer
	KnownScamHeuristic     bool
}

type tokenState struct {
	lastInput  Input
	lastUpdate types.Timestamp
	hasData    bool
}

// Analyzer computes per-token safety metrics.
type Analyzer struct {
	cfg   Config
	clock clock.Clock
	log   *zap.Logger

	tokens map[types.TokenId]*tokenState
}

// New creates a safety analyzer.
func New(cfg Config, clk clock.Clock, log *zap.Logger) *Analyzer {
	return &Analyzer{cfg: cfg, clock: clk, log: log.Named("safety_analyzer"), tokens: make(map[types.TokenId]*tokenState)}
}

func (a *Analyzer) stateFor(token types.TokenId) *tokenState {
	st, ok := a.tokens[token]
	if !ok {
		st = &tokenState{}
		a.tokens[token] = st
	}
	return st
}

// Ingest records the latest safety-relevant signal snapshot for a token.
func (a *Analyzer) Ingest(in Input, t types.Timestamp) {
	st := a.stateFor(in.Token)
	st.lastInput = in
	st.lastUpdate = t
	st.hasData = true
}

// Evict drops all state for a token.
func (a *Analyzer) Evict(token types.TokenId) {
	delete(a.tokens, token)
}

// instantRejects evaluates the instant-reject conditions, returning the
// list of reasons that fired (empty slice means safe to score normally).
func (a *Analyzer) instantRejects(in Input) []string {
	var rejects []string
	if !in.MintAuthorityRevoked {
		rejects = append(rejects, "mint_authority_active")
	}
	if !in.FreezeAuthorityRevoked {
		rejects = append(rejects, "freeze_authority_active")
	}
	if in.Top10ConcentrationPct >= a.cfg.CriticalTop10ConcentrationPct {
		rejects = append(rejects, "top10_concentration_critical")
	}
	if in.TokenAge < a.cfg.MinTokenAge {
		rejects = append(rejects, "token_below_minimum_age")
	}
	if in.KnownScamHeuristic {
		rejects = append(rejects, "known_scam_heuristic")
	}
	return rejects
}

// Compute recomputes SafetyMetrics for token as of now.
func (a *Analyzer) Compute(token types.TokenId, now types.Timestamp) types.SafetyMetrics {
	st, ok := a.tokens[token]
	if !ok || !st.hasData {
		return types.SafetyMetrics{
			AnalyzerMetaMetrics: types.AnalyzerMetaMetrics{CalculatedAt: now, IsStale: true},
			IsSafe:              false,
		}
	}
	in := st.lastInput
	rejects := a.instantRejects(in)

	checks := map[string]float64{
		"mint_authority":      boolScore(in.MintAuthorityRevoked),
		"freeze_authority":    boolScore(in.FreezeAuthorityRevoked),
		"holder_distribution": concentrationScore(in.Top10ConcentrationPct),
		"creator_holdings":    creatorScore(in.CreatorHoldingsPct),
		"token_age":           ageScore(in.TokenAge),
		"social_presence":     boolScore(in.HasSocialPresence),
		"liquidity_depth":     in.LiquidityDepthScore / 10.0,
		"trading_pattern":     1.0 - in.WashScore,
	}

	w := a.cfg.Weights
	score := 100 * (checks["mint_authority"]*w.MintAuthority +
		checks["freeze_authority"]*w.FreezeAuthority +
		checks["holder_distribution"]*w.HolderDistribution +
		checks["creator_holdings"]*w.CreatorHoldings +
		checks["token_age"]*w.TokenAge +
		checks["social_presence"]*w.SocialPresence +
		checks["liquidity_depth"]*w.LiquidityDepth +
		checks["trading_pattern"]*w.TradingPattern)

	isSafe := len(rejects) == 0
	if !isSafe {
		score = 0
	}

	return types.SafetyMetrics{
		AnalyzerMetaMetrics: types.AnalyzerMetaMetrics{
			CalculatedAt: now,
			Confidence:   1.0,
			DataAgeMs:    ageMs(st.lastUpdate, now),
		},
		Score:             score,
		IsSafe:            isSafe,
		MintAuthorityOk:   in.MintAuthorityRevoked,
		FreezeAuthorityOk: in.FreezeAuthorityRevoked,
		TokenAgeMs:        in.TokenAge.Milliseconds(),
		HasSocialPresence: in.HasSocialPresence,
		InstantRejects:    rejects,
		CheckScores:       checks,
	}
}

func boolScore(ok bool) float64 {
	if ok {
		return 1.0
	}
	return 0.0
}

func concentrationScore(top10Pct float64) float64 {
	if top10Pct >= 80 {
		return 0
	}
	return 1.0 - top10Pct/80.0
}

func creatorScore(creatorPct float64) float64 {
	if creatorPct >= 50 {
		return 0
	}
	return 1.0 - creatorPct/50.0
}

func ageScore(age time.Duration) float64 {
	day := 24 * time.Hour
	if age >= day {
		return 1.0
	}
	return float64(age) / float64(day)
}

func ageMs(last, now types.Timestamp) int64 {
	if last == 0 {
		return 0
	}
	return now.Sub(last).Milliseconds()
}

// Package momentum implements the aggregator described in spec.md section
// 4.6: it combines the four analyzers' outputs into a 0-100 composite
// score with time decay, then tags a signal from an explicit priority list.
package momentum

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

const historyLen = 20

// Weights is the per-channel contribution to the composite score.
type Weights struct {
	Volume    float64
	Holders   float64
	Liquidity float64
	Safety    float64
}

// DefaultWeights matches spec.md section 4.6's stated defaults.
func DefaultWeights() Weights {
	return Weights{Volume: 0.25, Holders: 0.20, Liquidity: 0.30, Safety: 0.25}
}

// Config tunes the aggregator.
type Config struct {
	Weights          Weights
	TimeDecayEnabled bool
	TimeDecayHalfLife time.Duration
	RankingsTopN     int
}

// DefaultConfig returns spec-documented defaults.
func DefaultConfig() Config {
	return Config{
		Weights:           DefaultWeights(),
		TimeDecayEnabled:  true,
		TimeDecayHalfLife: 5 * time.Minute,
		RankingsTopN:      20,
	}
}

// AnalyzerSnapshots bundles the latest metrics read at the start of one
// aggregator tick, so the rest of the tick is consistent with them
// (spec.md section 5: "no mid-tick re-reads").
type AnalyzerSnapshots struct {
	Volume    types.VolumeMetrics
	Holder    types.HolderMetrics
	Liquidity types.LiquidityMetrics
	Safety    types.SafetyMetrics
}

type tokenState struct {
	history    []float64 // last N composite scores, most recent last
	lastSignalTime types.Timestamp
	migrated   bool
}

// Aggregator computes MomentumMetrics per tracked, non-migrated token on a
// periodic (default 15s) tick.
type Aggregator struct {
	cfg   Config
	clock clock.Clock
	log   *zap.Logger

	mu     sync.Mutex
	tokens map[types.TokenId]*tokenState
}

// New creates a momentum aggregator.
func New(cfg Config, clk clock.Clock, log *zap.Logger) *Aggregator {
	return &Aggregator{cfg: cfg, clock: clk, log: log.Named("momentum_aggregator"), tokens: make(map[types.TokenId]*tokenState)}
}

func (m *Aggregator) stateFor(token types.TokenId) *tokenState {
	st, ok := m.tokens[token]
	if !ok {
		st = &tokenState{}
		m.tokens[token] = st
	}
	return st
}

// Evict drops all state for a token.
func (m *Aggregator) Evict(token types.TokenId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, token)
}

// volumeSubscore maps VolumeMetrics onto a 0-100 subscore. Wash trading
// subtracts WashScore*20, i.e. 20 points at a wash score of 1.0 (spec.md
// section 8 scenario 4).
func volumeSubscore(v types.VolumeMetrics) float64 {
	score := 50.0
	switch {
	case v.Velocity >= 2.0:
		score = 90
	case v.Velocity >= 1.0:
		score = 75
	case v.Velocity >= 0.3:
		score = 60
	case v.Velocity <= -0.5:
		score = 20
	case v.Velocity < 0:
		score = 35
	}
	if v.HasSpike {
		score = math.Min(100, score+10)
	}
	if v.BuyRatio > 0.6 {
		score = math.Min(100, score+5)
	} else if v.BuyRatio < 0.4 {
		score = math.Max(0, score-10)
	}
	score -= v.WashScore * 20
	return clamp(score, 0, 100)
}

func holderSubscore(h types.HolderMetrics) float64 {
	score := 50.0
	switch h.Trend {
	case types.HolderTrendGrowing:
		score = 70
	case types.HolderTrendShrinking:
		score = 30
	}
	score += h.DistributionScore * 2 // 0-10 -> 0-20
	score += h.QualityScore * 1      // 0-10 -> 0-10
	score -= float64(len(h.RedFlags)) * 10
	return clamp(score, 0, 100)
}

func liquiditySubscore(l types.LiquidityMetrics) float64 {
	if l.IsComplete {
		return 0 // migrated: handled by the STRONG_SELL rule, not this subscore
	}
	score := 40.0
	if l.InEntryZone {
		score += 20
	}
	score += l.DepthScore * 3 // 0-10 -> 0-30
	switch l.Trend {
	case types.LiquidityTrendGrowing:
		score += 10
	case types.LiquidityTrendShrinking:
		score -= 15
	}
	return clamp(score, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Compute runs one aggregator tick for a single token, given a start-of-tick
// snapshot of its analyzer metrics (spec.md section 4.6).
func (m *Aggregator) Compute(token types.TokenId, snap AnalyzerSnapshots, migrated bool, now types.Timestamp) types.MomentumMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateFor(token)
	st.migrated = migrated

	volumeScore := volumeSubscore(snap.Volume)
	holderScore := holderSubscore(snap.Holder)
	liquidityScore := liquiditySubscore(snap.Liquidity)
	safetyScore := snap.Safety.Score

	w := m.cfg.Weights
	composite := volumeScore*w.Volume + holderScore*w.Holders + liquidityScore*w.Liquidity + safetyScore*w.Safety

	decayApplied := false
	if m.cfg.TimeDecayEnabled && st.lastSignalTime != 0 {
		elapsed := now.Sub(st.lastSignalTime)
		if elapsed > 0 && m.cfg.TimeDecayHalfLife > 0 {
			halfLives := elapsed.Seconds() / m.cfg.TimeDecayHalfLife.Seconds()
			decayFactor := math.Pow(0.5, halfLives)
			composite = 50 + (composite-50)*decayFactor
			decayApplied = decayFactor < 0.999
		}
	}

	completeness := dataCompleteness(snap)

	var reasons []string
	signal := types.SignalHold
	switch {
	case !snap.Safety.IsSafe:
		signal = types.SignalDoNotTrade
		reasons = append(reasons, "safety_override")
	case completeness < 0.5:
		signal = types.SignalHold
		reasons = append(reasons, "insufficient_data_completeness")
	case snap.Liquidity.IsComplete:
		signal = types.SignalStrongSell
		reasons = append(reasons, "migration_complete")
	default:
		switch {
		case composite >= 80:
			signal = types.SignalStrongBuy
		case composite >= 65:
			signal = types.SignalBuy
		case composite < 25:
			signal = types.SignalStrongSell
		case composite < 40:
			signal = types.SignalSell
		default:
			signal = types.SignalHold
		}
		reasons = append(reasons, "composite_score_threshold")
	}

	shouldEnter := signal.IsBuy() && snap.Liquidity.InEntryZone && snap.Safety.IsSafe
	shouldExit := signal.IsSell() || signal == types.SignalDoNotTrade

	st.history = append(st.history, composite)
	if len(st.history) > historyLen {
		st.history = st.history[len(st.history)-historyLen:]
	}
	st.lastSignalTime = now

	return types.MomentumMetrics{
		Token:          token,
		CalculatedAt:   now,
		Volume:         &snap.Volume,
		Holder:         &snap.Holder,
		Liquidity:      &snap.Liquidity,
		Safety:         &snap.Safety,
		VolumeScore:    volumeScore,
		HolderScore:    holderScore,
		LiquidityScore: liquidityScore,
		SafetyScore:    safetyScore,
		Score:            composite,
		Signal:           signal,
		InEntryZone:      snap.Liquidity.InEntryZone,
		ShouldEnter:      shouldEnter,
		ShouldExit:       shouldExit,
		Reasons:          reasons,
		TimeDecayApplied: decayApplied,
		DataCompleteness: completeness,
	}
}

// dataCompleteness is the weighted coverage of the four channels, counting
// only channels whose confidence exceeds 0.3 (spec.md section 4.6 step 5).
func dataCompleteness(snap AnalyzerSnapshots) float64 {
	w := DefaultWeights()
	var covered, total float64
	total = w.Volume + w.Holders + w.Liquidity + w.Safety
	if snap.Volume.Confidence > 0.3 {
		covered += w.Volume
	}
	if snap.Holder.Confidence > 0.3 {
		covered += w.Holders
	}
	if snap.Liquidity.Confidence > 0.3 {
		covered += w.Liquidity
	}
	if snap.Safety.Confidence > 0.3 {
		covered += w.Safety
	}
	if total == 0 {
		return 0
	}
	return covered / total
}

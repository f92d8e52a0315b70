// Package volume implements the per-token trade ingestion and volume
// metrics described in spec.md section 4.2: 5m/15m/1h volume, buy ratio,
// spikes and wash-trading heuristics.
package volume

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/internal/window"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

const (
	maxRetention  = 2 * time.Hour
	maxItems      = 5000
	traderStaleAfter = time.Hour

	spikeThreshold = 3.0
)

// Config tunes the thresholds used by the wash-trading and spike heuristics.
type Config struct {
	SpikeThreshold float64
}

// DefaultConfig returns the spec-documented default thresholds.
func DefaultConfig() Config {
	return Config{SpikeThreshold: spikeThreshold}
}

// Trade is the normalized shape of a consumed TokenTrade event.
type Trade struct {
	Token      types.TokenId
	Side       types.OrderSide
	Trader     string
	SolAmount  types.Lamport
	TokenAmount uint64
	Time       types.Timestamp
}

type traderInfo struct {
	lastSeen   types.Timestamp
	tradeCount int
	sawBuy     bool
	sawSell    bool
}

type tokenState struct {
	mu sync.Mutex

	trades    *window.Sequence[Trade]
	buyVol    *window.BigInt
	sellVol   *window.BigInt
	traders   map[string]*traderInfo
	lastSide  types.OrderSide
	alternations int
	sideObservations int

	lastUpdate types.Timestamp
	metrics    types.VolumeMetrics
}

func newTokenState() *tokenState {
	return &tokenState{
		trades:  window.NewSequence[Trade](maxRetention, maxItems),
		buyVol:  window.NewBigInt(maxRetention, maxItems),
		sellVol: window.NewBigInt(maxRetention, maxItems),
		traders: make(map[string]*traderInfo),
	}
}

// Analyzer ingests TokenTrade events and periodically emits VolumeMetrics
// per tracked token, per spec.md section 4.2.
type Analyzer struct {
	cfg    Config
	clock  clock.Clock
	log    *zap.Logger

	mu     sync.RWMutex
	tokens map[types.TokenId]*tokenState
}

// New creates a volume analyzer.
func New(cfg Config, clk clock.Clock, log *zap.Logger) *Analyzer {
	return &Analyzer{
		cfg:    cfg,
		clock:  clk,
		log:    log.Named("volume_analyzer"),
		tokens: make(map[types.TokenId]*tokenState),
	}
}

func (a *Analyzer) stateFor(token types.TokenId) *tokenState {
	a.mu.RLock()
	st, ok := a.tokens[token]
	a.mu.RUnlock()
	if ok {
		return st
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.tokens[token]; ok {
		return st
	}
	st = newTokenState()
	a.tokens[token] = st
	return st
}

// Ingest records one trade against its token's rolling state.
func (a *Analyzer) Ingest(tr Trade) {
	st := a.stateFor(tr.Token)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.trades.Add(tr, tr.Time)
	switch tr.Side {
	case types.OrderSideBuy:
		st.buyVol.Add(uint64(tr.SolAmount), tr.Time)
	case types.OrderSideSell:
		st.sellVol.Add(uint64(tr.SolAmount), tr.Time)
	}

	info, ok := st.traders[tr.Trader]
	if !ok {
		info = &traderInfo{}
		st.traders[tr.Trader] = info
	}
	info.lastSeen = tr.Time
	info.tradeCount++
	if tr.Side == types.OrderSideBuy {
		info.sawBuy = true
	} else {
		info.sawSell = true
	}

	if st.sideObservations > 0 && tr.Side != st.lastSide {
		st.alternations++
	}
	st.sideObservations++
	st.lastSide = tr.Side

	st.lastUpdate = tr.Time
}

// Evict drops all state for a token, called when the token registry sweeps
// it out of tracking.
func (a *Analyzer) Evict(token types.TokenId) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tokens, token)
}

// Compute recomputes and returns VolumeMetrics for token as of now, emitting
// every 30s per the spec's cadence (the caller controls scheduling).
func (a *Analyzer) Compute(token types.TokenId, now types.Timestamp) types.VolumeMetrics {
	st := a.stateFor(token)
	st.mu.Lock()
	defer st.mu.Unlock()
	return a.computeLocked(st, now)
}

func (a *Analyzer) computeLocked(st *tokenState, now types.Timestamp) types.VolumeMetrics {
	buy5m := st.buyVol.Sum(5*time.Minute, now)
	sell5m := st.sellVol.Sum(5*time.Minute, now)
	buy15m := st.buyVol.Sum(15*time.Minute, now)
	sell15m := st.sellVol.Sum(15*time.Minute, now)
	buy1h := st.buyVol.Sum(time.Hour, now)
	sell1h := st.sellVol.Sum(time.Hour, now)

	vol5m := buy5m + sell5m
	vol15m := buy15m + sell15m
	vol1h := buy1h + sell1h

	avgPer5m := float64(vol1h) / 12.0

	var velocity float64
	if avgPer5m != 0 {
		velocity = (float64(vol5m) - avgPer5m) / avgPer5m
	}

	var buyRatio float64 = 0.5
	if buy5m+sell5m != 0 {
		buyRatio = float64(buy5m) / float64(buy5m+sell5m)
	}

	hasSpike := avgPer5m > 0 && float64(vol5m) >= a.cfg.SpikeThreshold*avgPer5m

	washScore, sizeSkew := a.washAndSkew(st, now)

	trend := types.TrendStable
	switch {
	case velocity < -0.3:
		trend = types.TrendDecelerating
	case velocity > 0.5:
		trend = types.TrendAccelerating
	}

	recentCount := st.trades.CountWithin(5*time.Minute, now)
	hourlyCount := st.trades.CountWithin(time.Hour, now)
	confidence := confidenceFromCounts(recentCount, hourlyCount)

	metrics := types.VolumeMetrics{
		AnalyzerMetaMetrics: types.AnalyzerMetaMetrics{
			CalculatedAt: now,
			Confidence:   confidence,
			IsStale:      false,
			DataAgeMs:    ageMs(st.lastUpdate, now),
		},
		Volume5m:   uint64(vol5m),
		Volume15m:  uint64(vol15m),
		Volume1h:   uint64(vol1h),
		AvgPer5m:   avgPer5m,
		Velocity:   velocity,
		BuyRatio:   buyRatio,
		HasSpike:   hasSpike,
		WashScore:  washScore,
		SizeSkew:   sizeSkew,
		Trend:      trend,
		TradeCount: st.trades.CountWithin(time.Hour, now),
	}
	st.metrics = metrics
	return metrics
}

// washAndSkew evaluates the five wash-trading heuristics and the
// size-skew bot-likeness score over the 5-minute window (spec.md 4.2).
func (a *Analyzer) washAndSkew(st *tokenState, now types.Timestamp) (washScore, sizeSkew float64) {
	items := st.trades.ItemsWithin(5*time.Minute, now)
	if len(items) < 4 {
		return 0, 0
	}

	byTrader := make(map[string]*traderInfo)
	var bothSides, frequent int
	uniqueTraders := make(map[string]bool)
	var roundAmounts int
	var amounts []float64

	for _, it := range items {
		tr := it.Value
		uniqueTraders[tr.Trader] = true
		amounts = append(amounts, tr.SolAmount.SOL())
		info, ok := byTrader[tr.Trader]
		if !ok {
			info = &traderInfo{}
			byTrader[tr.Trader] = info
		}
		if tr.Side == types.OrderSideBuy {
			info.sawBuy = true
		} else {
			info.sawSell = true
		}
		info.tradeCount++

		rounded := math.Round(tr.SolAmount.SOL()*10) / 10
		if math.Abs(tr.SolAmount.SOL()-rounded) < 1e-9 {
			roundAmounts++
		}
	}
	for _, info := range byTrader {
		if info.sawBuy && info.sawSell {
			bothSides++
		}
		if info.tradeCount >= 3 {
			frequent++
		}
	}

	n := float64(len(items))
	fires := 0
	if float64(bothSides)/float64(len(byTrader)) > 0.3 {
		fires++
	}
	if float64(frequent)/float64(len(byTrader)) > 0.2 {
		fires++
	}
	if float64(len(uniqueTraders))/n <= 0.3 {
		fires++
	}
	if float64(roundAmounts)/n > 0.5 {
		fires++
	}

	alternations := 0
	for i := 1; i < len(items); i++ {
		if items[i].Value.Side != items[i-1].Value.Side {
			alternations++
		}
	}
	if n > 1 && float64(alternations)/(n-1) > 0.7 {
		fires++
	}

	washScore = float64(fires) / 5.0

	mean := 0.0
	for _, v := range amounts {
		mean += v
	}
	mean /= n
	if mean == 0 {
		return washScore, 0
	}
	var sumSq float64
	for _, v := range amounts {
		d := v - mean
		sumSq += d * d
	}
	stddev := math.Sqrt(sumSq / n)
	cv := stddev / mean

	switch {
	case cv < 0.3:
		sizeSkew = (0.3 - cv) / 0.3
	case cv > 1.0:
		sizeSkew = -math.Min((cv-1.0)/1.0, 1.0)
	}
	return washScore, sizeSkew
}

func confidenceFromCounts(recent, hourly int) float64 {
	conf := 0.0
	switch {
	case recent >= 10:
		conf = 1.0
	case recent >= 5:
		conf = 0.8
	case recent >= 1:
		conf = 0.5
	}
	if hourly >= 50 && conf < 1.0 {
		conf = math.Min(conf+0.1, 1.0)
	}
	return conf
}

func ageMs(last, now types.Timestamp) int64 {
	if last == 0 {
		return 0
	}
	return now.Sub(last).Milliseconds()
}

// Cleanup evicts stale trader entries (last_seen older than 1h) and prunes
// the rolling windows, run on the periodic sweep cadence.
func (a *Analyzer) Cleanup(now types.Timestamp) {
	a.mu.RLock()
	states := make([]*tokenState, 0, len(a.tokens))
	for _, st := range a.tokens {
		states = append(states, st)
	}
	a.mu.RUnlock()

	for _, st := range states {
		st.mu.Lock()
		st.trades.Cleanup(now)
		st.buyVol.Cleanup(now)
		st.sellVol.Cleanup(now)
		for trader, info := range st.traders {
			if now.Sub(info.lastSeen) >= traderStaleAfter {
				delete(st.traders, trader)
			}
		}
		st.mu.Unlock()
	}
}

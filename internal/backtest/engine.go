// Package backtest replays a fixed set of historical token timelines through
// the same analyzer, aggregator, risk, position and executor stack the live
// orchestrator uses (spec.md section 4.12), so correctness on live and
// historical inputs coincides by construction rather than by a parallel
// implementation. Grounded on the teacher's internal/backtester.Engine event
// loop shape (load events, drain a time-ordered queue, accumulate trades and
// an equity curve) with the domain logic replaced end to end.
package backtest

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/analyzer/holder"
	"github.com/atlas-desktop/trading-backend/internal/analyzer/liquidity"
	"github.com/atlas-desktop/trading-backend/internal/analyzer/safety"
	"github.com/atlas-desktop/trading-backend/internal/analyzer/volume"
	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/internal/eventsource"
	"github.com/atlas-desktop/trading-backend/internal/executor"
	"github.com/atlas-desktop/trading-backend/internal/killswitch"
	"github.com/atlas-desktop/trading-backend/internal/momentum"
	"github.com/atlas-desktop/trading-backend/internal/position"
	"github.com/atlas-desktop/trading-backend/internal/quote"
	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/internal/token"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// TokenTimeline is one replayed token's time-ordered event sequence.
type TokenTimeline struct {
	Token  types.TokenId
	Events []eventsource.Event
}

// MergeTimelines k-way merges per-token timelines (each already ascending by
// event time) into a single ascending stream, the synthesized event iterator
// spec.md section 2 calls for in place of the live source.
func MergeTimelines(timelines []TokenTimeline) []eventsource.Event {
	total := 0
	idx := make([]int, len(timelines))
	for _, tl := range timelines {
		total += len(tl.Events)
	}
	merged := make([]eventsource.Event, 0, total)
	for {
		bestI := -1
		var bestT types.Timestamp
		for i, tl := range timelines {
			if idx[i] >= len(tl.Events) {
				continue
			}
			t := EventTime(tl.Events[idx[i]])
			if bestI == -1 || t < bestT {
				bestI, bestT = i, t
			}
		}
		if bestI == -1 {
			break
		}
		merged = append(merged, timelines[bestI].Events[idx[bestI]])
		idx[bestI]++
	}
	return merged
}

// EventTime extracts the embedded timestamp regardless of event type.
func EventTime(ev eventsource.Event) types.Timestamp {
	switch ev.Type {
	case eventsource.EventTokenLaunched:
		return ev.Launched.Time
	case eventsource.EventBondingProgress:
		return ev.Progress.Time
	case eventsource.EventTokenTrade:
		return ev.Trade.Time
	case eventsource.EventTokenMigration:
		return ev.Migration.Time
	default:
		return 0
	}
}

// Config bundles every knob the live orchestrator would read from
// internal/config, so a grid search can vary them without touching env vars.
type Config struct {
	StartingCapital types.Lamport
	SolToken        types.TokenId
	UpdateTick      time.Duration

	RiskLimits      risk.Limits
	TrailingPercent float64
	RankingsTopN    int

	MomentumCfg  momentum.Config
	SafetyCfg    safety.Config
	LiquidityCfg liquidity.Config
	VolumeCfg    volume.Config
	ExecutorCfg  executor.Config
}

// DefaultConfig mirrors config.Default()'s trading parameters so a backtest
// run with no overrides reproduces the live defaults.
func DefaultConfig() Config {
	return Config{
		StartingCapital: types.LamportsFromSOL(10),
		UpdateTick:      15 * time.Second,
		RiskLimits: risk.Limits{
			MaxPositionSize:           types.LamportsFromSOL(1),
			MaxTotalExposure:          types.LamportsFromSOL(5),
			MaxConcurrentPositions:    5,
			MaxTradeFractionOfCapital: 0.1,
			MaxDailyLossPct:           10,
			MaxSlippageBps:            500,
			MinReserve:                types.LamportsFromSOL(0.2),
		},
		TrailingPercent: 15,
		RankingsTopN:    20,
		MomentumCfg:     momentum.DefaultConfig(),
		SafetyCfg:       safety.DefaultConfig(),
		LiquidityCfg:    liquidity.DefaultConfig(),
		VolumeCfg:       volume.DefaultConfig(),
		ExecutorCfg:     executor.DefaultConfig(),
	}
}

// EquityPoint is one sample of the equity curve, taken once per UpdateTick.
type EquityPoint struct {
	Time    types.Timestamp
	Capital types.Lamport
}

// Result is everything a report writer or optimizer needs from one run.
type Result struct {
	Trades       []types.Order
	EquityCurve  []EquityPoint
	FinalCapital types.Lamport
	DailyPnL     types.DailyPnL
}

// recordingSink captures fills into the engine's trade list (failed orders
// and opened positions are ignored) instead of writing them to a store, the one behavioral difference from the
// live orchestrator's noopSink (spec.md section 4.12, "simulated ... fees").
type recordingSink struct {
	engine *Engine
}

func (s *recordingSink) OrderFilled(order types.Order) {
	s.engine.trades = append(s.engine.trades, order)
}

func (s *recordingSink) OrderFailed(types.Order, error) {}

func (s *recordingSink) PositionOpened(*types.Position) {}

// Engine owns one isolated instance of the full analyzer/aggregator/risk/
// position/executor stack, driven by a clock.Replay instead of wall time.
type Engine struct {
	cfg Config
	log *zap.Logger
	clk *clock.Replay

	tokens     *token.Registry
	volumes    *volume.Analyzer
	holders    *holder.Analyzer
	liquidity  *liquidity.Analyzer
	safetyA    *safety.Analyzer
	aggregator *momentum.Aggregator
	rankings   *momentum.Rankings
	kill       *killswitch.Switch
	riskMgr    *risk.Manager
	positions  *position.Manager
	exec       *executor.Executor

	latestMetrics map[types.TokenId]types.MomentumMetrics

	trades []types.Order
	equity []EquityPoint
}

// NewEngine constructs one fresh, isolated replay pipeline. A new Engine
// must be built per run: state is not reset between calls to Run.
func NewEngine(cfg Config, log *zap.Logger) *Engine {
	clk := clock.NewReplay(0)
	kill := killswitch.New(clk, log)
	riskMgr := risk.New(cfg.RiskLimits, cfg.StartingCapital, clk, kill, log)
	positions := position.New(position.TrailingConfig{TrailingPercent: cfg.TrailingPercent}, clk, log)

	e := &Engine{
		cfg:           cfg,
		log:           log,
		clk:           clk,
		tokens:        token.NewRegistry(),
		volumes:       volume.New(cfg.VolumeCfg, clk, log),
		holders:       holder.New(clk, log),
		liquidity:     liquidity.New(cfg.LiquidityCfg, clk, log),
		safetyA:       safety.New(cfg.SafetyCfg, clk, log),
		aggregator:    momentum.New(cfg.MomentumCfg, clk, log),
		rankings:      momentum.NewRankings(cfg.RankingsTopN),
		kill:          kill,
		riskMgr:       riskMgr,
		positions:     positions,
		latestMetrics: make(map[types.TokenId]types.MomentumMetrics),
	}

	quotes := quote.NewPaper(clk, e.priceLookup)
	wallets := executor.NewWalletPool(nil)
	e.exec = executor.New(cfg.ExecutorCfg, quotes, riskMgr, positions, wallets, clk, &recordingSink{engine: e}, true, log)
	return e
}

func (e *Engine) priceLookup(t types.TokenId) (float64, bool) {
	m, ok := e.latestMetrics[t]
	if !ok || m.Liquidity == nil {
		return 0, false
	}
	return m.Liquidity.Price, true
}

// Run replays events (ascending by time; use MergeTimelines to combine
// per-token timelines) and returns the accumulated trades and equity curve.
// Deterministic given identical events and config (spec.md section 8,
// "replay determinism").
func (e *Engine) Run(ctx context.Context, events []eventsource.Event) (*Result, error) {
	var lastTick types.Timestamp
	tickMillis := types.Timestamp(e.cfg.UpdateTick.Milliseconds())

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := EventTime(ev)
		e.clk.Advance(t)

		if lastTick == 0 || t-lastTick >= tickMillis {
			e.tick(ctx)
			lastTick = t
		}

		e.handleEvent(ctx, ev)
	}
	e.tick(ctx)

	return &Result{
		Trades:       e.trades,
		EquityCurve:  e.equity,
		FinalCapital: e.riskMgr.CurrentCapital(),
		DailyPnL:     e.riskMgr.Snapshot(),
	}, nil
}

func (e *Engine) handleEvent(ctx context.Context, ev eventsource.Event) {
	switch ev.Type {
	case eventsource.EventTokenLaunched:
		l := ev.Launched
		e.tokens.Launch(l.Mint, l.Creator, l.Time)
	case eventsource.EventBondingProgress:
		p := ev.Progress
		e.tokens.Touch(p.Mint, p.Time)
		e.liquidity.Ingest(liquidity.BondingProgress{
			Token: p.Mint, ProgressPct: p.ProgressPct, VirtualSol: p.VirtualSol, VirtualTokens: p.VirtualTokens,
			RealSol: p.RealSol, RealTokens: p.RealTokens, TotalSupply: p.TotalSupply, InEntryZone: p.InEntryZone,
			IsComplete: p.ProgressPct >= 100, Time: p.Time,
		})
	case eventsource.EventTokenTrade:
		tr := ev.Trade
		e.tokens.Touch(tr.Mint, tr.Time)
		e.volumes.Ingest(volume.Trade{Token: tr.Mint, Side: tr.Side, Trader: tr.Trader, SolAmount: tr.SolAmount, TokenAmount: tr.TokenAmount, Time: tr.Time})
		creator := ""
		if tracked, ok := e.tokens.Get(tr.Mint); ok {
			creator = tracked.Creator
		}
		e.holders.RecordTrade(tr.Mint, creator, tr.Trader, tr.Side, tr.TokenAmount, "unknown", tr.Time)
	case eventsource.EventTokenMigration:
		m := ev.Migration
		e.tokens.Migrate(m.Mint, m.Time)
		e.onMigration(ctx, m.Mint)
	}
}

func (e *Engine) onMigration(ctx context.Context, t types.TokenId) {
	for _, pos := range e.positions.OpenPositions() {
		if pos.Token != t {
			continue
		}
		if trig := e.positions.MigrationExit(pos.ID); trig != nil {
			e.executeTrigger(ctx, trig, pos)
		}
	}
}

func (e *Engine) executeTrigger(ctx context.Context, trig *position.Trigger, pos *types.Position) {
	if _, err := e.exec.Sell(ctx, pos, e.cfg.SolToken, trig.SellPercent, trig.Reason); err != nil {
		e.log.Warn("backtest: sell failed", zap.String("token", pos.Token.String()), zap.Error(err))
	}
}

func (e *Engine) findOpenPosition(t types.TokenId) (*types.Position, bool) {
	for _, pos := range e.positions.OpenPositions() {
		if pos.Token == t {
			return pos, true
		}
	}
	return nil, false
}

// tick recomputes every non-migrated token's metrics and routes entries and
// exits, mirroring internal/orchestrator's update tick synchronously.
func (e *Engine) tick(ctx context.Context) {
	now := e.clk.Now()
	scores := make(map[types.TokenId]types.MomentumMetrics)

	for _, tracked := range e.tokens.NonMigrated() {
		t := tracked.Token
		vol := e.volumes.Compute(t, now)
		hol := e.holders.Compute(t, now)
		liq := e.liquidity.Compute(t, now)

		e.safetyA.Ingest(safety.Input{
			Token:                  t,
			MintAuthorityRevoked:   false,
			FreezeAuthorityRevoked: false,
			Top10ConcentrationPct:  hol.Top10Concentration,
			CreatorHoldingsPct:     hol.CreatorHoldingsPct,
			TokenAge:               now.Sub(tracked.LaunchTime),
			HasSocialPresence:      false,
			LiquidityDepthScore:    liq.DepthScore,
			WashScore:              vol.WashScore,
			KnownScamHeuristic:     false,
		}, now)
		saf := e.safetyA.Compute(t, now)

		metrics := e.aggregator.Compute(t, momentum.AnalyzerSnapshots{Volume: vol, Holder: hol, Liquidity: liq, Safety: saf}, false, now)
		e.latestMetrics[t] = metrics
		scores[t] = metrics

		if pos, open := e.findOpenPosition(t); open {
			if liq.Price > 0 {
				if trig := e.positions.UpdatePrice(pos.ID, liq.Price); trig != nil {
					e.executeTrigger(ctx, trig, pos)
					continue
				}
			}
			if metrics.ShouldExit {
				e.executeTrigger(ctx, &position.Trigger{PositionID: pos.ID, Token: t, SellPercent: 1.0, Reason: types.ExitReasonSignal}, pos)
			}
		} else if metrics.ShouldEnter {
			e.tryBuy(ctx, t)
		}
	}

	e.rankings.Update(scores, now)
	e.equity = append(e.equity, EquityPoint{Time: now, Capital: e.riskMgr.CurrentCapital()})
}

func (e *Engine) tryBuy(ctx context.Context, t types.TokenId) {
	decision := e.riskMgr.CheckBuy(e.riskMgr.CurrentCapital())
	if !decision.Allowed || decision.AdjustedSize == 0 {
		return
	}
	if _, err := e.exec.Buy(ctx, t, e.cfg.SolToken, decision.AdjustedSize); err != nil {
		e.log.Warn("backtest: buy failed", zap.String("token", t.String()), zap.Error(err))
	}
}

// sortTimelines orders timelines by their first event's time, used by the
// walk-forward partitioner to build chronological windows.
func sortTimelines(timelines []TokenTimeline) {
	sort.Slice(timelines, func(i, j int) bool {
		if len(timelines[i].Events) == 0 || len(timelines[j].Events) == 0 {
			return len(timelines[i].Events) > len(timelines[j].Events)
		}
		return EventTime(timelines[i].Events[0]) < EventTime(timelines[j].Events[0])
	})
}

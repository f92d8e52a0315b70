// Package orchestrator is the central integration point for the momentum
// trading bot: it owns gated startup, the event-to-analyzer-to-executor
// pipeline, health monitoring, pause/resume and ordered shutdown (spec.md
// section 4.11), grounded on the teacher's TradingOrchestrator start/stop
// sequencing and health/metrics loops.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/atlas-desktop/trading-backend/internal/analyzer/holder"
	"github.com/atlas-desktop/trading-backend/internal/analyzer/liquidity"
	"github.com/atlas-desktop/trading-backend/internal/analyzer/safety"
	"github.com/atlas-desktop/trading-backend/internal/analyzer/volume"
	"github.com/atlas-desktop/trading-backend/internal/chain"
	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/internal/config"
	"github.com/atlas-desktop/trading-backend/internal/eventsource"
	"github.com/atlas-desktop/trading-backend/internal/executor"
	"github.com/atlas-desktop/trading-backend/internal/killswitch"
	"github.com/atlas-desktop/trading-backend/internal/momentum"
	"github.com/atlas-desktop/trading-backend/internal/position"
	"github.com/atlas-desktop/trading-backend/internal/quote"
	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/internal/store"
	"github.com/atlas-desktop/trading-backend/internal/token"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// State is the orchestrator's top-level lifecycle state (spec.md section
// 4.11).
type State string

const (
	StateStarting     State = "STARTING"
	StateRunning      State = "RUNNING"
	StatePaused       State = "PAUSED"
	StateShuttingDown State = "SHUTTING_DOWN"
	StateStopped      State = "STOPPED"
)

// HealthState is a per-service health classification.
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthCritical HealthState = "critical"
)

// errorBudget is the number of consecutive failures after which a service
// goes critical; its first failure already marks it degraded (spec.md
// section 7, "error budget (default 10 errors without intervening success)").
const errorBudget = 10

// ServiceHealth is one row of the orchestrator's health table.
type ServiceHealth struct {
	Name                string
	State               HealthState
	ConsecutiveFailures int
	LastError           string
	LastCheck           types.Timestamp
}

// HealthCheck reports an error if the named service is currently unhealthy.
type HealthCheck func(ctx context.Context) error

// Config configures the orchestrator's periodic tasks; most thresholds
// come from internal/config.Config, copied in at construction time.
type Config struct {
	UpdateTick    time.Duration // analyzer Compute + aggregator tick
	HealthTick    time.Duration
	PersistTick   time.Duration
	PositionTick  time.Duration // position manager price-update tick
	ShutdownGrace time.Duration // bound on best-effort position close during shutdown
}

// DefaultConfig returns spec-documented tick intervals.
func DefaultConfig() Config {
	return Config{
		UpdateTick:    15 * time.Second,
		HealthTick:    10 * time.Second,
		PersistTick:   30 * time.Second,
		PositionTick:  5 * time.Second,
		ShutdownGrace: 30 * time.Second,
	}
}

// Orchestrator wires the event source, the four analyzers, the momentum
// aggregator, rankings, risk manager, position manager and executor into
// one supervised pipeline.
type Orchestrator struct {
	log   *zap.Logger
	cfg   Config
	clock clock.Clock

	eventSrc eventsource.Source
	quotes   quote.Provider
	st       store.Store

	tokens     *token.Registry
	volumes    *volume.Analyzer
	holders    *holder.Analyzer
	liquidity  *liquidity.Analyzer
	safetyA    *safety.Analyzer
	aggregator *momentum.Aggregator
	rankings   *momentum.Rankings

	kill      *killswitch.Switch
	riskMgr   *risk.Manager
	positions *position.Manager
	exec      *executor.Executor

	solToken types.TokenId

	mu            sync.Mutex
	state         State
	health        map[string]ServiceHealth
	healthChecks  map[string]HealthCheck
	latestMetrics map[types.TokenId]types.MomentumMetrics
	signalBuffer  []types.SignalRecord
	lastEventAt   types.Timestamp

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds an orchestrator from its fully-constructed dependencies. The
// CLI entrypoint is responsible for choosing concrete implementations
// (live vs. paper quote provider, MySQL vs. SQLite store, live vs. replay
// clock) and passing them in here.
func New(
	log *zap.Logger,
	cfg Config,
	clk clock.Clock,
	eventSrc eventsource.Source,
	quotes quote.Provider,
	st store.Store,
	kill *killswitch.Switch,
	riskMgr *risk.Manager,
	positions *position.Manager,
	exec *executor.Executor,
	momentumCfg momentum.Config,
	safetyCfg safety.Config,
	liquidityCfg liquidity.Config,
	volumeCfg volume.Config,
	solToken types.TokenId,
) *Orchestrator {
	o := &Orchestrator{
		log: log.Named("orchestrator"), cfg: cfg, clock: clk,
		eventSrc: eventSrc, quotes: quotes, st: st,
		tokens:     token.NewRegistry(),
		volumes:    volume.New(volumeCfg, clk, log),
		holders:    holder.New(clk, log),
		liquidity:  liquidity.New(liquidityCfg, clk, log),
		safetyA:    safety.New(safetyCfg, clk, log),
		aggregator: momentum.New(momentumCfg, clk, log),
		rankings:   momentum.NewRankings(momentumCfg.RankingsTopN),
		kill:       kill, riskMgr: riskMgr, positions: positions, exec: exec,
		solToken:      solToken,
		state:         StateStarting,
		health:        make(map[string]ServiceHealth),
		healthChecks:  make(map[string]HealthCheck),
		latestMetrics: make(map[types.TokenId]types.MomentumMetrics),
		stopCh:        make(chan struct{}),
	}
	kill.OnTrip(func(types.KillSwitchState) { o.pause("kill_switch") })
	return o
}

// NewFromConfig is a convenience constructor used by cmd/bot: it builds the
// risk/position/executor trio and the analyzer configs from a loaded
// internal/config.Config, then delegates to New.
func NewFromConfig(log *zap.Logger, appCfg *config.Config, clk clock.Clock, eventSrc eventsource.Source, quotes quote.Provider, st store.Store, wallets []chain.PublicKey, solToken types.TokenId) *Orchestrator {
	kill := killswitch.New(clk, log)

	limits := risk.Limits{
		MaxPositionSize:           types.LamportsFromSOL(appCfg.MaxPositionSOL),
		MaxTotalExposure:          types.LamportsFromSOL(appCfg.MaxTotalExposureSOL),
		MaxConcurrentPositions:    appCfg.MaxConcurrentPositions,
		MaxTradeFractionOfCapital: appCfg.MaxTradeFractionOfCapital,
		MaxDailyLossPct:           appCfg.MaxDailyLossPct,
		MaxSlippageBps:            appCfg.MaxSlippageBps,
		MinReserve:                types.LamportsFromSOL(appCfg.MinReserveSOL),
	}
	riskMgr := risk.New(limits, appCfg.StartingCapital(), clk, kill, log)

	positions := position.New(position.TrailingConfig{TrailingPercent: 15}, clk, log)

	execCfg := executor.DefaultConfig()
	execCfg.MaxRetries = appCfg.MaxRetries
	execCfg.RetryBaseDelay = appCfg.RetryBaseDelay
	execCfg.ConfirmationTimeout = appCfg.ConfirmationTimeout
	execCfg.MaxPriorityFeeLamports = types.Lamport(appCfg.MaxPriorityFeeLamports)
	execCfg.MaxSlippageBps = appCfg.MaxSlippageBps

	walletPool := executor.NewWalletPool(wallets)
	sink := &noopSink{}
	exec := executor.New(execCfg, quotes, riskMgr, positions, walletPool, clk, sink, appCfg.PaperTrading, log)

	momentumCfg := momentum.Config{
		Weights: momentum.Weights{
			Volume: appCfg.WeightVolume, Holders: appCfg.WeightHolders,
			Liquidity: appCfg.WeightLiquidity, Safety: appCfg.WeightSafety,
		},
		TimeDecayEnabled:  appCfg.TimeDecayEnabled,
		TimeDecayHalfLife: appCfg.TimeDecayHalfLife,
		RankingsTopN:      appCfg.RankingsTopN,
	}

	safetyCfg := safety.DefaultConfig()
	liquidityCfg := liquidity.DefaultConfig()
	liquidityCfg.PriceImpactBufferPct = appCfg.PriceImpactBufferPct
	volumeCfg := volume.DefaultConfig()

	o := New(log, DefaultConfig(), clk, eventSrc, quotes, st, kill, riskMgr, positions, exec, momentumCfg, safetyCfg, liquidityCfg, volumeCfg, solToken)
	sink.o = o
	return o
}

// noopSink adapts executor.EventSink to the orchestrator once it exists;
// set after construction to break the New()/executor.New() ordering cycle.
type noopSink struct{ o *Orchestrator }

func (s *noopSink) OrderFilled(order types.Order) {
	if s.o != nil {
		s.o.onOrderFilled(order)
	}
}
func (s *noopSink) OrderFailed(order types.Order, err error) {
	if s.o != nil {
		s.o.onOrderFailed(order, err)
	}
}
func (s *noopSink) PositionOpened(pos *types.Position) {
	if s.o != nil {
		s.o.onPositionOpened(pos)
	}
}

func (o *Orchestrator) onOrderFilled(order types.Order) {
	o.log.Info("order filled", zap.String("id", order.ID), zap.String("side", string(order.Side)))
	if err := o.st.SaveTrade(context.Background(), order); err != nil {
		o.log.Warn("persist trade failed", zap.Error(err))
	}
}

func (o *Orchestrator) onOrderFailed(order types.Order, err error) {
	o.log.Warn("order failed", zap.String("side", string(order.Side)), zap.Error(err))
}

func (o *Orchestrator) onPositionOpened(pos *types.Position) {
	o.log.Info("position opened", zap.String("id", pos.ID), zap.String("token", pos.Token.String()))
	if err := o.st.SavePosition(context.Background(), *pos); err != nil {
		o.log.Warn("persist position failed", zap.Error(err))
	}
}

// Start runs the gated startup sequence (spec.md section 4.11: config
// load happens before Start is even called; here we open the data store,
// register health checks, start the health monitor, load persisted state,
// start periodic tasks, and finally transition to Running). Each phase is
// a hard gate: a failure aborts startup.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateStarting {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: already started")
	}
	o.mu.Unlock()

	if err := o.st.Open(ctx); err != nil {
		return fmt.Errorf("orchestrator: open data store: %w", err)
	}

	o.registerHealthChecks()
	o.wg.Add(1)
	go o.healthLoop(ctx)

	if err := o.loadPersistedState(ctx); err != nil {
		return fmt.Errorf("orchestrator: load persisted state: %w", err)
	}

	o.wg.Add(1)
	go o.eventLoop(ctx)
	o.wg.Add(1)
	go o.updateLoop(ctx)
	o.wg.Add(1)
	go o.positionLoop(ctx)
	o.wg.Add(1)
	go o.persistLoop(ctx)
	o.wg.Add(1)
	go o.signalFlushLoop(ctx)

	o.mu.Lock()
	o.state = StateRunning
	o.mu.Unlock()
	o.log.Info("orchestrator running", zap.Bool("paper_trading", true))
	return nil
}

// Stop runs the shutdown sequence from spec.md section 4.11: stop periodic
// tasks and the health monitor, forbid new entries, close open positions
// best-effort and bounded, persist final state, close the data store.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateStopped || o.state == StateShuttingDown {
		o.mu.Unlock()
		return nil
	}
	o.state = StateShuttingDown
	o.mu.Unlock()

	o.log.Info("shutting down")
	close(o.stopCh)
	o.wg.Wait()

	closeCtx, cancel := context.WithTimeout(ctx, o.cfg.ShutdownGrace)
	defer cancel()
	o.closeAllPositions(closeCtx)

	if err := o.persistState(ctx); err != nil {
		o.log.Warn("final state persist failed", zap.Error(err))
	}
	if err := o.st.Close(); err != nil {
		o.log.Warn("data store close failed", zap.Error(err))
	}

	o.mu.Lock()
	o.state = StateStopped
	o.mu.Unlock()
	o.log.Info("stopped")
	return nil
}

// State returns the orchestrator's current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) pause(reason string) {
	o.mu.Lock()
	if o.state == StateRunning {
		o.state = StatePaused
	}
	o.mu.Unlock()
	o.log.Warn("trading paused", zap.String("reason", reason))
}

func (o *Orchestrator) resume() {
	o.mu.Lock()
	if o.state == StatePaused && !o.kill.IsActive() {
		o.state = StateRunning
	}
	o.mu.Unlock()
}

// closeAllPositions attempts a market exit on every open position, bounded
// by ctx's deadline; failures are logged and the position is left for the
// next run to retry (spec.md section 4.11, "best effort, bounded").
func (o *Orchestrator) closeAllPositions(ctx context.Context) {
	open := o.positions.OpenPositions()
	for _, pos := range open {
		if ctx.Err() != nil {
			o.log.Warn("shutdown grace period expired, positions left open", zap.Int("remaining", len(open)))
			return
		}
		if _, err := o.exec.Sell(ctx, pos, o.solToken, 1.0, types.ExitReasonEmergency); err != nil {
			o.log.Error("shutdown position close failed", zap.String("position", pos.ID), zap.Error(err))
		}
	}
}

// registerHealthChecks wires the health table's active probes (spec.md
// section 7: data store and event-source liveness with an error budget of
// errorBudget before degrading to critical).
func (o *Orchestrator) registerHealthChecks() {
	o.healthChecks["data_store"] = func(ctx context.Context) error {
		_, _, err := o.st.LoadBotState(ctx)
		return err
	}
	o.healthChecks["event_source"] = func(ctx context.Context) error {
		o.mu.Lock()
		last := o.lastEventAt
		o.mu.Unlock()
		if last == 0 {
			return nil // startup grace period, no event expected yet
		}
		if o.clock.Now().Sub(last) > 2*time.Minute {
			return fmt.Errorf("no events received in over 2 minutes")
		}
		return nil
	}
	for name := range o.healthChecks {
		o.health[name] = ServiceHealth{Name: name, State: HealthHealthy}
	}
}

// healthLoop runs every registered health check on HealthTick, demoting a
// service to degraded then critical as consecutive failures accrue, and
// pausing/resuming trading accordingly.
func (o *Orchestrator) healthLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.HealthTick)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.runHealthChecks(ctx)
		}
	}
}

func (o *Orchestrator) runHealthChecks(ctx context.Context) {
	o.mu.Lock()
	checks := make(map[string]HealthCheck, len(o.healthChecks))
	for name, check := range o.healthChecks {
		checks[name] = check
	}
	o.mu.Unlock()

	anyCritical := false
	for name, check := range checks {
		err := check(ctx)
		o.mu.Lock()
		h := o.health[name]
		if err != nil {
			h.ConsecutiveFailures++
			h.LastError = err.Error()
			switch {
			case h.ConsecutiveFailures >= errorBudget:
				h.State = HealthCritical
			default:
				h.State = HealthDegraded
			}
		} else {
			h.ConsecutiveFailures = 0
			h.LastError = ""
			h.State = HealthHealthy
		}
		h.LastCheck = o.clock.Now()
		o.health[name] = h
		if h.State == HealthCritical {
			anyCritical = true
		}
		o.mu.Unlock()
		if err != nil {
			o.log.Warn("health check failed", zap.String("service", name), zap.Error(err), zap.Int("consecutive", h.ConsecutiveFailures))
		}
	}

	if anyCritical {
		o.pause("health_critical")
		return
	}
	o.resume()
}

// PriceLookup resolves a token's latest computed price, in quote.Paper's
// PriceLookup shape; the CLI entrypoint wires this into quote.NewPaper with
// a late-bound closure since the orchestrator doesn't exist yet when the
// paper provider is constructed.
func (o *Orchestrator) PriceLookup(token types.TokenId) (float64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.latestMetrics[token]
	if !ok || m.Liquidity == nil {
		return 0, false
	}
	return m.Liquidity.Price, true
}

// Health returns a snapshot of the current per-service health table, for
// the dashboard surface.
func (o *Orchestrator) Health() map[string]ServiceHealth {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]ServiceHealth, len(o.health))
	for k, v := range o.health {
		out[k] = v
	}
	return out
}

// OpenPositions returns the currently open positions, for the dashboard
// surface.
func (o *Orchestrator) OpenPositions() []*types.Position {
	return o.positions.OpenPositions()
}

// Rankings returns the current top-N leaderboard, for the dashboard
// surface.
func (o *Orchestrator) Rankings() []types.RankEntry {
	return o.rankings.Current()
}

// RiskSnapshot returns the current daily P&L / kill-switch ledger, for the
// dashboard surface.
func (o *Orchestrator) RiskSnapshot() types.DailyPnL {
	return o.riskMgr.Snapshot()
}

// loadPersistedState restores open positions and the day's P&L ledger from
// the last graceful (or crash-recovered) shutdown, so a restart doesn't
// start blind to capital already deployed.
func (o *Orchestrator) loadPersistedState(ctx context.Context) error {
	state, ok, err := o.st.LoadBotState(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	for i := range state.OpenPositions {
		pos := state.OpenPositions[i]
		o.positions.Open(&pos)
		o.riskMgr.RecordOpen(pos.CostBasis)
	}
	o.log.Info("restored persisted state", zap.Int("open_positions", len(state.OpenPositions)), zap.String("day", state.Day))
	return nil
}

// persistState snapshots the risk ledger and open positions into one
// bot_state row.
func (o *Orchestrator) persistState(ctx context.Context) error {
	snap := o.riskMgr.Snapshot()
	open := o.positions.OpenPositions()
	positions := make([]types.Position, 0, len(open))
	for _, p := range open {
		positions = append(positions, *p)
	}
	state := store.BotState{
		SavedAt:         o.clock.Now(),
		Day:             snap.Date,
		CurrentCapital:  o.riskMgr.CurrentCapital(),
		DailyRealized:   snap.Realized,
		DailyTrades:     snap.TradeCount,
		DailyWins:       snap.Wins,
		DailyLosses:     snap.Losses,
		TradingPaused:   snap.TradingPaused,
		OpenPositions:   positions,
		KillSwitchState: o.kill.State(),
	}
	return o.st.SaveBotState(ctx, state)
}

// persistLoop periodically snapshots bot state so a crash loses at most one
// tick's worth of progress (spec.md section 4.11, "timer-based state
// persistence").
func (o *Orchestrator) persistLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.PersistTick)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.persistState(ctx); err != nil {
				o.log.Warn("periodic state persist failed", zap.Error(err))
			}
		}
	}
}

// signalFlushLoop runs on store.FlushInterval, independent of PersistTick,
// so a quiet period never strands a partial signal batch behind a longer
// state-persistence cadence.
func (o *Orchestrator) signalFlushLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(store.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			o.flushSignals(ctx)
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.flushSignals(ctx)
		}
	}
}

// flushSignals writes out whatever has accumulated in the signal buffer,
// in batches of store.SignalBatchSize, so a quiet period never stalls
// behind a half-full batch for longer than store.FlushInterval.
func (o *Orchestrator) flushSignals(ctx context.Context) {
	o.mu.Lock()
	pending := o.signalBuffer
	o.signalBuffer = nil
	o.mu.Unlock()
	if len(pending) == 0 {
		return
	}
	for start := 0; start < len(pending); start += store.SignalBatchSize {
		end := start + store.SignalBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := o.st.SaveSignals(ctx, pending[start:end]); err != nil {
			o.log.Warn("persist signals failed", zap.Error(err))
		}
	}
}

// eventLoop drives the event source until shutdown; a terminal Run error
// (reconnect budget exhausted) pauses trading rather than crashing the
// process, since the other loops keep functioning on already-ingested data.
func (o *Orchestrator) eventLoop(ctx context.Context) {
	defer o.wg.Done()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-o.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()
	if err := o.eventSrc.Run(runCtx, o.handleEvent); err != nil && runCtx.Err() == nil {
		o.log.Error("event source terminated", zap.Error(err))
		o.pause("event_source_terminated")
	}
}

// handleEvent fans a raw event out to the token registry and the relevant
// analyzer's Ingest method. It never returns an error: per spec.md section
// 7, a single bad event must never interrupt the stream.
func (o *Orchestrator) handleEvent(ev eventsource.Event) error {
	now := o.clock.Now()
	o.mu.Lock()
	o.lastEventAt = now
	o.mu.Unlock()

	switch ev.Type {
	case eventsource.EventTokenLaunched:
		l := ev.Launched
		o.tokens.Launch(l.Mint, l.Creator, l.Time)

	case eventsource.EventBondingProgress:
		p := ev.Progress
		o.tokens.Touch(p.Mint, p.Time)
		o.liquidity.Ingest(liquidity.BondingProgress{
			Token: p.Mint, ProgressPct: p.ProgressPct, VirtualSol: p.VirtualSol, VirtualTokens: p.VirtualTokens,
			RealSol: p.RealSol, RealTokens: p.RealTokens, TotalSupply: p.TotalSupply, InEntryZone: p.InEntryZone,
			IsComplete: p.ProgressPct >= 100, Time: p.Time,
		})

	case eventsource.EventTokenTrade:
		t := ev.Trade
		o.tokens.Touch(t.Mint, t.Time)
		o.volumes.Ingest(volume.Trade{Token: t.Mint, Side: t.Side, Trader: t.Trader, SolAmount: t.SolAmount, TokenAmount: t.TokenAmount, Time: t.Time})
		creator := ""
		if tracked, ok := o.tokens.Get(t.Mint); ok {
			creator = tracked.Creator
		}
		o.holders.RecordTrade(t.Mint, creator, t.Trader, t.Side, t.TokenAmount, "unknown", t.Time)

	case eventsource.EventTokenMigration:
		m := ev.Migration
		o.tokens.Migrate(m.Mint, m.Time)
		o.onMigration(m.Mint)

	case eventsource.EventConnected:
		o.log.Info("event stream connected", zap.Int("attempt", ev.Connected.Attempt))

	case eventsource.EventDisconnected:
		o.log.Warn("event stream disconnected", zap.String("reason", ev.Disconnected.Reason), zap.Bool("will_reconnect", ev.Disconnected.WillReconnect))

	case eventsource.EventError:
		o.log.Warn("event stream error", zap.String("msg", ev.Error.Msg))
	}
	return nil
}

// onMigration closes out any open position in the migrated token on a
// market exit; no new entries are ever taken after migration (spec.md
// section 3).
func (o *Orchestrator) onMigration(token types.TokenId) {
	for _, pos := range o.positions.OpenPositions() {
		if pos.Token != token {
			continue
		}
		if trigger := o.positions.MigrationExit(pos.ID); trigger != nil {
			o.executeTrigger(trigger, pos)
		}
	}
}

// executeTrigger runs a triggered exit asynchronously so the loop that
// raised it (position price updates, migration) is never blocked on bundle
// confirmation latency.
func (o *Orchestrator) executeTrigger(trigger *position.Trigger, pos *types.Position) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ShutdownGrace)
		defer cancel()
		if _, err := o.exec.Sell(ctx, pos, o.solToken, trigger.SellPercent, trigger.Reason); err != nil {
			o.log.Error("triggered exit failed", zap.String("position", pos.ID), zap.String("reason", string(trigger.Reason)), zap.Error(err))
		}
	}()
}

// positionLoop refreshes every open position's mark price from the
// liquidity analyzer's latest compute and routes any take-profit/
// stop-loss trigger to the executor.
func (o *Orchestrator) positionLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.PositionTick)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.refreshPositions()
		}
	}
}

func (o *Orchestrator) refreshPositions() {
	o.mu.Lock()
	metrics := make(map[types.TokenId]types.MomentumMetrics, len(o.latestMetrics))
	for k, v := range o.latestMetrics {
		metrics[k] = v
	}
	o.mu.Unlock()

	for _, pos := range o.positions.OpenPositions() {
		m, ok := metrics[pos.Token]
		if !ok || m.Liquidity == nil {
			continue
		}
		if trigger := o.positions.UpdatePrice(pos.ID, m.Liquidity.Price); trigger != nil {
			o.executeTrigger(trigger, pos)
		}
	}
}

// updateLoop is the heart of the pipeline: on each UpdateTick it computes
// every non-migrated token's four analyzer snapshots, feeds them through
// the safety gate and momentum aggregator, updates rankings, records the
// resulting signal and routes any entry decision to the executor (spec.md
// sections 4.6-4.9).
func (o *Orchestrator) updateLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.UpdateTick)
	defer ticker.Stop()
	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

// analyzerFanout bounds how many tokens are scored concurrently per tick;
// each token's volume/holder/liquidity/safety/aggregator pass is read-only
// over that token's own rolling windows, so tokens fan out independently
// and only the entry/exit decisions below run sequentially against the
// shared risk and position managers.
const analyzerFanout = 8

type tokenScore struct {
	tracked token.Tracked
	metrics types.MomentumMetrics
}

func (o *Orchestrator) tick(ctx context.Context) {
	if o.State() != StateRunning {
		return
	}
	now := o.clock.Now()
	tracked := o.tokens.NonMigrated()
	results := make([]tokenScore, len(tracked))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(analyzerFanout)
	for i, tr := range tracked {
		i, tr := i, *tr
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = tokenScore{tracked: tr, metrics: o.scoreToken(tr, now)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.log.Warn("analyzer fan-out interrupted", zap.Error(err))
		return
	}

	scores := make(map[types.TokenId]types.MomentumMetrics, len(results))
	var fresh []types.SignalRecord

	for _, r := range results {
		token, metrics := r.tracked.Token, r.metrics

		o.mu.Lock()
		o.latestMetrics[token] = metrics
		o.mu.Unlock()
		scores[token] = metrics

		if err := o.st.SaveTokenMetrics(ctx, token, metrics); err != nil {
			o.log.Warn("persist token metrics failed", zap.Error(err))
		}

		sig := types.SignalRecord{
			ID: fmt.Sprintf("%s-%d", token.String(), now), Token: token, Type: metrics.Signal,
			Score: metrics.Score, Breakdown: map[string]float64{
				"volume": metrics.VolumeScore, "holders": metrics.HolderScore,
				"liquidity": metrics.LiquidityScore, "safety": metrics.SafetyScore,
			}, Time: now,
		}
		fresh = append(fresh, sig)

		if metrics.ShouldEnter {
			if _, hasPosition := o.findOpenPosition(token); !hasPosition {
				o.tryBuy(token, metrics)
			}
		} else if metrics.ShouldExit {
			if pos, hasPosition := o.findOpenPosition(token); hasPosition {
				o.executeTrigger(&position.Trigger{PositionID: pos.ID, Token: token, SellPercent: 1.0, Reason: types.ExitReasonSignal}, pos)
			}
		}
	}

	o.mu.Lock()
	o.signalBuffer = append(o.signalBuffer, fresh...)
	o.mu.Unlock()

	_, events := o.rankings.Update(scores, now)
	for _, ev := range events {
		if ev.Entered {
			o.log.Info("entered top 10", zap.String("token", ev.Token.String()), zap.Int("rank", ev.Rank), zap.Float64("score", ev.Score))
		} else {
			o.log.Info("exited top 10", zap.String("token", ev.Token.String()))
		}
	}
}

// scoreToken runs one token's volume/holder/liquidity/safety analyzers and
// the momentum aggregator. Read-only over shared state besides the
// analyzers' own per-token windows, so it is safe to call concurrently
// across distinct tokens.
func (o *Orchestrator) scoreToken(tracked token.Tracked, now types.Timestamp) types.MomentumMetrics {
	tok := tracked.Token
	vol := o.volumes.Compute(tok, now)
	hol := o.holders.Compute(tok, now)
	liq := o.liquidity.Compute(tok, now)

	// Mint/freeze authority revocation requires an on-chain account
	// read this pipeline does not perform; default to "not revoked"
	// so an unknown token never gets a free pass on the safety score.
	o.safetyA.Ingest(safety.Input{
		Token:                  tok,
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
	saf := o.safetyA.Compute(tok, now)

	return o.aggregator.Compute(tok, momentum.AnalyzerSnapshots{
		Volume: vol, Holder: hol, Liquidity: liq, Safety: saf,
	}, false, now)
}

func (o *Orchestrator) findOpenPosition(token types.TokenId) (*types.Position, bool) {
	for _, pos := range o.positions.OpenPositions() {
		if pos.Token == token {
			return pos, true
		}
	}
	return nil, false
}

// tryBuy sizes and submits an entry order asynchronously; entry sizing is
// the risk manager's job (CheckBuy may shrink or reject), the executor
// only ever receives an already-cleared size.
func (o *Orchestrator) tryBuy(token types.TokenId, metrics types.MomentumMetrics) {
	// Propose the full current balance; CheckBuy clamps it down to whatever
	// the position/exposure/reserve/fraction-of-capital limits actually
	// allow, so the uncapped proposal here never matters on its own.
	decision := o.riskMgr.CheckBuy(o.riskMgr.CurrentCapital())
	if !decision.Allowed || decision.AdjustedSize == 0 {
		return
	}
	o.log.Info("entry signal", zap.String("token", token.String()), zap.String("signal", string(metrics.Signal)), zap.Float64("score", metrics.Score))
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.ShutdownGrace)
		defer cancel()
		if _, err := o.exec.Buy(ctx, token, o.solToken, decision.AdjustedSize); err != nil {
			o.log.Warn("buy failed", zap.String("token", token.String()), zap.Error(err))
		}
	}()
}

// Package executor implements the buy/sell pipeline described in spec.md
// section 4.10: quote -> risk-check -> build-and-submit -> confirm ->
// retry-with-fee-escalation -> position update.
package executor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/atlas-desktop/trading-backend/internal/boterrors"
	"github.com/atlas-desktop/trading-backend/internal/chain"
	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/internal/position"
	"github.com/atlas-desktop/trading-backend/internal/quote"
	"github.com/atlas-desktop/trading-backend/internal/risk"
	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/atlas-desktop/trading-backend/pkg/utils"
)

// Config tunes the executor's retry and fee-escalation behavior.
type Config struct {
	MaxRetries             int
	RetryBaseDelay         time.Duration
	ConfirmationTimeout    time.Duration
	MaxPriorityFeeLamports types.Lamport
	MaxSlippageBps         int
	ExtremePriceImpactPct  float64

	// QuoteRatePerSecond caps how often the executor hits the quote/submit
	// endpoint, per the event-source rate-limit contract (spec.md section
	// 5); QuoteBurst allows that many calls through before throttling.
	QuoteRatePerSecond float64
	QuoteBurst         int
}

// DefaultConfig returns spec-documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:             3,
		RetryBaseDelay:         2 * time.Second,
		ConfirmationTimeout:    60 * time.Second,
		MaxPriorityFeeLamports: 5_000_000,
		MaxSlippageBps:         500,
		ExtremePriceImpactPct:  20,
		QuoteRatePerSecond:     10,
		QuoteBurst:             5,
	}
}

// WalletPool round-robins across configured wallets (spec.md section 4.10,
// "pick a wallet round-robin").
type WalletPool struct {
	wallets []chain.PublicKey
	next    int
}

// NewWalletPool creates a round-robin pool over wallets.
func NewWalletPool(wallets []chain.PublicKey) *WalletPool {
	return &WalletPool{wallets: wallets}
}

// Next returns the next wallet in rotation.
func (w *WalletPool) Next() chain.PublicKey {
	if len(w.wallets) == 0 {
		return chain.PublicKey{}
	}
	wallet := w.wallets[w.next%len(w.wallets)]
	w.next++
	return wallet
}

// Fill is the outcome of a successful buy or sell attempt.
type Fill struct {
	Order            types.Order
	TokensOut        uint64
	ProceedsLamports types.Lamport
}

// EventSink receives lifecycle events the executor emits; the orchestrator
// and dashboard both subscribe through this narrow interface rather than
// the executor holding direct references to either (spec.md section 9).
type EventSink interface {
	OrderFilled(types.Order)
	OrderFailed(types.Order, error)
	PositionOpened(*types.Position)
}

// Executor runs the buy/sell pipeline against a quote.Provider, gated by a
// risk.Manager and feeding a position.Manager.
type Executor struct {
	cfg       Config
	quotes    quote.Provider
	risk      *risk.Manager
	positions *position.Manager
	wallets   *WalletPool
	clock     clock.Clock
	log       *zap.Logger
	sink      EventSink
	limiter   *rate.Limiter

	paperTrading bool
}

// New creates an executor.
func New(cfg Config, quotes quote.Provider, riskMgr *risk.Manager, positions *position.Manager, wallets *WalletPool, clk clock.Clock, sink EventSink, paperTrading bool, log *zap.Logger) *Executor {
	burst := cfg.QuoteBurst
	if burst <= 0 {
		burst = 1
	}
	return &Executor{
		cfg: cfg, quotes: quotes, risk: riskMgr, positions: positions, wallets: wallets,
		clock: clk, sink: sink, paperTrading: paperTrading, log: log.Named("executor"),
		limiter: rate.NewLimiter(rate.Limit(cfg.QuoteRatePerSecond), burst),
	}
}

// waitQuote blocks until the rate limiter admits another outbound
// quote/build/submit call, or the context is cancelled.
func (e *Executor) waitQuote(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return boterrors.Wrap(boterrors.KindNetwork, "rate limit wait", err)
	}
	return nil
}

// Buy runs the full buy pipeline for a signal-sized candidate order
// (spec.md section 4.10 step 1-4).
func (e *Executor) Buy(ctx context.Context, token, solToken types.TokenId, sizeLamports types.Lamport) (*Fill, error) {
	decision := e.risk.CheckBuy(sizeLamports)
	if !decision.Allowed {
		return nil, boterrors.New(boterrors.KindRisk, "buy rejected: "+decision.Reason)
	}
	size := decision.AdjustedSize

	wallet := e.wallets.Next()
	priorityFee := types.Lamport(0)
	slippageBps := e.cfg.MaxSlippageBps
	delay := e.cfg.RetryBaseDelay

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		order := types.Order{
			ID: utils.GenerateOrderID(), Token: token, Side: types.OrderSideBuy,
			Amount: size, SlippageBps: slippageBps, PriorityFee: priorityFee,
			Status: types.OrderStatusPending, Wallet: wallet.String(),
			CreatedAt: e.clock.Now(), UpdatedAt: e.clock.Now(), Retries: attempt - 1,
		}

		fill, err := e.attemptBuy(ctx, &order, token, solToken, size, wallet, priorityFee, slippageBps)
		if err == nil {
			e.risk.RecordOpen(size)
			pos := e.openPosition(order, fill)
			e.positions.Open(pos)
			e.sink.OrderFilled(order)
			e.sink.PositionOpened(pos)
			return fill, nil
		}
		lastErr = err
		e.log.Warn("buy attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if !e.sleepRetry(ctx, delay, attempt) {
			break
		}
		priorityFee = escalateFee(priorityFee, e.cfg.MaxPriorityFeeLamports)
	}

	order := types.Order{Token: token, Side: types.OrderSideBuy, Status: types.OrderStatusFailed}
	e.sink.OrderFailed(order, lastErr)
	return nil, boterrors.Wrap(boterrors.KindTransaction, "buy exhausted retries", lastErr)
}

func (e *Executor) attemptBuy(ctx context.Context, order *types.Order, token, solToken types.TokenId, size types.Lamport, wallet chain.PublicKey, priorityFee types.Lamport, slippageBps int) (*Fill, error) {
	if err := e.waitQuote(ctx); err != nil {
		return nil, err
	}
	q, err := e.quotes.GetQuote(ctx, solToken, token, uint64(size), slippageBps)
	if err != nil {
		return nil, boterrors.Wrap(boterrors.KindNetwork, "get quote", err)
	}
	if q.PriceImpactPct > e.cfg.ExtremePriceImpactPct {
		return nil, boterrors.New(boterrors.KindSlippage, "extreme price impact")
	}

	wireTx, err := e.quotes.BuildSwapTx(ctx, q, wallet, priorityFee)
	if err != nil {
		return nil, boterrors.Wrap(boterrors.KindTransaction, "build tx", err)
	}

	bundleID, err := e.quotes.SubmitBundle(ctx, []chain.WireTransaction{wireTx})
	if err != nil {
		return nil, boterrors.Wrap(boterrors.KindTransaction, "submit bundle", err)
	}

	status, err := e.awaitConfirmation(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	if status.State != quote.BundleLanded {
		return nil, boterrors.New(boterrors.KindTransaction, "bundle did not land: "+string(status.State))
	}

	order.Status = types.OrderStatusConfirmed
	order.UpdatedAt = e.clock.Now()
	order.ActualOutput = q.OutAmount
	order.ExpectedOutput = q.OutAmount
	order.Route = q.Route

	return &Fill{Order: *order, TokensOut: q.OutAmount, ProceedsLamports: size}, nil
}

// awaitConfirmation polls bundle status until landed/failed or the
// confirmation timeout elapses; paper trading confirms immediately.
func (e *Executor) awaitConfirmation(ctx context.Context, bundleID string) (quote.Status, error) {
	if e.paperTrading {
		return e.quotes.BundleStatus(ctx, bundleID)
	}

	deadline := time.NewTimer(e.cfg.ConfirmationTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return quote.Status{}, ctx.Err()
		case <-deadline.C:
			return quote.Status{}, boterrors.New(boterrors.KindTransaction, "confirmation timeout")
		case <-ticker.C:
			st, err := e.quotes.BundleStatus(ctx, bundleID)
			if err != nil {
				return quote.Status{}, boterrors.Wrap(boterrors.KindNetwork, "bundle status", err)
			}
			if st.State == quote.BundleLanded || st.State == quote.BundleFailed || st.State == quote.BundleInvalid {
				return st, nil
			}
		}
	}
}

func (e *Executor) openPosition(order types.Order, fill *Fill) *types.Position {
	entryPrice := float64(order.Amount) / float64(fill.TokensOut)
	return &types.Position{
		ID:            utils.GeneratePositionID(),
		Token:         order.Token,
		Status:        types.PositionStatusOpen,
		Wallet:        order.Wallet,
		EntryPrice:    entryPrice,
		EntryTime:     e.clock.Now(),
		InitialAmount: fill.TokensOut,
		CurrentAmount: fill.TokensOut,
		CostBasis:     order.Amount,
		CurrentPrice:  entryPrice,
		HighWaterMark: entryPrice,
	}
}

// Sell runs the sell pipeline for an exit trigger. If reason is Migration
// or Emergency, it starts at max priority fee with halved retry delay and
// max slippage, per spec.md section 4.10.
func (e *Executor) Sell(ctx context.Context, pos *types.Position, solToken types.TokenId, sellPercent float64, reason types.ExitReason) (*Fill, error) {
	if d := e.risk.CheckSell(); !d.Allowed {
		return nil, boterrors.New(boterrors.KindRisk, "sell rejected: "+d.Reason)
	}

	tokensToSell := uint64(float64(pos.InitialAmount) * sellPercent)
	if tokensToSell > pos.CurrentAmount {
		tokensToSell = pos.CurrentAmount
	}

	priorityFee := types.Lamport(0)
	slippageBps := e.cfg.MaxSlippageBps
	delay := e.cfg.RetryBaseDelay
	if reason == types.ExitReasonMigration || reason == types.ExitReasonEmergency {
		priorityFee = e.cfg.MaxPriorityFeeLamports
		delay = delay / 2
	}

	wallet, err := chain.ParsePublicKey(pos.Wallet)
	if err != nil {
		wallet = chain.PublicKey{}
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		order := types.Order{
			ID: utils.GenerateOrderID(), Token: pos.Token, Side: types.OrderSideSell,
			Amount: types.Lamport(tokensToSell), SlippageBps: slippageBps, PriorityFee: priorityFee,
			Status: types.OrderStatusPending, Wallet: pos.Wallet, PositionID: pos.ID, ExitReason: reason,
			CreatedAt: e.clock.Now(), UpdatedAt: e.clock.Now(), Retries: attempt - 1,
		}

		fill, err := e.attemptSell(ctx, &order, pos.Token, solToken, tokensToSell, wallet, priorityFee, slippageBps)
		if err == nil {
			fraction := 0.0
			if pos.InitialAmount > 0 {
				fraction = float64(fill.TokensOut) / float64(pos.InitialAmount)
			}
			releasedExposure := types.Lamport(float64(pos.CostBasis) * fraction)
			realizedThisSell := int64(fill.ProceedsLamports) - int64(releasedExposure)

			e.positions.ApplySell(pos.ID, fill.TokensOut, fill.ProceedsLamports, reason)
			positionClosed := true
			if updated, ok := e.positions.Get(pos.ID); ok {
				positionClosed = !updated.IsOpen()
			}
			e.risk.RecordTrade(releasedExposure, fill.ProceedsLamports, realizedThisSell, positionClosed)
			e.sink.OrderFilled(order)
			return fill, nil
		}
		lastErr = err
		e.log.Warn("sell attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if !e.sleepRetry(ctx, delay, attempt) {
			break
		}
		priorityFee = escalateFee(priorityFee, e.cfg.MaxPriorityFeeLamports)
	}

	order := types.Order{Token: pos.Token, Side: types.OrderSideSell, Status: types.OrderStatusFailed, PositionID: pos.ID, ExitReason: reason}
	e.sink.OrderFailed(order, lastErr)
	return nil, boterrors.Wrap(boterrors.KindTransaction, "sell exhausted retries", lastErr)
}

func (e *Executor) attemptSell(ctx context.Context, order *types.Order, token, solToken types.TokenId, tokensToSell uint64, wallet chain.PublicKey, priorityFee types.Lamport, slippageBps int) (*Fill, error) {
	if err := e.waitQuote(ctx); err != nil {
		return nil, err
	}
	q, err := e.quotes.GetQuote(ctx, token, solToken, tokensToSell, slippageBps)
	if err != nil {
		return nil, boterrors.Wrap(boterrors.KindNetwork, "get quote", err)
	}

	wireTx, err := e.quotes.BuildSwapTx(ctx, q, wallet, priorityFee)
	if err != nil {
		return nil, boterrors.Wrap(boterrors.KindTransaction, "build tx", err)
	}

	bundleID, err := e.quotes.SubmitBundle(ctx, []chain.WireTransaction{wireTx})
	if err != nil {
		return nil, boterrors.Wrap(boterrors.KindTransaction, "submit bundle", err)
	}

	status, err := e.awaitConfirmation(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	if status.State != quote.BundleLanded {
		return nil, boterrors.New(boterrors.KindTransaction, "bundle did not land: "+string(status.State))
	}

	order.Status = types.OrderStatusConfirmed
	order.UpdatedAt = e.clock.Now()
	order.ActualOutput = q.OutAmount
	order.Route = q.Route

	return &Fill{Order: *order, TokensOut: tokensToSell, ProceedsLamports: types.Lamport(q.OutAmount)}, nil
}

func (e *Executor) sleepRetry(ctx context.Context, delay time.Duration, attempt int) bool {
	wait := delay * time.Duration(attempt)
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func escalateFee(current, max types.Lamport) types.Lamport {
	next := types.Lamport(float64(current) * 1.5)
	if current == 0 {
		next = 100_000
	}
	if next > max {
		return max
	}
	return next
}

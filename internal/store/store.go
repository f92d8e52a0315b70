// Package store implements the persistent store boundary from spec.md
// section 6: signals, trades, positions, tokens, token_metrics (time
// series) and a single-row bot_state JSON blob, behind a narrow interface
// so the orchestrator and backtest engine share one persistence contract
// regardless of backend.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Store is the narrow persistence contract consumed by the orchestrator
// (spec.md section 6, "a relational store ... accessed via a narrow
// interface"). Signals are written in batches; everything else is
// write-through.
type Store interface {
	Open(ctx context.Context) error
	Close() error

	UpsertToken(ctx context.Context, token types.TokenId, creator string, launchedAt types.Timestamp) error
	SaveTokenMetrics(ctx context.Context, token types.TokenId, m types.MomentumMetrics) error

	SaveSignals(ctx context.Context, signals []types.SignalRecord) error
	SaveTrade(ctx context.Context, order types.Order) error
	SavePosition(ctx context.Context, pos types.Position) error

	SaveBotState(ctx context.Context, state BotState) error
	LoadBotState(ctx context.Context) (BotState, bool, error)
}

// BotState is the single-row JSON blob (id=1) persisted across restarts,
// letting the orchestrator resume open positions and the day's P&L ledger
// instead of starting cold (spec.md section 4.11, "load persisted state").
type BotState struct {
	SavedAt         types.Timestamp   `json:"savedAt"`
	Day             string            `json:"day"`
	CurrentCapital  types.Lamport     `json:"currentCapital"`
	DailyRealized   types.SignedLamport `json:"dailyRealized"`
	DailyTrades     int               `json:"dailyTrades"`
	DailyWins       int               `json:"dailyWins"`
	DailyLosses     int               `json:"dailyLosses"`
	TradingPaused   bool              `json:"tradingPaused"`
	OpenPositions   []types.Position  `json:"openPositions"`
	KillSwitchState types.KillSwitchState `json:"killSwitchState"`
}

// Marshal renders the state as the JSON blob stored in bot_state.value.
func (s BotState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// SignalBatchSize matches spec.md section 5's backpressure policy: signal
// persistence is buffered in batches of 50 with asynchronous flush.
const SignalBatchSize = 50

// FlushInterval bounds how long a partial batch waits before it is flushed
// anyway, so a quiet period never strands unwritten signals.
const FlushInterval = 5 * time.Second

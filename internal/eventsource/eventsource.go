// Package eventsource defines the consumed event-source boundary from
// spec.md section 6: a lazy, non-restartable stream of typed launch/
// trade/progress/migration events plus stream-lifecycle events, with
// reconnect-with-backoff left to the concrete implementation.
//
// Grounded on the teacher's internal/events event bus (typed events,
// Publish/Subscribe) adapted from a general trading-event bus into the
// fixed five-event on-chain contract this spec names.
package eventsource

import (
	"context"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// EventType tags which concrete event a Event carries.
type EventType string

const (
	EventTokenLaunched  EventType = "token_launched"
	EventBondingProgress EventType = "bonding_progress"
	EventTokenTrade     EventType = "token_trade"
	EventTokenMigration EventType = "token_migration"
	EventConnected      EventType = "connected"
	EventDisconnected   EventType = "disconnected"
	EventError          EventType = "error"
)

// TokenLaunched is emitted when a new token is created on the venue.
type TokenLaunched struct {
	Mint    types.TokenId
	Curve   string
	Name    string
	Symbol  string
	URI     string
	Creator string
	Sig     string
	Time    types.Timestamp
	Slot    uint64
}

// BondingProgress is emitted on every bonding-curve reserve update.
type BondingProgress struct {
	Mint          types.TokenId
	Curve         string
	ProgressPct   float64
	VirtualSol    uint64
	VirtualTokens uint64
	RealSol       uint64
	RealTokens    uint64
	TotalSupply   uint64
	InEntryZone   bool
	Sig           string
	Time          types.Timestamp
	Slot          uint64
}

// TokenTrade is emitted for every buy/sell against a tracked token.
type TokenTrade struct {
	Mint       types.TokenId
	Curve      string
	Side       types.OrderSide
	Trader     string
	SolAmount  types.Lamport
	TokenAmount uint64
	Sig        string
	Time       types.Timestamp
	Slot       uint64
}

// TokenMigration is emitted once, when a token graduates off the bonding
// curve into a standard AMM pool.
type TokenMigration struct {
	Mint           types.TokenId
	Curve          string
	Pool           string
	FinalProgressPct float64
	Sig            string
	Time           types.Timestamp
	Slot           uint64
}

// Connected reports a (re)established stream connection.
type Connected struct {
	Attempt int
}

// Disconnected reports a lost connection.
type Disconnected struct {
	Reason        string
	WillReconnect bool
}

// StreamError reports a non-fatal stream error.
type StreamError struct {
	Msg string
}

// Event wraps exactly one of the above payloads with its EventType tag.
type Event struct {
	Type        EventType
	Launched    *TokenLaunched
	Progress    *BondingProgress
	Trade       *TokenTrade
	Migration   *TokenMigration
	Connected   *Connected
	Disconnected *Disconnected
	Error       *StreamError
}

// Handler processes one event. A non-nil error is logged by the source but
// never stops the stream — analyzers
// never fail the pipeline (spec.md section 7).
type Handler func(Event) error

// Source is the consumed event-source capability (spec.md section 6).
// Implementations reconnect with exponential backoff (max 10 attempts) on
// disconnect and must never drop TokenLaunched/TokenMigration events;
// TokenTrade/BondingProgress events may be dropped under queue overflow.
type Source interface {
	// Run connects and delivers events to handler until ctx is cancelled
	// or the reconnect budget is exhausted.
	Run(ctx context.Context, handler Handler) error
}

// MaxReconnectAttempts bounds the exponential backoff reconnect loop.
const MaxReconnectAttempts = 10

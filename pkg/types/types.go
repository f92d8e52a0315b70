// Package types provides shared type definitions for the momentum trading bot.
package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TokenId is an opaque 32-byte on-chain token identifier (the mint address).
// Hex encoding/decoding is delegated to go-ethereum's common.Hash, which is
// the same 32-byte-array-plus-hex-codec shape; no chain client behavior is
// pulled in, only the codec.
type TokenId [32]byte

// String renders the id as 0x-prefixed hex, the same representation used in
// logs, CSV reports and the relational store's primary keys.
func (t TokenId) String() string {
	return common.Hash(t).Hex()
}

// MarshalJSON renders the id as a hex string.
func (t TokenId) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON parses a hex-string-encoded id.
func (t *TokenId) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	id, err := ParseTokenId(s)
	if err != nil {
		return err
	}
	*t = id
	return nil
}

// ParseTokenId decodes a hex-encoded 32-byte token id, with or without the
// "0x" prefix.
func ParseTokenId(s string) (TokenId, error) {
	var id TokenId
	trimmed := strings.TrimPrefix(s, "0x")
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("parse token id: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("parse token id: expected %d bytes, got %d", len(id), len(b))
	}
	return TokenId(common.BytesToHash(b)), nil
}

// Lamport is a base-unit amount of SOL (1 SOL = 1e9 lamports).
type Lamport uint64

// SOL converts lamports to a floating-point SOL amount for display only;
// accounting math stays in Lamport/uint64/big.Int, never float64.
func (l Lamport) SOL() float64 {
	return float64(l) / 1e9
}

// LamportsFromSOL converts a SOL amount to lamports, truncating.
func LamportsFromSOL(sol float64) Lamport {
	return Lamport(sol * 1e9)
}

// SignedLamport is a signed lamport amount, used for P&L fields which can
// go negative; Lamport itself stays unsigned because balances and order
// amounts never do.
type SignedLamport int64

// SOL converts to a floating-point SOL amount for display only.
func (l SignedLamport) SOL() float64 {
	return float64(l) / 1e9
}

// Timestamp is monotonic milliseconds since epoch, as supplied by the event
// source or the backtest replay driver. Analyzers never read the wall clock
// directly; see internal/clock.
type Timestamp int64

// TimestampFromTime converts a time.Time to a Timestamp.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMilli())
}

// Time converts a Timestamp back to a time.Time (UTC).
func (ts Timestamp) Time() time.Time {
	return time.UnixMilli(int64(ts)).UTC()
}

// Add returns ts shifted by d.
func (ts Timestamp) Add(d time.Duration) Timestamp {
	return ts + Timestamp(d.Milliseconds())
}

// Sub returns the duration between ts and other (ts - other).
func (ts Timestamp) Sub(other Timestamp) time.Duration {
	return time.Duration(int64(ts)-int64(other)) * time.Millisecond
}

// OrderSide is buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus is the lifecycle status of an order. Transitions are strictly
// forward (Pending -> Submitted -> Confirmed) except the terminal
// Failed/Cancelled/Expired states, reachable from any non-terminal status.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusExpired   OrderStatus = "expired"
)

// Terminal reports whether the status is one of the terminal states.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusConfirmed, OrderStatusFailed, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// ExitReason is a closed enumeration of why a position exit was initiated.
type ExitReason string

const (
	ExitReasonStopLoss   ExitReason = "stop_loss"
	ExitReasonTakeProfit ExitReason = "take_profit"
	ExitReasonSignal     ExitReason = "signal"
	ExitReasonMigration  ExitReason = "migration"
	ExitReasonEmergency  ExitReason = "emergency"
	ExitReasonManual     ExitReason = "manual"
)

// SignalType is a closed enumeration of momentum aggregator outputs.
type SignalType string

const (
	SignalStrongBuy  SignalType = "STRONG_BUY"
	SignalBuy        SignalType = "BUY"
	SignalHold       SignalType = "HOLD"
	SignalSell       SignalType = "SELL"
	SignalStrongSell SignalType = "STRONG_SELL"
	SignalDoNotTrade SignalType = "DO_NOT_TRADE"
)

// IsBuy reports whether the signal should be treated as a buy trigger.
func (s SignalType) IsBuy() bool {
	return s == SignalStrongBuy || s == SignalBuy
}

// IsSell reports whether the signal should be treated as a sell trigger.
func (s SignalType) IsSell() bool {
	return s == SignalStrongSell || s == SignalSell
}

// KillSwitchTrigger is a closed enumeration of kill-switch causes.
type KillSwitchTrigger string

const (
	KillSwitchManual      KillSwitchTrigger = "manual"
	KillSwitchDailyLoss   KillSwitchTrigger = "daily_loss"
	KillSwitchMaxDrawdown KillSwitchTrigger = "max_drawdown"
	KillSwitchErrorBudget KillSwitchTrigger = "error_threshold"
	KillSwitchRPCFailure  KillSwitchTrigger = "rpc_failure"
	KillSwitchSystemError KillSwitchTrigger = "system_error"
)

// PositionStatus is the lifecycle status of a position.
type PositionStatus string

const (
	PositionStatusPending    PositionStatus = "pending"
	PositionStatusOpen       PositionStatus = "open"
	PositionStatusClosing    PositionStatus = "closing"
	PositionStatusClosed     PositionStatus = "closed"
	PositionStatusLiquidated PositionStatus = "liquidated"
)

// TakeProfitLevel is one rung of a laddered take-profit schedule.
type TakeProfitLevel struct {
	Multiplier  float64 `json:"multiplier"`  // price = entry * Multiplier triggers this level
	SellPercent float64 `json:"sellPercent"` // fraction (0-1) of the *initial* amount to sell
	Triggered   bool    `json:"triggered"`
}

// Order represents a trading order, as laid out in spec.md section 3.
type Order struct {
	ID             string      `json:"id"`
	Token          TokenId     `json:"token"`
	Side           OrderSide   `json:"side"`
	Amount         Lamport     `json:"amount"`
	SlippageBps    int         `json:"slippageBps"`
	PriorityFee    Lamport     `json:"priorityFee"`
	FeeLamports    Lamport     `json:"feeLamports"`
	Status         OrderStatus `json:"status"`
	Wallet         string      `json:"wallet"`
	CreatedAt      Timestamp   `json:"createdAt"`
	UpdatedAt      Timestamp   `json:"updatedAt"`
	ExpectedOutput uint64      `json:"expectedOutput"`
	ActualOutput   uint64      `json:"actualOutput"`
	Retries        int         `json:"retries"`
	Route          string      `json:"route,omitempty"`
	PositionID     string      `json:"positionId,omitempty"`
	ExitReason     ExitReason  `json:"exitReason,omitempty"`
}

// Position represents a held (or formerly held) token position.
type Position struct {
	ID               string            `json:"id"`
	Token            TokenId           `json:"token"`
	Status           PositionStatus    `json:"status"`
	Wallet           string            `json:"wallet"`
	EntryPrice       float64           `json:"entryPrice"`
	EntryTime        Timestamp         `json:"entryTime"`
	InitialAmount    uint64            `json:"initialAmount"`
	CurrentAmount    uint64            `json:"currentAmount"`
	CostBasis        Lamport           `json:"costBasis"`
	CurrentPrice     float64           `json:"currentPrice"`
	HighWaterMark    float64           `json:"highWaterMark"`
	UnrealizedPnL    SignedLamport     `json:"unrealizedPnl"`
	RealizedPnL      SignedLamport     `json:"realizedPnl"`
	StopLossPrice    float64           `json:"stopLossPrice"`
	TakeProfitLevels []TakeProfitLevel `json:"takeProfitLevels"`
	ExitOrderIDs     []string          `json:"exitOrderIds"`
	ExitReason       ExitReason        `json:"exitReason,omitempty"`
}

// IsOpen reports whether the position still has exposure.
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen || p.Status == PositionStatusClosing || p.Status == PositionStatusPending
}

// TotalPnL is realized plus unrealized P&L. After closure UnrealizedPnL is 0
// so this is just RealizedPnL, matching the spec's total_pnl invariant.
func (p *Position) TotalPnL() SignedLamport {
	return p.RealizedPnL + p.UnrealizedPnL
}

// DailyPnL tracks capital performance for a single UTC trading day.
type DailyPnL struct {
	Date                string        `json:"date"` // YYYY-MM-DD, UTC
	StartingCapital     Lamport       `json:"startingCapital"`
	Realized            SignedLamport `json:"realized"`
	Unrealized          SignedLamport `json:"unrealized"`
	TradeCount          int     `json:"tradeCount"`
	Wins                int     `json:"wins"`
	Losses              int     `json:"losses"`
	LimitHit            bool    `json:"limitHit"`
	TradingPaused       bool    `json:"tradingPaused"`
	KillSwitchTriggered bool    `json:"killSwitchTriggered"`
}

// SignalRecord is a persisted record of an emitted momentum signal.
type SignalRecord struct {
	ID         string             `json:"id"`
	Token      TokenId            `json:"token"`
	Type       SignalType         `json:"type"`
	Score      float64            `json:"score"`
	Breakdown  map[string]float64 `json:"breakdown"`
	Time       Timestamp          `json:"time"`
	Executed   bool               `json:"executed"`
	ExecutedAt *Timestamp         `json:"executedAt,omitempty"`
	Result     string             `json:"result,omitempty"` // success, failed, skipped
}

// KillSwitchState is the single-writer, set-once-per-activation latch.
type KillSwitchState struct {
	Active      bool              `json:"active"`
	Reason      string            `json:"reason,omitempty"`
	TriggeredBy KillSwitchTrigger `json:"triggeredBy,omitempty"`
	TriggeredAt Timestamp         `json:"triggeredAt,omitempty"`
}

// VolumeTrend is a closed enumeration of directional volume momentum.
type VolumeTrend string

const (
	TrendAccelerating VolumeTrend = "Accelerating"
	TrendStable       VolumeTrend = "Stable"
	TrendDecelerating VolumeTrend = "Decelerating"
)

// HolderTrend / LiquidityTrend reuse the same three-way shape as VolumeTrend
// but are kept distinct types so an analyzer can't be handed another
// analyzer's trend by mistake.
type HolderTrend string

const (
	HolderTrendGrowing   HolderTrend = "Growing"
	HolderTrendStable    HolderTrend = "Stable"
	HolderTrendShrinking HolderTrend = "Shrinking"
)

type LiquidityTrend string

const (
	LiquidityTrendGrowing   LiquidityTrend = "Growing"
	LiquidityTrendStable    LiquidityTrend = "Stable"
	LiquidityTrendShrinking LiquidityTrend = "Shrinking"
)

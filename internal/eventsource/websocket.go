package eventsource

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// WebSocketSource connects to a pump.fun-style event-subscription endpoint
// over a websocket, decoding frames into Event values. Grounded on the
// teacher's blockchain.SolanaClient websocket handling, adapted from raw
// slot/mempool callbacks to the five typed events this spec names.
type WebSocketSource struct {
	url string
	log *zap.Logger
}

// NewWebSocketSource creates a source dialing url.
func NewWebSocketSource(url string, log *zap.Logger) *WebSocketSource {
	return &WebSocketSource{url: url, log: log.Named("eventsource_ws")}
}

// wireMessage is the raw frame shape before it is classified into a typed
// Event; the txType field (create, buy, sell, migrate or progress)
// distinguishes the event kind.
type wireMessage struct {
	TxType      string  `json:"txType"`
	Mint        string  `json:"mint"`
	BondingCurve string `json:"bondingCurveKey"`
	Name        string  `json:"name"`
	Symbol      string  `json:"symbol"`
	URI         string  `json:"uri"`
	TraderPublicKey string `json:"traderPublicKey"`
	Signature   string  `json:"signature"`
	Slot        uint64  `json:"slot"`
	VSolInCurve uint64  `json:"vSolInBondingCurve"`
	VTokInCurve uint64  `json:"vTokensInBondingCurve"`
	RealSol     uint64  `json:"realSolReserves"`
	RealTokens  uint64  `json:"realTokenReserves"`
	TotalSupply uint64  `json:"totalSupply"`
	MarketCapSol float64 `json:"marketCapSol"`
	Pool        string  `json:"pool"`
	SolAmount   float64 `json:"solAmount"`
	TokenAmount float64 `json:"tokenAmount"`
	IsBuy       bool    `json:"is_buy"`
}

// Run implements Source: dial, decode frames, reconnect with exponential
// backoff (base 1s, cap 30s, max 10 attempts) on disconnect, per spec.md
// section 6.
func (s *WebSocketSource) Run(ctx context.Context, handler Handler) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		attempt++
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			_ = handler(Event{Type: EventError, Error: &StreamError{Msg: err.Error()}})
			if attempt >= MaxReconnectAttempts {
				return fmt.Errorf("eventsource: exhausted %d reconnect attempts: %w", attempt, err)
			}
			if !sleepBackoff(ctx, attempt) {
				return ctx.Err()
			}
			continue
		}

		_ = handler(Event{Type: EventConnected, Connected: &Connected{Attempt: attempt}})
		reason, willReconnect := s.readLoop(ctx, conn, handler)
		_ = conn.Close()
		_ = handler(Event{Type: EventDisconnected, Disconnected: &Disconnected{Reason: reason, WillReconnect: willReconnect}})
		if !willReconnect {
			return nil
		}
		attempt = 0 // a successful connection resets the backoff counter
	}
}

func (s *WebSocketSource) readLoop(ctx context.Context, conn *websocket.Conn, handler Handler) (reason string, willReconnect bool) {
	for {
		select {
		case <-ctx.Done():
			return "context cancelled", false
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err.Error(), true
		}

		var msg wireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = handler(Event{Type: EventError, Error: &StreamError{Msg: "decode: " + err.Error()}})
			continue
		}

		ev, ok := classify(msg)
		if !ok {
			continue
		}
		if err := handler(ev); err != nil {
			s.log.Warn("event handler error", zap.Error(err))
		}
	}
}

func classify(msg wireMessage) (Event, bool) {
	now := types.TimestampFromTime(time.Now())
	mint, err := types.ParseTokenId(padHex(msg.Mint))
	if err != nil {
		return Event{}, false
	}

	switch msg.TxType {
	case "create":
		return Event{Type: EventTokenLaunched, Launched: &TokenLaunched{
			Mint: mint, Curve: msg.BondingCurve, Name: msg.Name, Symbol: msg.Symbol, URI: msg.URI,
			Creator: msg.TraderPublicKey, Sig: msg.Signature, Time: now, Slot: msg.Slot,
		}}, true
	case "buy", "sell":
		side := types.OrderSideSell
		if msg.TxType == "buy" || msg.IsBuy {
			side = types.OrderSideBuy
		}
		return Event{Type: EventTokenTrade, Trade: &TokenTrade{
			Mint: mint, Curve: msg.BondingCurve, Side: side, Trader: msg.TraderPublicKey,
			SolAmount: types.LamportsFromSOL(msg.SolAmount), TokenAmount: uint64(msg.TokenAmount),
			Sig: msg.Signature, Time: now, Slot: msg.Slot,
		}}, true
	case "migrate":
		return Event{Type: EventTokenMigration, Migration: &TokenMigration{
			Mint: mint, Curve: msg.BondingCurve, Pool: msg.Pool, FinalProgressPct: 100,
			Sig: msg.Signature, Time: now, Slot: msg.Slot,
		}}, true
	case "progress":
		progress := 0.0
		if msg.RealSol > 0 {
			const graduationThreshold = 85_000_000_000 // lamports
			progress = math.Min(100, float64(msg.RealSol)/graduationThreshold*100)
		}
		return Event{Type: EventBondingProgress, Progress: &BondingProgress{
			Mint: mint, Curve: msg.BondingCurve, ProgressPct: progress,
			VirtualSol: msg.VSolInCurve, VirtualTokens: msg.VTokInCurve,
			RealSol: msg.RealSol, RealTokens: msg.RealTokens, TotalSupply: msg.TotalSupply,
			InEntryZone: progress >= 70 && progress <= 95,
			Sig: msg.Signature, Time: now, Slot: msg.Slot,
		}}, true
	}
	return Event{}, false
}

// padHex hex-encodes the mint string's bytes and truncates the result to 64
// hex characters, or right-pads it with "0", giving a stable hex-decodable
// 32-byte id. Production wiring replaces this with the
// base58 mint address decoded directly via solana-go's PublicKey.
func padHex(mint string) string {
	h := fmt.Sprintf("%x", []byte(mint))
	if len(h) > 64 {
		return h[:64]
	}
	for len(h) < 64 {
		h += "0"
	}
	return h
}

func sleepBackoff(ctx context.Context, attempt int) bool {
	delay := time.Duration(math.Min(float64(30*time.Second), float64(time.Second)*math.Pow(2, float64(attempt-1))))
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

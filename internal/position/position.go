// Package position implements the position lifecycle manager described in
// spec.md section 4.9: laddered take-profit, trailing stop-loss moved to
// break-even after the first level, and partial-sell cost-basis accounting.
package position

import (
	"sync"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Trigger describes an action the position manager wants the executor to
// take. The executor consults this rather than the position manager
// calling into the executor directly (spec.md section 9: "neither owns
// the other").
type Trigger struct {
	PositionID  string
	Token       types.TokenId
	SellPercent float64 // fraction of the *initial* amount to sell
	Reason      types.ExitReason
	MaxSlippage bool
}

// TrailingConfig configures the trailing-stop behavior applied after the
// first take-profit level fires.
type TrailingConfig struct {
	TrailingPercent float64 // e.g. 15 means stop = price * 0.85
}

// Manager owns every open position's lifecycle, ticked on a 5-second
// cadence (spec.md section 4.9).
type Manager struct {
	clock clock.Clock
	log   *zap.Logger
	trail TrailingConfig

	mu        sync.Mutex
	positions map[string]*types.Position
}

// New creates a position manager.
func New(trail TrailingConfig, clk clock.Clock, log *zap.Logger) *Manager {
	return &Manager{clock: clk, log: log.Named("position_manager"), trail: trail, positions: make(map[string]*types.Position)}
}

// Open registers a new position, typically right after the executor's buy
// pipeline confirms a fill.
func (m *Manager) Open(p *types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = p
}

// Get returns the position with id, if open or recently closed.
func (m *Manager) Get(id string) (*types.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	return p, ok
}

// OpenPositions reports all currently-open positions.
func (m *Manager) OpenPositions() []*types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Position, 0, len(m.positions))
	for _, p := range m.positions {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	return out
}

// UpdatePrice refreshes a position's current price and unrealized P&L from
// the latest liquidity metric, and evaluates stop-loss / take-profit /
// trailing-stop triggers (spec.md section 4.9). Simultaneous stop-loss and
// take-profit triggers resolve take-profit-first (spec.md section 5).
func (m *Manager) UpdatePrice(id string, price float64) *Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[id]
	if !ok || !p.IsOpen() {
		return nil
	}
	p.CurrentPrice = price
	if price > p.HighWaterMark {
		p.HighWaterMark = price
	}
	p.UnrealizedPnL = unrealizedPnL(p)

	if trigger := m.checkTakeProfit(p); trigger != nil {
		return trigger
	}
	if price <= p.StopLossPrice && p.StopLossPrice > 0 {
		return &Trigger{PositionID: p.ID, Token: p.Token, SellPercent: 1.0, Reason: types.ExitReasonStopLoss, MaxSlippage: true}
	}
	return nil
}

func (m *Manager) checkTakeProfit(p *types.Position) *Trigger {
	for i := range p.TakeProfitLevels {
		level := &p.TakeProfitLevels[i]
		if level.Triggered {
			continue
		}
		target := p.EntryPrice * level.Multiplier
		if p.CurrentPrice < target {
			continue
		}
		level.Triggered = true

		isFinal := i == len(p.TakeProfitLevels)-1
		sellPct := level.SellPercent
		if isFinal {
			sellPct = 1.0 // final level always sells all remaining, not its configured percent
		}

		if i == 0 {
			p.StopLossPrice = p.EntryPrice // moved to break-even after first level
		} else if m.trail.TrailingPercent > 0 {
			newStop := p.CurrentPrice * (1 - m.trail.TrailingPercent/100)
			if newStop > p.StopLossPrice {
				p.StopLossPrice = newStop
			}
		}

		return &Trigger{PositionID: p.ID, Token: p.Token, SellPercent: sellPct, Reason: types.ExitReasonTakeProfit}
	}
	return nil
}

// MigrationExit forces a 100% sell at max slippage, used when the
// liquidity analyzer reports migration complete while a position is held
// (spec.md section 4.10, scenario 8).
func (m *Manager) MigrationExit(id string) *Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok || !p.IsOpen() {
		return nil
	}
	return &Trigger{PositionID: p.ID, Token: p.Token, SellPercent: 1.0, Reason: types.ExitReasonMigration, MaxSlippage: true}
}

// ApplySell records a (partial or full) sell fill against a position,
// updating cost basis proportionally to the sold fraction of the initial
// amount, and closes the position when nothing remains (spec.md 4.9).
func (m *Manager) ApplySell(id string, tokensSold uint64, proceeds types.Lamport, reason types.ExitReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return
	}

	if tokensSold > p.CurrentAmount {
		tokensSold = p.CurrentAmount
	}
	fraction := 0.0
	if p.InitialAmount > 0 {
		fraction = float64(tokensSold) / float64(p.InitialAmount)
	}
	costBasisSold := types.Lamport(float64(p.CostBasis) * fraction)

	realizedThisSell := types.SignedLamport(int64(proceeds) - int64(costBasisSold))
	p.RealizedPnL += realizedThisSell
	p.CurrentAmount -= tokensSold
	p.CostBasis -= costBasisSold

	if p.CurrentAmount == 0 {
		p.ExitReason = reason
		if reason == types.ExitReasonStopLoss || reason == types.ExitReasonEmergency {
			p.Status = types.PositionStatusLiquidated
		} else {
			p.Status = types.PositionStatusClosed
		}
		p.UnrealizedPnL = 0
	} else {
		p.Status = types.PositionStatusOpen
		p.UnrealizedPnL = unrealizedPnL(p)
	}
}

func unrealizedPnL(p *types.Position) types.SignedLamport {
	if p.CurrentAmount == 0 {
		return 0
	}
	currentValue := p.CurrentPrice * float64(p.CurrentAmount)
	return types.SignedLamport(int64(currentValue) - int64(p.CostBasis))
}

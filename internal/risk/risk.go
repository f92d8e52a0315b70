// Package risk implements the capital ledger and per-trade risk gate
// described in spec.md section 4.8, grounded on the teacher's
// execution.RiskManager but redone around a lamport capital ledger and the
// seven SOL-denominated limits this spec actually calls for.
package risk

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/internal/killswitch"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Limits are the configurable risk-manager thresholds (spec.md 4.8).
type Limits struct {
	MaxPositionSize           types.Lamport
	MaxTotalExposure          types.Lamport
	MaxConcurrentPositions    int
	MaxTradeFractionOfCapital float64
	MaxDailyLossPct           float64
	MaxSlippageBps            int
	MinReserve                types.Lamport
}

// Decision is the result of a buy pre-check.
type Decision struct {
	Allowed      bool
	Reason       string
	AdjustedSize types.Lamport
}

// Manager holds the capital ledger and evaluates every candidate order
// against the configured limits before the executor is allowed to act on
// it (spec.md section 4.8).
type Manager struct {
	limits Limits
	clock  clock.Clock
	kill   *killswitch.Switch
	log    *zap.Logger

	mu sync.Mutex

	startingCapital   types.Lamport
	currentCapital    types.Lamport
	realizedPnLSigned int64
	openPositions     int
	exposure          types.Lamport

	day            string
	dailyRealized  int64
	dailyTrades    int
	dailyWins      int
	dailyLosses    int
	dailyLimitHit  bool
	tradingPaused  bool
}

// New creates a risk manager seeded with startingCapital.
func New(limits Limits, startingCapital types.Lamport, clk clock.Clock, kill *killswitch.Switch, log *zap.Logger) *Manager {
	return &Manager{
		limits:          limits,
		clock:           clk,
		kill:            kill,
		log:             log.Named("risk_manager"),
		startingCapital: startingCapital,
		currentCapital:  startingCapital,
		day:             dayOf(clk.Now()),
	}
}

func dayOf(t types.Timestamp) string {
	return t.Time().Format("2006-01-02")
}

func (m *Manager) rolloverIfNeeded(now types.Timestamp) {
	d := dayOf(now)
	if d == m.day {
		return
	}
	m.day = d
	m.dailyRealized = 0
	m.dailyTrades = 0
	m.dailyWins = 0
	m.dailyLosses = 0
	m.dailyLimitHit = false
	m.tradingPaused = false
}

// CheckBuy validates a candidate buy of size lamports, possibly reducing it
// to fit the exposure/position caps, per spec.md section 4.8.
func (m *Manager) CheckBuy(size types.Lamport) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	m.rolloverIfNeeded(now)

	if m.kill.IsActive() {
		return Decision{Allowed: false, Reason: "kill_switch_active"}
	}
	if m.tradingPaused {
		return Decision{Allowed: false, Reason: "trading_paused"}
	}
	if m.openPositions >= m.limits.MaxConcurrentPositions {
		return Decision{Allowed: false, Reason: "max_concurrent_positions"}
	}

	adjusted := size
	if adjusted > m.limits.MaxPositionSize {
		adjusted = m.limits.MaxPositionSize
	}

	maxByFraction := types.Lamport(float64(m.currentCapital) * m.limits.MaxTradeFractionOfCapital)
	if adjusted > maxByFraction {
		adjusted = maxByFraction
	}

	if m.exposure+adjusted > m.limits.MaxTotalExposure {
		remaining := m.limits.MaxTotalExposure - m.exposure
		if remaining <= 0 {
			return Decision{Allowed: false, Reason: "max_total_exposure"}
		}
		if adjusted > remaining {
			adjusted = remaining
		}
	}

	if m.currentCapital < m.limits.MinReserve {
		return Decision{Allowed: false, Reason: "below_minimum_reserve"}
	}
	available := m.currentCapital - m.limits.MinReserve
	if adjusted > available {
		adjusted = available
	}

	if adjusted <= 0 {
		return Decision{Allowed: false, Reason: "no_capacity"}
	}

	return Decision{Allowed: true, AdjustedSize: adjusted}
}

// CheckSell only blocks when the kill switch is active (spec.md 4.8).
func (m *Manager) CheckSell() Decision {
	if m.kill.IsActive() {
		return Decision{Allowed: false, Reason: "kill_switch_active"}
	}
	return Decision{Allowed: true}
}

// RecordOpen reserves exposure for a newly-opened position.
func (m *Manager) RecordOpen(size types.Lamport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exposure += size
	m.currentCapital -= size
	m.openPositions++
}

// RecordTrade updates the ledger after a position closes or partially
// sells, releasing exposure and booking realized P&L. It may flip
// daily_limit_hit, pausing trading and tripping the kill switch with
// reason daily_loss (spec.md section 4.8, scenario 7).
func (m *Manager) RecordTrade(releasedExposure types.Lamport, proceeds types.Lamport, realizedPnL int64, positionClosed bool) {
	m.mu.Lock()
	now := m.clock.Now()
	m.rolloverIfNeeded(now)

	if releasedExposure > m.exposure {
		m.exposure = 0
	} else {
		m.exposure -= releasedExposure
	}
	m.currentCapital += proceeds
	m.realizedPnLSigned += realizedPnL
	m.dailyRealized += realizedPnL
	m.dailyTrades++
	if realizedPnL >= 0 {
		m.dailyWins++
	} else {
		m.dailyLosses++
	}
	if positionClosed && m.openPositions > 0 {
		m.openPositions--
	}

	lossLimit := int64(float64(m.startingCapital) * m.limits.MaxDailyLossPct / 100.0)
	hit := m.dailyRealized <= -lossLimit && lossLimit > 0
	var shouldTrip bool
	if hit && !m.dailyLimitHit {
		m.dailyLimitHit = true
		m.tradingPaused = true
		shouldTrip = true
	}
	m.mu.Unlock()

	if shouldTrip {
		m.log.Warn("daily loss limit hit, pausing trading", zap.Int64("daily_realized_lamports", m.dailyRealized))
		m.kill.Trip(types.KillSwitchDailyLoss, fmt.Sprintf("daily realized pnl %d lamports breached limit", m.dailyRealized))
	}
}

// Snapshot returns the current DailyPnL view.
func (m *Manager) Snapshot() types.DailyPnL {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	m.rolloverIfNeeded(now)
	return types.DailyPnL{
		Date:            m.day,
		StartingCapital: m.startingCapital,
		Realized:        types.SignedLamport(m.dailyRealized),
		Unrealized:      0,
		TradeCount:      m.dailyTrades,
		Wins:            m.dailyWins,
		Losses:          m.dailyLosses,
		LimitHit:        m.dailyLimitHit,
		TradingPaused:   m.tradingPaused,
		KillSwitchTriggered: m.kill.IsActive(),
	}
}

// CurrentCapital returns the current available (non-reserved) capital.
func (m *Manager) CurrentCapital() types.Lamport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentCapital
}

// Exposure returns total reserved exposure across open positions.
func (m *Manager) Exposure() types.Lamport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exposure
}

// TradingPaused reports whether trading is currently paused.
func (m *Manager) TradingPaused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tradingPaused
}

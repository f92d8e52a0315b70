// Package killswitch implements the single-set latch described in spec.md
// sections 3 and 9: once tripped it stays tripped, and registered callbacks
// fire exactly once, in registration order.
package killswitch

import (
	"sync"

	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Callback is invoked once, in registration order, when the switch trips.
type Callback func(types.KillSwitchState)

// Switch is the well-known, single-writer kill-switch location; every
// entry point that performs a side effect must consult IsActive before
// doing so (spec.md section 5).
type Switch struct {
	clock clock.Clock
	log   *zap.Logger

	mu        sync.RWMutex
	state     types.KillSwitchState
	callbacks []Callback
}

// New creates an inactive kill switch.
func New(clk clock.Clock, log *zap.Logger) *Switch {
	return &Switch{clock: clk, log: log.Named("kill_switch")}
}

// OnTrip registers a callback to run (in registration order) the first
// time the switch trips. Registering after the switch has already tripped
// is a no-op for ordering purposes: it is simply never invoked for the
// activation that already happened.
func (s *Switch) OnTrip(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// IsActive reports whether the switch has tripped.
func (s *Switch) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Active
}

// State returns a copy of the current state.
func (s *Switch) State() types.KillSwitchState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Trip sets the switch active with the given trigger and reason, firing
// registered callbacks exactly once. A second Trip call while already
// active is a no-op (the original trigger/reason/timestamp is kept).
func (s *Switch) Trip(trigger types.KillSwitchTrigger, reason string) {
	s.mu.Lock()
	if s.state.Active {
		s.mu.Unlock()
		return
	}
	s.state = types.KillSwitchState{
		Active:      true,
		Reason:      reason,
		TriggeredBy: trigger,
		TriggeredAt: s.clock.Now(),
	}
	state := s.state
	callbacks := make([]Callback, len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.Unlock()

	s.log.Warn("kill switch tripped", zap.String("trigger", string(trigger)), zap.String("reason", reason))
	for _, cb := range callbacks {
		cb(state)
	}
}

// Reset clears the switch, intended only for controlled restarts between
// backtest runs or operator-initiated resumption after a manual review.
func (s *Switch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = types.KillSwitchState{}
}

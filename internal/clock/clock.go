// Package clock provides a time source abstraction so analyzers, the
// aggregator and the backtest engine share the same notion of "now" without
// reading the wall clock directly (spec.md section 9, "Deterministic
// replay").
package clock

import (
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Clock supplies the current time to every subsystem that needs it.
type Clock interface {
	Now() types.Timestamp
}

// Wall is the live clock, backed by time.Now().
type Wall struct{}

// NewWall returns a Clock backed by the system wall clock.
func NewWall() Wall { return Wall{} }

// Now returns the current wall-clock time.
func (Wall) Now() types.Timestamp {
	return types.TimestampFromTime(time.Now())
}

// Replay is a manually-advanced clock used by the backtest engine so that
// replayed events produce byte-identical output across runs.
type Replay struct {
	mu  sync.RWMutex
	now types.Timestamp
}

// NewReplay creates a Replay clock starting at t.
func NewReplay(t types.Timestamp) *Replay {
	return &Replay{now: t}
}

// Now returns the clock's current simulated time.
func (r *Replay) Now() types.Timestamp {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.now
}

// Advance moves the simulated clock forward to t. Advancing backward is a
// no-op: the replay driver is expected to feed monotonically non-decreasing
// event timestamps.
func (r *Replay) Advance(t types.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t > r.now {
		r.now = t
	}
}

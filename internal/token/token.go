// Package token tracks the lifecycle of every token the event source has
// reported, per spec.md section 3: created on TokenLaunched, destroyed five
// minutes after migration or after two hours of inactivity.
package token

import (
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

const (
	// MigrationGrace is how long a migrated token's record is kept around
	// (for closing residual positions, final reporting) before eviction.
	MigrationGrace = 5 * time.Minute
	// InactivityTimeout evicts a token that has not seen an update in this
	// long, whichever triggers first.
	InactivityTimeout = 2 * time.Hour
)

// Tracked is one tracked token's lifecycle record. Once Migrated is set, no
// analyzer may re-enter BUY territory for this token (spec.md section 3).
type Tracked struct {
	Token      types.TokenId
	Creator    string
	LaunchTime types.Timestamp
	LastUpdate types.Timestamp
	Migrated   bool
	MigratedAt types.Timestamp
}

// dueForEviction reports whether the record should be dropped as of now.
func (t *Tracked) dueForEviction(now types.Timestamp) bool {
	if t.Migrated && now.Sub(t.MigratedAt) >= MigrationGrace {
		return true
	}
	return now.Sub(t.LastUpdate) >= InactivityTimeout
}

// Registry is the single source of truth for which tokens are currently
// tracked. It owns no analyzer state itself; analyzers key their own
// per-token maps off the same TokenId and are expected to clean up in
// lockstep via the Evicted callback.
type Registry struct {
	mu     sync.RWMutex
	tokens map[types.TokenId]*Tracked

	// Evicted, if set, is invoked synchronously (holding no lock) once per
	// token removed by Sweep, so analyzers can drop their per-token state.
	Evicted func(types.TokenId)
}

// NewRegistry creates an empty token registry.
func NewRegistry() *Registry {
	return &Registry{tokens: make(map[types.TokenId]*Tracked)}
}

// Launch registers a newly-launched token, or refreshes LastUpdate if it is
// already tracked (defensive against a duplicate TokenLaunched event).
func (r *Registry) Launch(id types.TokenId, creator string, t types.Timestamp) *Tracked {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tokens[id]; ok {
		existing.LastUpdate = t
		return existing
	}
	tr := &Tracked{Token: id, Creator: creator, LaunchTime: t, LastUpdate: t}
	r.tokens[id] = tr
	return tr
}

// Touch updates a tracked token's last-activity timestamp. No-op if the
// token is not tracked.
func (r *Registry) Touch(id types.TokenId, t types.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tr, ok := r.tokens[id]; ok {
		tr.LastUpdate = t
	}
}

// Migrate marks a token as migrated, starting its grace-period countdown.
// Idempotent: a second migration event for the same token is ignored.
func (r *Registry) Migrate(id types.TokenId, t types.Timestamp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tr, ok := r.tokens[id]; ok && !tr.Migrated {
		tr.Migrated = true
		tr.MigratedAt = t
		tr.LastUpdate = t
	}
}

// Get returns the tracked record for id, if any.
func (r *Registry) Get(id types.TokenId) (*Tracked, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tr, ok := r.tokens[id]
	return tr, ok
}

// IsMigrated reports whether id has migrated (and is thus barred from
// further BUY signals). Returns false for unknown tokens.
func (r *Registry) IsMigrated(id types.TokenId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tr, ok := r.tokens[id]
	return ok && tr.Migrated
}

// Len returns the number of tokens currently tracked.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}

// All returns a snapshot slice of all tracked tokens, in no particular
// order. Safe to range over without holding the registry lock.
func (r *Registry) All() []*Tracked {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tracked, 0, len(r.tokens))
	for _, tr := range r.tokens {
		out = append(out, tr)
	}
	return out
}

// NonMigrated returns tracked tokens that have not yet migrated, the set
// the momentum aggregator walks on each update tick (spec.md section 4.6).
func (r *Registry) NonMigrated() []*Tracked {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tracked, 0, len(r.tokens))
	for _, tr := range r.tokens {
		if !tr.Migrated {
			out = append(out, tr)
		}
	}
	return out
}

// Sweep evicts every token due for removal as of now, invoking Evicted for
// each (outside the lock) so dependent analyzer state can be dropped too.
// Intended to run on the same periodic cadence as window cleanup (~30s).
func (r *Registry) Sweep(now types.Timestamp) int {
	r.mu.Lock()
	var dead []types.TokenId
	for id, tr := range r.tokens {
		if tr.dueForEviction(now) {
			dead = append(dead, id)
			delete(r.tokens, id)
		}
	}
	r.mu.Unlock()

	for _, id := range dead {
		if r.Evicted != nil {
			r.Evicted(id)
		}
	}
	return len(dead)
}

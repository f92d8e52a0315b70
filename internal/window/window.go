// Package window implements the rolling time-bounded containers described
// in spec.md section 4.1: an ordered sequence, a numeric window with
// sum/avg/min/max/stddev/velocity, a big-integer window for exact lamport
// sums, and a fixed-size snapshot ring.
//
// Every container is owned by exactly one analyzer state (spec.md section
// 5, "Shared resource policy") and is never accessed from more than one
// goroutine at a time; none of the types here are internally locked.
package window

import (
	"math"
	"time"

	"github.com/atlas-desktop/trading-backend/pkg/types"
	"github.com/atlas-desktop/trading-backend/pkg/utils"
)

// Item is one entry in an ordered sequence.
type Item[T any] struct {
	Value     T
	Timestamp types.Timestamp
}

// Sequence is an append-only ordered sequence of timestamped items bounded
// by max age and max item count. On overflow the oldest 10% are evicted in
// one batch, amortizing eviction cost to O(1) per append.
type Sequence[T any] struct {
	items   []Item[T]
	maxAge  time.Duration
	maxItems int
}

// NewSequence creates a Sequence retaining at most maxItems entries no
// older than maxAge.
func NewSequence[T any](maxAge time.Duration, maxItems int) *Sequence[T] {
	return &Sequence[T]{maxAge: maxAge, maxItems: maxItems}
}

// Add appends an item and evicts overflow if max-items was reached.
func (s *Sequence[T]) Add(value T, t types.Timestamp) {
	s.items = append(s.items, Item[T]{Value: value, Timestamp: t})
	if len(s.items) > s.maxItems {
		evict := s.maxItems / 10
		if evict < 1 {
			evict = 1
		}
		s.items = s.items[evict:]
	}
}

// Cleanup drops items older than maxAge relative to refT. Safe to call
// periodically (~30s) or opportunistically on access.
func (s *Sequence[T]) Cleanup(refT types.Timestamp) {
	cutoff := refT.Add(-s.maxAge)
	i := 0
	for i < len(s.items) && s.items[i].Timestamp < cutoff {
		i++
	}
	if i > 0 {
		s.items = s.items[i:]
	}
}

// Len returns the current item count.
func (s *Sequence[T]) Len() int { return len(s.items) }

// ItemsWithin returns items with timestamp >= refT - delta, oldest first.
func (s *Sequence[T]) ItemsWithin(delta time.Duration, refT types.Timestamp) []Item[T] {
	cutoff := refT.Add(-delta)
	start := len(s.items)
	for i, it := range s.items {
		if it.Timestamp >= cutoff {
			start = i
			break
		}
	}
	if start >= len(s.items) {
		return nil
	}
	out := make([]Item[T], len(s.items)-start)
	copy(out, s.items[start:])
	return out
}

// CountWithin returns the number of items with timestamp >= refT - delta.
func (s *Sequence[T]) CountWithin(delta time.Duration, refT types.Timestamp) int {
	cutoff := refT.Add(-delta)
	count := 0
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].Timestamp < cutoff {
			break
		}
		count++
	}
	return count
}

// Oldest returns the oldest retained item, if any.
func (s *Sequence[T]) Oldest() (Item[T], bool) {
	if len(s.items) == 0 {
		var zero Item[T]
		return zero, false
	}
	return s.items[0], true
}

// Newest returns the most recently added item, if any.
func (s *Sequence[T]) Newest() (Item[T], bool) {
	if len(s.items) == 0 {
		var zero Item[T]
		return zero, false
	}
	return s.items[len(s.items)-1], true
}

// ClosestTo returns the item whose timestamp is closest to refT - tAgo.
func (s *Sequence[T]) ClosestTo(tAgo time.Duration, refT types.Timestamp) (Item[T], bool) {
	if len(s.items) == 0 {
		var zero Item[T]
		return zero, false
	}
	target := refT.Add(-tAgo)
	best := s.items[0]
	bestDiff := absDuration(best.Timestamp.Sub(target))
	for _, it := range s.items[1:] {
		diff := absDuration(it.Timestamp.Sub(target))
		if diff < bestDiff {
			best, bestDiff = it, diff
		}
	}
	return best, true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// Numeric is a Sequence of float64 plus derived sum/avg/min/max/stddev and
// linear-regression velocity. Sums here are not authoritative accounting
// state and may tolerate float drift (spec.md section 4.1).
type Numeric struct {
	seq *Sequence[float64]
}

// NewNumeric creates a Numeric window.
func NewNumeric(maxAge time.Duration, maxItems int) *Numeric {
	return &Numeric{seq: NewSequence[float64](maxAge, maxItems)}
}

// Add appends a value.
func (n *Numeric) Add(value float64, t types.Timestamp) { n.seq.Add(value, t) }

// Cleanup evicts stale items.
func (n *Numeric) Cleanup(refT types.Timestamp) { n.seq.Cleanup(refT) }

// Len returns the item count.
func (n *Numeric) Len() int { return n.seq.Len() }

// Within returns the raw values within delta of refT.
func (n *Numeric) Within(delta time.Duration, refT types.Timestamp) []Item[float64] {
	return n.seq.ItemsWithin(delta, refT)
}

// Sum returns the sum of values within delta of refT.
func (n *Numeric) Sum(delta time.Duration, refT types.Timestamp) float64 {
	items := n.seq.ItemsWithin(delta, refT)
	var sum float64
	for _, it := range items {
		sum += it.Value
	}
	return sum
}

// Avg returns the mean of values within delta of refT, or 0 if empty.
func (n *Numeric) Avg(delta time.Duration, refT types.Timestamp) float64 {
	items := n.seq.ItemsWithin(delta, refT)
	if len(items) == 0 {
		return 0
	}
	return n.Sum(delta, refT) / float64(len(items))
}

// MinMax returns the min and max of values within delta of refT.
func (n *Numeric) MinMax(delta time.Duration, refT types.Timestamp) (min, max float64) {
	items := n.seq.ItemsWithin(delta, refT)
	if len(items) == 0 {
		return 0, 0
	}
	min, max = items[0].Value, items[0].Value
	for _, it := range items[1:] {
		if it.Value < min {
			min = it.Value
		}
		if it.Value > max {
			max = it.Value
		}
	}
	return min, max
}

// StdDev returns the sample standard deviation within delta of refT.
func (n *Numeric) StdDev(delta time.Duration, refT types.Timestamp) float64 {
	items := n.seq.ItemsWithin(delta, refT)
	if len(items) < 2 {
		return 0
	}
	mean := n.Avg(delta, refT)
	var sumSq float64
	for _, it := range items {
		diff := it.Value - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(len(items)-1))
}

// Velocity returns the slope of a least-squares fit of value vs. normalized
// time (seconds since the oldest sample within delta of refT) over the
// items within delta of refT. Returns 0 for fewer than two points.
func (n *Numeric) Velocity(delta time.Duration, refT types.Timestamp) float64 {
	items := n.seq.ItemsWithin(delta, refT)
	if len(items) < 2 {
		return 0
	}
	xs := make([]float64, len(items))
	ys := make([]float64, len(items))
	base := items[0].Timestamp
	for i, it := range items {
		xs[i] = it.Timestamp.Sub(base).Seconds()
		ys[i] = it.Value
	}
	return utils.LinearRegressionSlope(xs, ys)
}

// BigInt is a Numeric-shaped window over exact unsigned 64-bit sums, used
// for lamport/token-amount accounting where float drift is unacceptable.
type BigInt struct {
	seq *Sequence[uint64]
}

// NewBigInt creates a BigInt window.
func NewBigInt(maxAge time.Duration, maxItems int) *BigInt {
	return &BigInt{seq: NewSequence[uint64](maxAge, maxItems)}
}

// Add appends a value.
func (b *BigInt) Add(value uint64, t types.Timestamp) { b.seq.Add(value, t) }

// Cleanup evicts stale items.
func (b *BigInt) Cleanup(refT types.Timestamp) { b.seq.Cleanup(refT) }

// Len returns the item count.
func (b *BigInt) Len() int { return b.seq.Len() }

// Within returns the raw values within delta of refT.
func (b *BigInt) Within(delta time.Duration, refT types.Timestamp) []Item[uint64] {
	return b.seq.ItemsWithin(delta, refT)
}

// Sum returns the exact sum of values within delta of refT.
func (b *BigInt) Sum(delta time.Duration, refT types.Timestamp) uint64 {
	items := b.seq.ItemsWithin(delta, refT)
	var sum uint64
	for _, it := range items {
		sum += it.Value
	}
	return sum
}

// Count returns the number of values within delta of refT.
func (b *BigInt) Count(delta time.Duration, refT types.Timestamp) int {
	return b.seq.CountWithin(delta, refT)
}

// Snapshot is one timestamped payload retained by a SnapshotRing.
type Snapshot[T any] struct {
	Timestamp types.Timestamp
	Payload   T
}

// SnapshotRing is a fixed-size ring of (timestamp, payload) snapshots. It
// additionally prunes by max_age and shifts the oldest entry on overflow
// (spec.md section 4.1).
type SnapshotRing[T any] struct {
	items   []Snapshot[T]
	maxSize int
	maxAge  time.Duration
}

// NewSnapshotRing creates a ring retaining at most maxSize snapshots no
// older than maxAge.
func NewSnapshotRing[T any](maxSize int, maxAge time.Duration) *SnapshotRing[T] {
	return &SnapshotRing[T]{maxSize: maxSize, maxAge: maxAge}
}

// Add appends a snapshot, shifting out the oldest one if the ring is full.
func (r *SnapshotRing[T]) Add(payload T, t types.Timestamp) {
	r.items = append(r.items, Snapshot[T]{Timestamp: t, Payload: payload})
	if len(r.items) > r.maxSize {
		r.items = r.items[len(r.items)-r.maxSize:]
	}
}

// Cleanup drops snapshots older than maxAge relative to refT.
func (r *SnapshotRing[T]) Cleanup(refT types.Timestamp) {
	if r.maxAge <= 0 {
		return
	}
	cutoff := refT.Add(-r.maxAge)
	i := 0
	for i < len(r.items) && r.items[i].Timestamp < cutoff {
		i++
	}
	if i > 0 {
		r.items = r.items[i:]
	}
}

// Latest returns the most recent snapshot, if any.
func (r *SnapshotRing[T]) Latest() (Snapshot[T], bool) {
	if len(r.items) == 0 {
		var zero Snapshot[T]
		return zero, false
	}
	return r.items[len(r.items)-1], true
}

// ClosestTo returns the snapshot whose timestamp is closest to refT - tAgo.
func (r *SnapshotRing[T]) ClosestTo(tAgo time.Duration, refT types.Timestamp) (Snapshot[T], bool) {
	if len(r.items) == 0 {
		var zero Snapshot[T]
		return zero, false
	}
	target := refT.Add(-tAgo)
	best := r.items[0]
	bestDiff := absDuration(best.Timestamp.Sub(target))
	for _, it := range r.items[1:] {
		diff := absDuration(it.Timestamp.Sub(target))
		if diff < bestDiff {
			best, bestDiff = it, diff
		}
	}
	return best, true
}

// Len returns the number of retained snapshots.
func (r *SnapshotRing[T]) Len() int { return len(r.items) }

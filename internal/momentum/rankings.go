package momentum

import (
	"sort"
	"sync"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

const top10Threshold = 10

// Rankings maintains the top-N leaderboard by score and emits entry/exit
// events when top-10 membership changes (spec.md section 4.7).
type Rankings struct {
	topN int

	mu       sync.Mutex
	previous map[types.TokenId]types.RankEntry
}

// NewRankings creates a rankings tracker retaining the top topN entries.
func NewRankings(topN int) *Rankings {
	if topN <= 0 {
		topN = 20
	}
	return &Rankings{topN: topN, previous: make(map[types.TokenId]types.RankEntry)}
}

// Update recomputes the leaderboard from the given per-token scores,
// returning the new ranked entries (length <= topN) and any rank
// entry/exit events for the top-10.
func (r *Rankings) Update(scores map[types.TokenId]types.MomentumMetrics, now types.Timestamp) ([]types.RankEntry, []types.RankEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]types.RankEntry, 0, len(scores))
	for token, m := range scores {
		entries = append(entries, types.RankEntry{Token: token, Score: m.Score, Signal: m.Signal})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })

	if len(entries) > r.topN {
		entries = entries[:r.topN]
	}

	var events []types.RankEvent
	current := make(map[types.TokenId]types.RankEntry, len(entries))
	for i := range entries {
		rank := i + 1
		prev, existed := r.previous[entries[i].Token]
		entries[i].Rank = rank
		if existed {
			entries[i].PrevRank = prev.Rank
		} else {
			entries[i].PrevRank = 0
		}
		current[entries[i].Token] = entries[i]

		wasTop10 := existed && prev.Rank <= top10Threshold
		isTop10 := rank <= top10Threshold
		if isTop10 && !wasTop10 {
			events = append(events, types.RankEvent{Token: entries[i].Token, Entered: true, Rank: rank, Score: entries[i].Score, Timestamp: now})
		}
	}

	for token, prev := range r.previous {
		if prev.Rank > top10Threshold {
			continue
		}
		if cur, stillPresent := current[token]; !stillPresent || cur.Rank > top10Threshold {
			events = append(events, types.RankEvent{Token: token, Entered: false, Rank: prev.Rank, Score: prev.Score, Timestamp: now})
		}
	}

	r.previous = current
	return entries, events
}

// Current returns the leaderboard as of the last Update call, sorted by
// rank ascending, without recomputing anything. Used by the dashboard's
// read-only status views.
func (r *Rankings) Current() []types.RankEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make([]types.RankEntry, 0, len(r.previous))
	for _, e := range r.previous {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Rank < entries[j].Rank })
	return entries
}

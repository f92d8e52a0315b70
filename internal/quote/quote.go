// Package quote implements the quote/submit capability boundary from
// spec.md section 6, plus a TTL-cached decorator and a paper-trading
// implementation used when the bot runs without external submission
// (spec.md section 4.10).
package quote

import (
	"context"
	"sync"
	"time"

	"github.com/atlas-desktop/trading-backend/internal/chain"
	"github.com/atlas-desktop/trading-backend/internal/clock"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// BundleStatus is the lifecycle state of a submitted bundle.
type BundleStatus string

const (
	BundleInvalid BundleStatus = "invalid"
	BundlePending BundleStatus = "pending"
	BundleLanded  BundleStatus = "landed"
	BundleFailed  BundleStatus = "failed"
)

// Quote is the swap-quote response (spec.md section 6).
type Quote struct {
	In            types.TokenId
	Out           types.TokenId
	InAmount      uint64
	OutAmount     uint64
	MinOut        uint64
	PriceImpactPct float64
	Route         string
	ExpiresAt     types.Timestamp
	Raw           []byte // opaque provider payload, passed through to build
}

// Status is the result of a bundle status poll.
type Status struct {
	State BundleStatus
	Slot  *uint64
}

// Provider is the consumed quote/submit capability (spec.md section 6).
// Implementations must respect the remaining/reset rate-limit headers the
// provider advertises.
type Provider interface {
	GetQuote(ctx context.Context, in, out types.TokenId, amount uint64, slippageBps int) (Quote, error)
	BuildSwapTx(ctx context.Context, q Quote, wallet chain.PublicKey, priorityFee types.Lamport) (chain.WireTransaction, error)
	SubmitBundle(ctx context.Context, txs []chain.WireTransaction) (string, error)
	BundleStatus(ctx context.Context, bundleID string) (Status, error)
}

// Cache wraps a Provider's GetQuote with a TTL cache (default 10s per
// spec.md section 4.10), keyed on (in, out, amount, slippageBps).
type Cache struct {
	inner Provider
	ttl   time.Duration
	clock clock.Clock

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
}

type cacheKey struct {
	in, out     types.TokenId
	amount      uint64
	slippageBps int
}

type cacheEntry struct {
	quote     Quote
	expiresAt types.Timestamp
}

// NewCache wraps inner with a TTL quote cache.
func NewCache(inner Provider, ttl time.Duration, clk clock.Clock) *Cache {
	return &Cache{inner: inner, ttl: ttl, clock: clk, entries: make(map[cacheKey]cacheEntry)}
}

// GetQuote returns a cached quote if one is still fresh, else fetches and
// caches a new one.
func (c *Cache) GetQuote(ctx context.Context, in, out types.TokenId, amount uint64, slippageBps int) (Quote, error) {
	key := cacheKey{in: in, out: out, amount: amount, slippageBps: slippageBps}
	now := c.clock.Now()

	c.mu.Lock()
	if e, ok := c.entries[key]; ok && now < e.expiresAt {
		c.mu.Unlock()
		return e.quote, nil
	}
	c.mu.Unlock()

	q, err := c.inner.GetQuote(ctx, in, out, amount, slippageBps)
	if err != nil {
		return Quote{}, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{quote: q, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return q, nil
}

// BuildSwapTx delegates to the wrapped provider.
func (c *Cache) BuildSwapTx(ctx context.Context, q Quote, wallet chain.PublicKey, priorityFee types.Lamport) (chain.WireTransaction, error) {
	return c.inner.BuildSwapTx(ctx, q, wallet, priorityFee)
}

// SubmitBundle delegates to the wrapped provider.
func (c *Cache) SubmitBundle(ctx context.Context, txs []chain.WireTransaction) (string, error) {
	return c.inner.SubmitBundle(ctx, txs)
}

// BundleStatus delegates to the wrapped provider.
func (c *Cache) BundleStatus(ctx context.Context, bundleID string) (Status, error) {
	return c.inner.BundleStatus(ctx, bundleID)
}

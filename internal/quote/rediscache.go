package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/atlas-desktop/trading-backend/internal/chain"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// RedisCache is an alternate quote cache backed by Redis, for deployments
// running more than one executor process against the same quote provider
// (the in-process Cache is process-local). Falls back to calling the
// wrapped provider directly on any Redis error rather than failing the
// quote request.
type RedisCache struct {
	inner  Provider
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps inner with a Redis-backed TTL quote cache.
func NewRedisCache(inner Provider, client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{inner: inner, client: client, ttl: ttl}
}

func redisQuoteKey(in, out types.TokenId, amount uint64, slippageBps int) string {
	return fmt.Sprintf("quote:%s:%s:%d:%d", in, out, amount, slippageBps)
}

// GetQuote serves from Redis when a fresh entry exists, else fetches from
// the wrapped provider and stores the result with the configured TTL.
func (r *RedisCache) GetQuote(ctx context.Context, in, out types.TokenId, amount uint64, slippageBps int) (Quote, error) {
	key := redisQuoteKey(in, out, amount, slippageBps)

	if raw, err := r.client.Get(ctx, key).Bytes(); err == nil {
		var q Quote
		if jsonErr := json.Unmarshal(raw, &q); jsonErr == nil {
			return q, nil
		}
	}

	q, err := r.inner.GetQuote(ctx, in, out, amount, slippageBps)
	if err != nil {
		return Quote{}, err
	}

	if raw, err := json.Marshal(q); err == nil {
		_ = r.client.Set(ctx, key, raw, r.ttl).Err()
	}
	return q, nil
}

// BuildSwapTx delegates to the wrapped provider.
func (r *RedisCache) BuildSwapTx(ctx context.Context, q Quote, wallet chain.PublicKey, priorityFee types.Lamport) (chain.WireTransaction, error) {
	return r.inner.BuildSwapTx(ctx, q, wallet, priorityFee)
}

// SubmitBundle delegates to the wrapped provider.
func (r *RedisCache) SubmitBundle(ctx context.Context, txs []chain.WireTransaction) (string, error) {
	return r.inner.SubmitBundle(ctx, txs)
}

// BundleStatus delegates to the wrapped provider.
func (r *RedisCache) BundleStatus(ctx context.Context, bundleID string) (Status, error) {
	return r.inner.BundleStatus(ctx, bundleID)
}

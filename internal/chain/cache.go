package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/nadpilot/nadpilot/internal/metrics"
)

// Cache TTLs per data class. Network state goes stale within a couple of
// blocks; holder distributions drift slowly.
const (
	networkTTL = 2 * time.Second
	poolTTL    = 5 * time.Second
	holdersTTL = 30 * time.Second
	radarTTL   = 10 * time.Second
	txsTTL     = 5 * time.Second
)

// cacheIndexKey is a sorted set scoring every cache key by insertion
// time, used to evict the oldest entries when the cap is reached.
const cacheIndexKey = "chain:cache:index"

// CachedProvider wraps a Provider with Redis caching. Lookups use a
// short timeout so a slow Redis degrades to a cache miss; stores happen
// asynchronously and never block the caller.
type CachedProvider struct {
	inner    Provider
	redis    *redis.Client
	entryCap int
}

var _ Provider = (*CachedProvider)(nil)

// NewCachedProvider wraps a provider with caching. entryCap bounds the
// number of cached entries; zero or negative means 10000.
func NewCachedProvider(inner Provider, redisClient *redis.Client, entryCap int) *CachedProvider {
	if entryCap <= 0 {
		entryCap = 10000
	}
	return &CachedProvider{
		inner:    inner,
		redis:    redisClient,
		entryCap: entryCap,
	}
}

// NetworkState fetches the network snapshot with caching
func (c *CachedProvider) NetworkState(ctx context.Context) (*NetworkState, error) {
	key := "chain:network:state"

	var cached NetworkState
	if c.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	state, err := c.inner.NetworkState(ctx)
	if err != nil {
		return nil, err
	}
	c.store(key, state, networkTTL)
	return state, nil
}

// PoolLiquidity fetches pool reserves with caching
func (c *CachedProvider) PoolLiquidity(ctx context.Context, token string) (*PoolLiquidity, error) {
	key := "chain:pool:" + strings.ToLower(token)

	var cached PoolLiquidity
	if c.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	pool, err := c.inner.PoolLiquidity(ctx, token)
	if err != nil {
		return nil, err
	}
	c.store(key, pool, poolTTL)
	return pool, nil
}

// HolderAnalysis fetches holder concentration with caching
func (c *CachedProvider) HolderAnalysis(ctx context.Context, token string) (*HolderAnalysis, error) {
	key := "chain:holders:" + strings.ToLower(token)

	var cached HolderAnalysis
	if c.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	analysis, err := c.inner.HolderAnalysis(ctx, token)
	if err != nil {
		return nil, err
	}
	c.store(key, analysis, holdersTTL)
	return analysis, nil
}

// RecentTransactions fetches the trade window with caching
func (c *CachedProvider) RecentTransactions(ctx context.Context, token string, n int) ([]Transaction, error) {
	key := fmt.Sprintf("chain:txs:%s:%d", strings.ToLower(token), n)

	var cached []Transaction
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}

	txs, err := c.inner.RecentTransactions(ctx, token, n)
	if err != nil {
		return nil, err
	}
	c.store(key, txs, txsTTL)
	return txs, nil
}

// AnalyzeBotActivity runs the bot radar with caching
func (c *CachedProvider) AnalyzeBotActivity(ctx context.Context, token string) (*BotRadarReport, error) {
	key := "chain:radar:" + strings.ToLower(token)

	var cached BotRadarReport
	if c.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	report, err := c.inner.AnalyzeBotActivity(ctx, token)
	if err != nil {
		return nil, err
	}
	c.store(key, report, radarTTL)
	return report, nil
}

// Multicall passes through uncached: callers batch arbitrary calldata
// and results must reflect current state.
func (c *CachedProvider) Multicall(ctx context.Context, calls []Call) ([]CallResult, error) {
	return c.inner.Multicall(ctx, calls)
}

// InvalidatePrefix removes every cached entry under a prefix, e.g.
// "pool:" or "txs:0xabc".
func (c *CachedProvider) InvalidatePrefix(ctx context.Context, prefix string) error {
	if c.redis == nil {
		return nil
	}

	pattern := "chain:" + strings.ToLower(prefix) + "*"
	iter := c.redis.Scan(ctx, 0, pattern, 0).Iterator()
	count := 0
	for iter.Next(ctx) {
		key := iter.Val()
		if key == cacheIndexKey {
			continue
		}
		if err := c.redis.Del(ctx, key).Err(); err != nil {
			log.Warn().
				Err(err).
				Str("key", key).
				Msg("Failed to delete cache key")
			continue
		}
		c.redis.ZRem(ctx, cacheIndexKey, key)
		count++
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache invalidation failed: %w", err)
	}

	log.Info().
		Str("pattern", pattern).
		Int("keys_deleted", count).
		Msg("Cache invalidated")
	return nil
}

// Health checks the wrapped provider and the Redis connection
func (c *CachedProvider) Health(ctx context.Context) error {
	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}
	return nil
}

// lookup reads a cache entry into out. Any error is treated as a miss.
func (c *CachedProvider) lookup(ctx context.Context, key string, out interface{}) bool {
	if c.redis == nil {
		return false
	}

	// Short timeout so a slow cache cannot stall data fetches
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.redis.Get(cacheCtx, key).Result()
	metrics.RecordRedisOperation("get")
	if err != nil {
		if err != redis.Nil {
			log.Debug().
				Err(err).
				Str("key", key).
				Msg("Redis get error - treating as cache miss")
		}
		metrics.RecordCacheLookup(false)
		return false
	}

	if err := json.Unmarshal([]byte(cached), out); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to unmarshal cached entry, fetching fresh")
		metrics.RecordCacheLookup(false)
		return false
	}

	metrics.RecordCacheLookup(true)
	log.Debug().Str("key", key).Msg("Cache hit")
	return true
}

// store writes a cache entry asynchronously and enforces the entry cap
// by evicting the oldest keys from the index.
func (c *CachedProvider) store(key string, val interface{}, ttl time.Duration) {
	if c.redis == nil {
		return
	}

	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		data, err := json.Marshal(val)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to marshal cache entry")
			return
		}

		if err := c.redis.Set(cacheCtx, key, data, ttl).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to cache entry")
			return
		}
		metrics.RecordRedisOperation("set")

		now := float64(time.Now().UnixNano())
		if err := c.redis.ZAdd(cacheCtx, cacheIndexKey, redis.Z{Score: now, Member: key}).Err(); err != nil {
			log.Warn().Err(err).Msg("Failed to index cache entry")
			return
		}

		c.evictOldest(cacheCtx)

		log.Debug().
			Str("key", key).
			Dur("ttl", ttl).
			Msg("Cached entry")
	}()
}

// evictOldest trims the cache down to the entry cap, oldest first
func (c *CachedProvider) evictOldest(ctx context.Context) {
	size, err := c.redis.ZCard(ctx, cacheIndexKey).Result()
	if err != nil || size <= int64(c.entryCap) {
		return
	}

	over := size - int64(c.entryCap)
	oldest, err := c.redis.ZRange(ctx, cacheIndexKey, 0, over-1).Result()
	if err != nil || len(oldest) == 0 {
		return
	}

	for _, key := range oldest {
		if err := c.redis.Del(ctx, key).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Failed to evict cache key")
			continue
		}
		c.redis.ZRem(ctx, cacheIndexKey, key)
		metrics.RecordRedisOperation("evict")
	}

	log.Debug().
		Int("evicted", len(oldest)).
		Int("cap", c.entryCap).
		Msg("Evicted oldest cache entries")
}

package pool

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Shivika2934/labquestion/internal/platform/cache"
)

const statsKeyPrefix = "labq:pool-stats:"

// StatsCache is a read-through cache for per-topic pool statistics.
// Implementations must treat backend failures as misses.
type StatsCache interface {
	Get(ctx context.Context, topicID string) (PoolStats, bool)
	Set(ctx context.Context, stats PoolStats)
	Invalidate(ctx context.Context, topicID string)
}

// NopStatsCache never caches.
type NopStatsCache struct{}

func (NopStatsCache) Get(context.Context, string) (PoolStats, bool) {
	return PoolStats{}, false
}

func (NopStatsCache) Set(context.Context, PoolStats) {}

func (NopStatsCache) Invalidate(context.Context, string) {}

// RedisStatsCache stores pool statistics in Redis with a TTL.
type RedisStatsCache struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewRedisStatsCache creates a Redis-backed stats cache.
func NewRedisStatsCache(c *cache.Cache, ttl time.Duration) *RedisStatsCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisStatsCache{cache: c, ttl: ttl}
}

func (r *RedisStatsCache) Get(ctx context.Context, topicID string) (PoolStats, bool) {
	var st PoolStats
	if err := r.cache.GetJSON(ctx, statsKeyPrefix+topicID, &st); err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			slog.Warn("pool stats cache read failed", "topic_id", topicID, "error", err)
		}
		return PoolStats{}, false
	}
	return st, true
}

func (r *RedisStatsCache) Set(ctx context.Context, stats PoolStats) {
	if err := r.cache.SetJSON(ctx, statsKeyPrefix+stats.TopicID, stats, r.ttl); err != nil {
		slog.Warn("pool stats cache write failed", "topic_id", stats.TopicID, "error", err)
	}
}

func (r *RedisStatsCache) Invalidate(ctx context.Context, topicID string) {
	if err := r.cache.Delete(context.WithoutCancel(ctx), statsKeyPrefix+topicID); err != nil {
		slog.Warn("pool stats cache invalidation failed", "topic_id", topicID, "error", err)
	}
}

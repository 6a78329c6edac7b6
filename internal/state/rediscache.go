package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// CachedWatermarkRepo wraps a persistence.WatermarkRepo with a Redis
// read-through cache, typed to Watermark rather than a generic byte-slice
// KV cache. It exists so a single orchestrator run's repeated per-id
// watermark reads inside the EMA refresher's dirty-window computation
// don't round-trip Postgres for every (table, id, tf, period) the same
// run already looked up.
type CachedWatermarkRepo struct {
	inner persistence.WatermarkRepo
	rdb   *redis.Client
	ttl   time.Duration
}

// NewCachedWatermarkRepo wraps inner with a Redis read-through cache.
// A nil rdb disables caching entirely (Get/Upsert/Reset pass straight
// through), so callers without a Redis deployment still work.
func NewCachedWatermarkRepo(inner persistence.WatermarkRepo, rdb *redis.Client, ttl time.Duration) *CachedWatermarkRepo {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedWatermarkRepo{inner: inner, rdb: rdb, ttl: ttl}
}

func cacheKey(table, id, tf string, period *int) string {
	if period != nil {
		return fmt.Sprintf("wm:%s:%s:%s:%d", table, id, tf, *period)
	}
	return fmt.Sprintf("wm:%s:%s:%s", table, id, tf)
}

// Get reads through Redis first; a cache miss or disabled cache falls
// back to inner and, on a hit from inner, populates the cache.
func (c *CachedWatermarkRepo) Get(ctx context.Context, table, id, tf string, period *int) (*persistence.Watermark, error) {
	if c.rdb == nil {
		return c.inner.Get(ctx, table, id, tf, period)
	}
	key := cacheKey(table, id, tf, period)
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var wm persistence.Watermark
		if jsonErr := json.Unmarshal(raw, &wm); jsonErr == nil {
			return &wm, nil
		}
	} else if err != redis.Nil {
		// Redis unavailable: degrade to the source of truth rather than fail.
		return c.inner.Get(ctx, table, id, tf, period)
	}

	wm, err := c.inner.Get(ctx, table, id, tf, period)
	if err != nil || wm == nil {
		return wm, err
	}
	if raw, marshalErr := json.Marshal(wm); marshalErr == nil {
		_ = c.rdb.Set(ctx, key, raw, c.ttl).Err()
	}
	return wm, nil
}

// Upsert writes through to inner and invalidates the cached entry so the
// next Get reflects the new watermark rather than a stale cached one.
func (c *CachedWatermarkRepo) Upsert(ctx context.Context, table string, wm persistence.Watermark) error {
	if err := c.inner.Upsert(ctx, table, wm); err != nil {
		return err
	}
	if c.rdb != nil {
		_ = c.rdb.Del(ctx, cacheKey(table, wm.ID, wm.TF, wm.Period)).Err()
	}
	return nil
}

// Reset writes through to inner and invalidates the cached entry.
func (c *CachedWatermarkRepo) Reset(ctx context.Context, table, id, tf string, period *int) error {
	if err := c.inner.Reset(ctx, table, id, tf, period); err != nil {
		return err
	}
	if c.rdb != nil {
		_ = c.rdb.Del(ctx, cacheKey(table, id, tf, period)).Err()
	}
	return nil
}

// ListIDs always passes through; the id listing is not watermark-keyed
// and is cheap enough it doesn't need caching.
func (c *CachedWatermarkRepo) ListIDs(ctx context.Context, table, tf string) ([]string, error) {
	return c.inner.ListIDs(ctx, table, tf)
}

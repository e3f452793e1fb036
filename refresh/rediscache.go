package refresh

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RedisCache defines a public type used by sessionauth APIs.
//
// RedisCache is a [Coordinator] that coalesces concurrent rotations
// in-process and shares successful outcomes through Redis, so a retry that
// lands on a different instance inside the idempotency window still
// replays the original result instead of triggering a stale-token error.
//
// The shared cache is best effort: a Redis read or write failure degrades
// to plain single-flight behavior, it never fails the refresh itself. The
// session store's atomic rotation remains the correctness arbiter.
type RedisCache struct {
	redis  redis.UniversalClient
	prefix string
	window time.Duration

	sf     singleflight.Group
	closed atomic.Bool
}

// NewRedisCache creates a [RedisCache] coordinator. Cached outcomes live
// under prefix+hex(key) with a TTL of window; zero window disables replay
// but keeps coalescing.
func NewRedisCache(client redis.UniversalClient, prefix string, window time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "sa:idem:"
	}
	return &RedisCache{
		redis:  client,
		prefix: prefix,
		window: window,
	}
}

// Do describes the do operation and its observable behavior.
//
// Do checks the shared Redis cache first, then falls back to a
// single-flight rotation on a context detached from ctx. Successful
// outcomes are written back with the idempotency window as TTL; failures
// are never written.
func (c *RedisCache) Do(ctx context.Context, key [32]byte, rotate RotateFunc) (Outcome, error) {
	if c.closed.Load() {
		return Outcome{}, ErrCoordinatorClosed
	}

	cacheKey := c.prefix + hex.EncodeToString(key[:])

	if c.window > 0 {
		data, err := c.redis.Get(ctx, cacheKey).Bytes()
		if err == nil {
			var outcome Outcome
			if jsonErr := json.Unmarshal(data, &outcome); jsonErr == nil {
				return outcome, nil
			}
			// Unreadable cache entry: drop it and rotate normally.
			_ = c.redis.Del(ctx, cacheKey).Err()
		} else if !errors.Is(err, redis.Nil) && ctx.Err() != nil {
			return Outcome{}, ctx.Err()
		}
	}

	ch := c.sf.DoChan(cacheKey, func() (interface{}, error) {
		detached := context.WithoutCancel(ctx)

		outcome, err := rotate(detached)
		if err != nil {
			return Outcome{}, err
		}

		if c.window > 0 {
			if data, jsonErr := json.Marshal(outcome); jsonErr == nil {
				// Best effort: a failed write only loses cross-instance
				// replay, not the rotation result.
				_ = c.redis.Set(detached, cacheKey, data, c.window).Err()
			}
		}
		return outcome, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Outcome{}, res.Err
		}
		return res.Val.(Outcome), nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Close marks the coordinator closed. The Redis client is owned by the
// caller and is not closed here.
func (c *RedisCache) Close() error {
	c.closed.Store(true)
	return nil
}

package refresh

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// evictScanLimit bounds how many cache entries one insert may examine for
// expiry, keeping the hot path O(1) regardless of cache size.
const evictScanLimit = 8

type cachedOutcome struct {
	outcome  Outcome
	storedAt time.Time
}

// InProcess defines a public type used by sessionauth APIs.
//
// InProcess is a [Coordinator] that keeps both the single-flight group and
// the idempotency cache in process memory. It is the right choice when a
// client's retries always reach the same instance; multi-instance
// deployments behind a non-sticky load balancer should use [RedisCache].
type InProcess struct {
	window time.Duration
	now    func() time.Time

	sf singleflight.Group

	mu     sync.Mutex
	recent map[[32]byte]cachedOutcome
	closed bool
}

// NewInProcess creates an [InProcess] coordinator. window is how long a
// successful outcome stays replayable; zero disables replay but keeps
// single-flight coalescing. now supplies the clock (time.Now when nil).
func NewInProcess(window time.Duration, now func() time.Time) *InProcess {
	if now == nil {
		now = time.Now
	}
	return &InProcess{
		window: window,
		now:    now,
		recent: make(map[[32]byte]cachedOutcome),
	}
}

// Do describes the do operation and its observable behavior.
//
// Do returns a cached outcome when the key was rotated successfully within
// the idempotency window. Otherwise it runs rotate, shared across all
// concurrent callers holding the same key. rotate executes on a context
// detached from ctx: if the caller gives up, Do returns ctx.Err() but the
// rotation finishes and its result is cached for the next retry.
func (c *InProcess) Do(ctx context.Context, key [32]byte, rotate RotateFunc) (Outcome, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Outcome{}, ErrCoordinatorClosed
	}
	if entry, ok := c.recent[key]; ok {
		if c.now().Sub(entry.storedAt) < c.window {
			c.mu.Unlock()
			return entry.outcome, nil
		}
		delete(c.recent, key)
	}
	c.mu.Unlock()

	ch := c.sf.DoChan(hex.EncodeToString(key[:]), func() (interface{}, error) {
		outcome, err := rotate(context.WithoutCancel(ctx))
		if err != nil {
			return Outcome{}, err
		}
		c.store(key, outcome)
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

func (c *InProcess) store(key [32]byte, outcome Outcome) {
	if c.window <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	now := c.now()
	scanned := 0
	for k, entry := range c.recent {
		if scanned >= evictScanLimit {
			break
		}
		scanned++
		if now.Sub(entry.storedAt) >= c.window {
			delete(c.recent, k)
		}
	}

	c.recent[key] = cachedOutcome{outcome: outcome, storedAt: now}
}

// Close releases the cache. Subsequent Do calls fail with
// [ErrCoordinatorClosed].
func (c *InProcess) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.recent = nil
	return nil
}

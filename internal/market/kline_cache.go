package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultFetchTimeout bounds one shared upstream kline fetch.
const DefaultFetchTimeout = 15 * time.Second

// KlineCache shares bar fetches between bots trading the same pair.
// Concurrent misses for one key collapse into a single upstream call. The
// shared call outlives any one caller's context; each caller stops waiting
// when its own context ends.
type KlineCache struct {
	// FetchTimeout bounds the shared upstream call.
	FetchTimeout time.Duration

	next KlineProvider
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]klineEntry
	group   singleflight.Group
}

type klineEntry struct {
	bars    []Bar
	expires time.Time
}

var _ KlineProvider = (*KlineCache)(nil)

// NewKlineCache wraps next. A non-positive ttl disables caching.
func NewKlineCache(next KlineProvider, ttl time.Duration) *KlineCache {
	return &KlineCache{
		FetchTimeout: DefaultFetchTimeout,
		next:         next,
		ttl:          ttl,
		now:          time.Now,
		entries:      make(map[string]klineEntry),
	}
}

func (c *KlineCache) Klines(ctx context.Context, pair, interval string, limit int) ([]Bar, error) {
	if c.ttl <= 0 {
		return c.next.Klines(ctx, pair, interval, limit)
	}
	key := fmt.Sprintf("%s|%s|%d", pair, interval, limit)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expires) {
		return e.bars, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout())
		defer cancel()
		bars, err := c.next.Klines(fetchCtx, pair, interval, limit)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = klineEntry{bars: bars, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return bars, nil
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]Bar), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *KlineCache) fetchTimeout() time.Duration {
	if c.FetchTimeout <= 0 {
		return DefaultFetchTimeout
	}
	return c.FetchTimeout
}

// Purge drops expired entries.
func (c *KlineCache) Purge() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

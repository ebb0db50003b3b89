// Package cache is a process-local TTL cache with lazy expiry and bounded
// capacity. It memoizes idempotent upstream calls and short-lived credentials.
package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCapacity       = 100
	defaultTTL            = 300 * time.Second
	defaultComputeTimeout = 2 * time.Minute
)

type Config struct {
	Capacity   int           `split_words:"true" default:"100"`
	DefaultTTL time.Duration `split_words:"true" default:"300s"`
}

type Option func(*Cache)

func WithCapacity(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

func WithDefaultTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.defaultTTL = ttl
		}
	}
}

// WithComputeTimeout bounds a shared Remember computation, which does not stop
// when the caller that started it goes away.
func WithComputeTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.computeTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is safe for concurrent use. A nil *Cache behaves as an always-miss cache.
type Cache struct {
	mu             sync.Mutex
	entries        map[string]entry
	capacity       int
	defaultTTL     time.Duration
	computeTimeout time.Duration
	now            func() time.Time

	group singleflight.Group
}

func New(opts ...Option) *Cache {
	c := &Cache{
		entries:        make(map[string]entry, defaultCapacity),
		capacity:       defaultCapacity,
		defaultTTL:     defaultTTL,
		computeTimeout: defaultComputeTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func NewFromConfig(cfg Config, opts ...Option) *Cache {
	base := []Option{WithCapacity(cfg.Capacity), WithDefaultTTL(cfg.DefaultTTL)}
	return New(append(base, opts...)...)
}

// Get returns the value stored under key. Entries at or past their expiry are
// removed and reported as a miss.
func (c *Cache) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		log.Debug().Str("key", key).Msg("cache miss")
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		log.Debug().Str("key", key).Msg("cache miss (expired)")
		return nil, false
	}
	log.Debug().Str("key", key).Msg("cache hit")
	return e.value, true
}

// Set stores value under key, replacing any previous entry and its expiry.
// A non-positive ttl falls back to the cache default.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if c == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictLocked(now)
	}
	c.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
}

func (c *Cache) Delete(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]entry, c.capacity)
	c.mu.Unlock()
	log.Info().Msg("cache cleared")
}

// Len counts stored entries, including ones that expired but were not read yet.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Remember returns the cached value for key or computes it with fn.
// Concurrent misses for the same key share one fn call. The call keeps the
// starting caller's values but not its cancellation; each caller stops waiting
// when its own ctx is done. Errors are not cached.
func (c *Cache) Remember(
	ctx context.Context,
	key string,
	ttl time.Duration,
	fn func(ctx context.Context) (any, error),
) (any, error) {
	if c == nil {
		return fn(ctx)
	}
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	computeCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		fnCtx, cancel := context.WithTimeout(computeCtx, c.computeTimeout)
		defer cancel()

		v, err := fn(fnCtx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// evictLocked drops expired entries; if none expired it drops the entry
// closest to expiry.
func (c *Cache) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			continue
		}
		if !found || e.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt, found = k, e.expiresAt, true
		}
	}
	if len(c.entries) < c.capacity {
		return
	}
	if found {
		delete(c.entries, oldestKey)
		log.Debug().Str("key", oldestKey).Msg("cache evicted entry at capacity")
	}
}

// Key builds a deterministic cache key: name::k1="v1"::k2="v2". kv is read in
// pairs and values are Go-quoted, so no value can spill into the next pair. A
// trailing unpaired name is kept as-is.
func Key(name string, kv ...string) string {
	var b strings.Builder
	b.WriteString(name)
	for i := 0; i < len(kv); i += 2 {
		b.WriteString("::")
		b.WriteString(kv[i])
		if i+1 < len(kv) {
			b.WriteByte('=')
			b.WriteString(strconv.Quote(kv[i+1]))
		}
	}
	return b.String()
}

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"
)

const defaultSweepInterval = time.Second

// Option configures a Cache.
type Option func(*config)

type config struct {
	ttl      time.Duration
	interval time.Duration
	now      func() time.Time
	name     string
}

// WithTTL enables eviction of entries older than ttl. Zero disables it.
func WithTTL(ttl time.Duration) Option {
	return func(c *config) { c.ttl = ttl }
}

// WithSweepInterval overrides how often the eviction loop wakes.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) { c.interval = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithName labels log lines emitted by the eviction loop.
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// Cache maps keys to previously computed values. Both the value map and the
// insertion time map are guarded by one mutex and always hold the same keys.
type Cache[K comparable, V any] struct {
	cfg config

	mu     sync.Mutex
	values map[K]V
	times  map[K]time.Time
}

// New creates a cache. Without WithTTL entries live until popped.
func New[K comparable, V any](opts ...Option) *Cache[K, V] {
	cfg := config{
		interval: defaultSweepInterval,
		now:      time.Now,
		name:     "cache",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.interval <= 0 {
		cfg.interval = defaultSweepInterval
	}
	return &Cache[K, V]{
		cfg:    cfg,
		values: make(map[K]V),
		times:  make(map[K]time.Time),
	}
}

// TTL returns the configured time-to-live, zero when eviction is disabled.
func (c *Cache[K, V]) TTL() time.Duration {
	return c.cfg.ttl
}

// Get returns the value stored under key, or def.
func (c *Cache[K, V]) Get(key K, def V) V {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.values[key]; ok {
		return v
	}
	return def
}

// Lookup returns the value stored under key and whether it was present.
func (c *Cache[K, V]) Lookup(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores value under key and resets its insertion time.
func (c *Cache[K, V]) Set(key K, value V) {
	now := c.cfg.now()
	c.mu.Lock()
	c.values[key] = value
	c.times[key] = now
	c.mu.Unlock()
}

// Has reports whether key is present.
func (c *Cache[K, V]) Has(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[key]
	return ok
}

// Pop removes key and returns its value, or def when absent.
func (c *Cache[K, V]) Pop(key K, def V) V {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return def
	}
	delete(c.values, key)
	delete(c.times, key)
	return v
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

// Run evicts expired entries every sweep interval until ctx is done. It
// returns immediately when no TTL is configured.
func (c *Cache[K, V]) Run(ctx context.Context) {
	if c.cfg.ttl <= 0 {
		return
	}

	ticker := time.NewTicker(c.cfg.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				logs.Debugf("%s: evicted %d entries", c.cfg.name, n)
			}
		}
	}
}

// Sweep removes every entry older than the TTL and returns how many were
// removed.
func (c *Cache[K, V]) Sweep() int {
	if c.cfg.ttl <= 0 {
		return 0
	}
	now := c.cfg.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	evicted := 0
	for key, insertedAt := range c.times {
		if now.Sub(insertedAt) > c.cfg.ttl {
			delete(c.times, key)
			delete(c.values, key)
			evicted++
		}
	}
	return evicted
}

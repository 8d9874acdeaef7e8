// Package market resolves ZIP-level demand multipliers from the store,
// behind a TTL cache and a circuit breaker.
package market

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DefaultTTL is how long a resolved multiplier stays fresh.
const DefaultTTL = 30 * time.Minute

// Cache stores multipliers by ZIP. A miss returns ok=false with no error.
// Service stores NaN for ZIPs with no multiplier on record.
type Cache interface {
	Get(ctx context.Context, zip string) (value float64, ok bool, err error)
	Set(ctx context.Context, zip string, value float64) error
}

// DefaultMaxEntries bounds a MemoryCache.
const DefaultMaxEntries = 10000

type entry struct {
	value     float64
	expiresAt time.Time
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithMaxEntries caps the number of entries. n <= 0 keeps the default.
func WithMaxEntries(n int) MemoryOption {
	return func(c *MemoryCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// MemoryCache is an in-process Cache with a fixed TTL and a size cap.
// Expired entries are dropped when read, when the cap is reached and by
// Sweep.
type MemoryCache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]entry
	nowFunc    func() time.Time
}

// NewMemoryCache creates a MemoryCache. ttl <= 0 uses DefaultTTL.
func NewMemoryCache(ttl time.Duration, opts ...MemoryOption) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &MemoryCache{
		ttl:        ttl,
		maxEntries: DefaultMaxEntries,
		entries:    make(map[string]entry),
		nowFunc:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns a fresh entry for zip.
func (c *MemoryCache) Get(_ context.Context, zip string) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[zip]
	if !ok {
		return 0, false, nil
	}
	if !c.nowFunc().Before(e.expiresAt) {
		delete(c.entries, zip)
		return 0, false, nil
	}
	return e.value, true, nil
}

// Set stores value for zip, replacing any existing entry. At capacity it
// drops expired entries first, then the entry closest to expiry.
func (c *MemoryCache) Set(_ context.Context, zip string, value float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFunc()
	if _, exists := c.entries[zip]; !exists && len(c.entries) >= c.maxEntries {
		if c.purgeLocked(now) == 0 {
			c.evictOldestLocked()
		}
	}
	c.entries[zip] = entry{value: value, expiresAt: now.Add(c.ttl)}
	return nil
}

// Purge drops expired entries and returns how many were removed.
func (c *MemoryCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeLocked(c.nowFunc())
}

// Sweep purges expired entries every interval until ctx ends.
func (c *MemoryCache) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Purge(); n > 0 {
				zap.L().Debug("market: purged expired cache entries", zap.Int("count", n))
			}
		}
	}
}

func (c *MemoryCache) purgeLocked(now time.Time) int {
	n := 0
	for zip, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, zip)
			n++
		}
	}
	return n
}

func (c *MemoryCache) evictOldestLocked() {
	var oldest string
	var at time.Time
	first := true
	for zip, e := range c.entries {
		if first || e.expiresAt.Before(at) {
			oldest, at, first = zip, e.expiresAt, false
		}
	}
	delete(c.entries, oldest)
}

// RedisCache shares multipliers across instances.
type RedisCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps client. Keys are prefix+zip.
func NewRedisCache(client redis.Cmdable, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the redis key for zip.
func (c *RedisCache) Key(zip string) string { return c.prefix + zip }

// Get reads zip from redis.
func (c *RedisCache) Get(ctx context.Context, zip string) (float64, bool, error) {
	raw, err := c.client.Get(ctx, c.Key(zip)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, eris.Wrapf(err, "market: redis get %s", zip)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, eris.Wrapf(err, "market: parse cached value for %s", zip)
	}
	return v, true, nil
}

// Set writes zip with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, zip string, value float64) error {
	err := c.client.Set(ctx, c.Key(zip), strconv.FormatFloat(value, 'f', -1, 64), c.ttl).Err()
	return eris.Wrapf(err, "market: redis set %s", zip)
}

// NewRedisClient parses url and returns a connected client.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "market: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "market: redis ping")
	}
	return client, nil
}

package cache

import "time"

type MemoryOption func(*MemoryCache)

// WithMaxEntries caps how many entries the memory cache holds before evicting.
func WithMaxEntries(n int) MemoryOption {
	return func(c *MemoryCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

type RedisOption func(*RedisCache)

// WithKeyPrefix namespaces all keys written by the redis cache.
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

type LayeredOption func(*LayeredCache)

// WithBackfillTTL sets the L1 lifetime applied when an L2 hit is copied up.
func WithBackfillTTL(d time.Duration) LayeredOption {
	return func(c *LayeredCache) {
		if d > 0 {
			c.backfillTTL = d
		}
	}
}

package cache

import (
	"context"
	"errors"
	"time"
)

// LayeredCache combines a fast local L1 with a durable L2. Writes go through
// both; reads prefer L1 and backfill it on an L2 hit.
type LayeredCache struct {
	l1          Service
	l2          Service
	backfillTTL time.Duration
}

func NewLayered(l1, l2 Service, opts ...LayeredOption) *LayeredCache {
	c := &LayeredCache{l1: l1, l2: l2, backfillTTL: 10 * time.Second}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *LayeredCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.l1.Set(ctx, key, value, ttl)
}

func (c *LayeredCache) Get(ctx context.Context, key string, dest any) error {
	err := c.l1.Get(ctx, key, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return err
	}
	if err := c.l2.Get(ctx, key, dest); err != nil {
		return err
	}
	// the remaining L2 TTL is unknown, so the backfill gets a short one
	_ = c.l1.Set(ctx, key, dest, c.backfillTTL)
	return nil
}

func (c *LayeredCache) Delete(ctx context.Context, key string) error {
	if err := c.l1.Delete(ctx, key); err != nil {
		return err
	}
	return c.l2.Delete(ctx, key)
}

func (c *LayeredCache) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := c.l1.Exists(ctx, key)
	if err == nil && ok {
		return true, nil
	}
	return c.l2.Exists(ctx, key)
}

func (c *LayeredCache) Close() error {
	err1 := c.l1.Close()
	err2 := c.l2.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

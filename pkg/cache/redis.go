package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Service backed by redis so cached values survive restarts
// and are shared between instances.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, opts ...RedisOption) *RedisCache {
	c := &RedisCache{client: client, prefix: "riskpilot"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RedisCache) key(k string) string {
	if c.prefix == "" {
		return k
	}
	return c.prefix + ":" + k
}

func (c *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), payload, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string, dest any) error {
	payload, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(payload, dest)
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Unlink(ctx, c.key(key)).Err()
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

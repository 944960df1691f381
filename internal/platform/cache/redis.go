// Package cache provides Redis-backed byte caches for read-heavy lookups.
package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores raw values under a namespaced key.
type RedisCache struct {
	client    redis.Cmdable
	namespace string
}

// NewRedisCache wraps a go-redis client. Keys are prefixed with namespace followed by a colon.
func NewRedisCache(client redis.Cmdable, namespace string) (*RedisCache, error) {
	if client == nil {
		return nil, errors.New("redis cache: client is required")
	}
	namespace = strings.Trim(strings.TrimSpace(namespace), ":")
	return &RedisCache{client: client, namespace: namespace}, nil
}

// Get returns ok=false on a miss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// Set stores value with the given TTL. A non-positive TTL keeps the key without expiry.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return c.client.Set(ctx, c.key(key), value, ttl).Err()
}

// Delete evicts a key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.key(key)).Err()
}

func (c *RedisCache) key(key string) string {
	if c.namespace == "" {
		return key
	}
	return c.namespace + ":" + key
}

// Ping reports whether the Redis server is reachable.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

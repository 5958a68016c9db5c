// internal/adapters/redis_adapter/cache.go
package redis_a

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stocklens/countd/internal/core/ports"
)

// CacheKeyPrefix namespaces the key families the capture workflow writes.
type CacheKeyPrefix string

const (
	PrefixSession  CacheKeyPrefix = "session"
	PrefixRecent   CacheKeyPrefix = "session:recent"
	PrefixReasons  CacheKeyPrefix = "variance"
	PrefixCooldown CacheKeyPrefix = "lookup:cooldown"
)

// ErrCacheMiss signals an absent key. Callers branch on it, so Get returns it
// unwrapped.
var ErrCacheMiss = errors.New("cache miss")

// Cache is the Redis-backed ports.CacheRepository. Values are stored as JSON;
// the recently-scanned list and cached variance reasons are small enough that
// per-value serialization cost never shows up in a capture loop.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

var _ ports.CacheRepository = (*Cache)(nil)

// NewCache wraps client with JSON serialization and a default TTL.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) ports.CacheRepository {
	return &Cache{
		client: client,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "cache")),
	}
}

// Set stores value under key for the default TTL.
func (c *Cache) Set(ctx context.Context, key string, value interface{}) error {
	return c.SetWithTTL(ctx, key, value, c.ttl)
}

// SetWithTTL stores value under key for the given TTL.
func (c *Cache) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return c.fail(ctx, "marshal cache value", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return c.fail(ctx, "redis set", key, err)
	}

	c.logger.DebugContext(ctx, "cache set",
		slog.String("key", key),
		slog.Duration("ttl", ttl))
	return nil
}

// Get reads key into dest, returning ErrCacheMiss when absent.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		c.logger.DebugContext(ctx, "cache miss", slog.String("key", key))
		return ErrCacheMiss
	case err != nil:
		return c.fail(ctx, "redis get", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return c.fail(ctx, "unmarshal cache value", key, err)
	}

	c.logger.DebugContext(ctx, "cache hit", slog.String("key", key))
	return nil
}

// Delete removes the given keys. Deleting nothing is a no-op, not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return c.fail(ctx, "redis del", strings.Join(keys, ","), err)
	}

	c.logger.DebugContext(ctx, "cache deleted", slog.Any("keys", keys))
	return nil
}

// Exists reports whether every given key is present.
func (c *Cache) Exists(ctx context.Context, keys ...string) (bool, error) {
	n, err := c.client.Exists(ctx, keys...).Result()
	if err != nil {
		return false, c.fail(ctx, "redis exists", strings.Join(keys, ","), err)
	}
	return n == int64(len(keys)), nil
}

// GetOrSet reads key into dest, calling fetch and caching the result on a
// miss. A failed cache write after a successful fetch is logged and swallowed;
// the caller still gets the fetched value.
func (c *Cache) GetOrSet(ctx context.Context, key string, dest interface{},
	fetch func() (interface{}, error), ttl time.Duration) error {

	err := c.Get(ctx, key, dest)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		return err
	}

	value, err := fetch()
	if err != nil {
		return fmt.Errorf("fetch error: %w", err)
	}

	if err := c.SetWithTTL(ctx, key, value, ttl); err != nil {
		c.logger.WarnContext(ctx, "cache write after fetch failed",
			slog.String("key", key),
			slog.Any("error", err))
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return json.Unmarshal(data, dest)
}

// SetNX sets key only when absent. The barcode lookup cool-down latch rides on
// this: the first failed lookup arms it, repeats inside the TTL lose.
func (c *Cache) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal error: %w", err)
	}

	ok, err := c.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return false, c.fail(ctx, "redis setnx", key, err)
	}
	return ok, nil
}

// TTL returns the remaining lifetime of key.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, c.fail(ctx, "redis ttl", key, err)
	}
	return ttl, nil
}

// Ping verifies the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.logger.ErrorContext(ctx, "redis ping failed", slog.Any("error", err))
		return fmt.Errorf("redis ping error: %w", err)
	}
	return nil
}

func (c *Cache) fail(ctx context.Context, op, key string, err error) error {
	c.logger.ErrorContext(ctx, op+" failed",
		slog.String("key", key),
		slog.Any("error", err))
	return fmt.Errorf("%s error: %w", op, err)
}

// BuildKey joins a prefix and its parts with colons.
func BuildKey(prefix CacheKeyPrefix, parts ...string) string {
	if len(parts) == 0 {
		return string(prefix)
	}
	return string(prefix) + ":" + strings.Join(parts, ":")
}

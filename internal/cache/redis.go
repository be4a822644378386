package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"

	"example.com/backstage/services/rewards/config"
)

// Cache errors
var (
	ErrDisabled = errors.New("cache is disabled")
	ErrMiss     = errors.New("key not found in cache")
)

// soldOutTTL bounds how long a stale sold-out marker can survive a reset
const soldOutTTL = 10 * time.Minute

// RedisCache provides caching using Redis
type RedisCache struct {
	client  *redis.Client
	enabled bool
}

// NewRedisCache creates a new Redis cache. A disabled config yields a cache
// whose reads always miss and whose writes are dropped.
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return &RedisCache{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisCache{
		client:  client,
		enabled: true,
	}, nil
}

// Enabled reports whether the cache talks to Redis
func (c *RedisCache) Enabled() bool {
	return c != nil && c.enabled
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string, value interface{}) error {
	if !c.Enabled() {
		return ErrDisabled
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrMiss
		}
		return errors.Wrap(err, "failed to get value from Redis")
	}

	if err := json.Unmarshal(data, value); err != nil {
		return errors.Wrap(err, "failed to unmarshal cached value")
	}
	return nil
}

// Set stores a value in cache with optional expiration
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !c.Enabled() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "failed to marshal value for caching")
	}

	if err := c.client.Set(ctx, key, data, expiration).Err(); err != nil {
		return errors.Wrap(err, "failed to set value in Redis")
	}
	return nil
}

// Delete removes keys from the cache
func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if !c.Enabled() || len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return errors.Wrap(err, "failed to delete keys from Redis")
	}
	return nil
}

// MarkSoldOut records that an item has no supply left. The marker is only a
// hint for the availability pre-check.
func (c *RedisCache) MarkSoldOut(ctx context.Context, itemID string) error {
	if !c.Enabled() {
		return nil
	}
	if err := c.client.Set(ctx, SoldOutKey(itemID), "1", soldOutTTL).Err(); err != nil {
		return errors.Wrap(err, "failed to set sold-out marker")
	}
	return nil
}

// IsSoldOut reports whether the sold-out marker is set. Errors read as false.
func (c *RedisCache) IsSoldOut(ctx context.Context, itemID string) bool {
	if !c.Enabled() {
		return false
	}
	n, err := c.client.Exists(ctx, SoldOutKey(itemID)).Result()
	return err == nil && n > 0
}

// Invalidate drops every cached entry of an item
func (c *RedisCache) Invalidate(ctx context.Context, itemID string) error {
	return c.Delete(ctx, SoldOutKey(itemID), StatusKey(itemID))
}

// SoldOutKey generates the sold-out marker key of an item
func SoldOutKey(itemID string) string {
	return fmt.Sprintf("rewards:soldout:%s", itemID)
}

// StatusKey generates the cache key of an item's status
func StatusKey(itemID string) string {
	return fmt.Sprintf("rewards:status:%s", itemID)
}

// Ping checks that Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	if !c.Enabled() || c.client == nil {
		return nil
	}
	return c.client.Close()
}

package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisKey is where the cached forecast is stored.
const DefaultRedisKey = "solaris:forecast"

// RedisCache stores the forecast in redis so it survives agent restarts.
// Entries carry no TTL: a forecast is valid until explicitly refreshed.
type RedisCache struct {
	client *redis.Client
	key    string
}

// NewRedisCache creates a cache on client under key (DefaultRedisKey if empty).
func NewRedisCache(client *redis.Client, key string) *RedisCache {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisCache{client: client, key: key}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context) (Forecast, bool, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Forecast{}, false, nil
	}
	if err != nil {
		return Forecast{}, false, fmt.Errorf("redis get %s: %w", c.key, err)
	}
	var f Forecast
	if err := json.Unmarshal(data, &f); err != nil {
		return Forecast{}, false, fmt.Errorf("decode cached forecast: %w", err)
	}
	return f, true, nil
}

// Put implements Cache.
func (c *RedisCache) Put(ctx context.Context, f Forecast) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode forecast: %w", err)
	}
	if err := c.client.Set(ctx, c.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", c.key, err)
	}
	return nil
}

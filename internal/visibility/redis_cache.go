package visibility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultHiddenTTL = 10 * time.Minute

// RedisCache stores each viewer's hidden set as a JSON array under
// "hidden:<viewerID>".
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultHiddenTTL
	}
	return &RedisCache{client: client, prefix: "hidden:", ttl: ttl}
}

func (c *RedisCache) key(viewerID string) string {
	return c.prefix + viewerID
}

func (c *RedisCache) Hidden(ctx context.Context, viewerID string) ([]string, bool, error) {
	raw, err := c.client.Get(ctx, c.key(viewerID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get hidden set: %w", err)
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, false, fmt.Errorf("decode hidden set: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, true, nil
}

func (c *RedisCache) StoreHidden(ctx context.Context, viewerID string, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode hidden set: %w", err)
	}
	if err := c.client.Set(ctx, c.key(viewerID), encoded, c.ttl).Err(); err != nil {
		return fmt.Errorf("store hidden set: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, viewerID string) error {
	if err := c.client.Del(ctx, c.key(viewerID)).Err(); err != nil {
		return fmt.Errorf("invalidate hidden set: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

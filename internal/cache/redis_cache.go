package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type RedisDashboardCache struct {
	client *redis.Client
}

func NewRedisDashboardCache(addr string, password string, db int) *RedisDashboardCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisDashboardCache{client: client}
}

func (c *RedisDashboardCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisDashboardCache) Close() error {
	return c.client.Close()
}

// ShopKey builds the cache key for one shop and window. Keys share a per-shop
// prefix so invalidation can sweep every cached window of a shop.
func ShopKey(shopID string, windowStart, windowEnd time.Time) string {
	return fmt.Sprintf("%s%d:%d", shopPrefix(shopID), windowStart.UnixMilli(), windowEnd.UnixMilli())
}

func shopPrefix(shopID string) string {
	return "dashboard:" + shopID + ":"
}

func (c *RedisDashboardCache) Get(ctx context.Context, key string) (*DashboardPayload, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var payload DashboardPayload
	if err := json.Unmarshal([]byte(val), &payload); err != nil {
		return nil, false, err
	}
	return &payload, true, nil
}

func (c *RedisDashboardCache) Set(ctx context.Context, key string, value *DashboardPayload, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, encoded, ttl).Err()
}

func (c *RedisDashboardCache) InvalidateShop(ctx context.Context, shopID string) error {
	iter := c.client.Scan(ctx, 0, shopPrefix(shopID)+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

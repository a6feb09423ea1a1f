package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"fourcash/backend/internal/domain"
)

const settingsKeyPrefix = "store_settings:"

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

type RedisSettingsCache struct {
	client redis.Cmdable
}

func NewRedisSettingsCache(client redis.Cmdable) *RedisSettingsCache {
	return &RedisSettingsCache{client: client}
}

func (c *RedisSettingsCache) Get(ctx context.Context, storeID string) (*domain.StoreSettings, bool, error) {
	val, err := c.client.Get(ctx, settingsKeyPrefix+storeID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var settings domain.StoreSettings
	if err := json.Unmarshal([]byte(val), &settings); err != nil {
		return nil, false, err
	}
	return &settings, true, nil
}

func (c *RedisSettingsCache) Set(ctx context.Context, settings domain.StoreSettings, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, settingsKeyPrefix+settings.StoreID, payload, ttl).Err()
}

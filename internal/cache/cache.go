package cache

import (
	"context"
	"time"

	"fourcash/backend/internal/domain"
)

// SettingsCache holds store settings between aggregation runs.
type SettingsCache interface {
	Get(ctx context.Context, storeID string) (*domain.StoreSettings, bool, error)
	Set(ctx context.Context, settings domain.StoreSettings, ttl time.Duration) error
}

type NoopSettingsCache struct{}

func (NoopSettingsCache) Get(_ context.Context, _ string) (*domain.StoreSettings, bool, error) {
	return nil, false, nil
}

func (NoopSettingsCache) Set(_ context.Context, _ domain.StoreSettings, _ time.Duration) error {
	return nil
}

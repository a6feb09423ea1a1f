package reportdate

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"fourcash/backend/internal/cache"
	"fourcash/backend/internal/domain"
)

// CachedSettings reads through a SettingsCache. Cache failures are logged
// and bypassed.
type CachedSettings struct {
	source SettingsSource
	cache  cache.SettingsCache
	ttl    time.Duration
	log    logrus.FieldLogger
}

func NewCachedSettings(source SettingsSource, c cache.SettingsCache, ttl time.Duration, log logrus.FieldLogger) *CachedSettings {
	if c == nil {
		c = cache.NoopSettingsCache{}
	}
	return &CachedSettings{source: source, cache: c, ttl: ttl, log: log}
}

func (c *CachedSettings) GetStoreSettings(ctx context.Context, storeID string) (*domain.StoreSettings, error) {
	cached, found, err := c.cache.Get(ctx, storeID)
	if err != nil {
		c.log.WithError(err).WithField("store_id", storeID).Debug("settings cache read failed")
	}
	if found && cached != nil {
		return cached, nil
	}

	settings, err := c.source.GetStoreSettings(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, *settings, c.ttl); err != nil {
		c.log.WithError(err).WithField("store_id", storeID).Debug("settings cache write failed")
	}
	return settings, nil
}

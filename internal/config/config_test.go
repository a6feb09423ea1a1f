package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "0")

	cfg := Load()
	assert.Equal(t, BackendMemory, cfg.StoreBackend)
	assert.Equal(t, 8*time.Hour, cfg.AccessTokenTTL())
	assert.Equal(t, "Asia/Ho_Chi_Minh", cfg.StoreTimezone)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Ho_Chi_Minh", loc.String())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Postgres")
	t.Setenv("SETTINGS_CACHE_TTL_SECONDS", "60")
	t.Setenv("JOBS_RUN_AT", "07:30")

	cfg := Load()
	assert.Equal(t, BackendPostgres, cfg.StoreBackend)
	assert.Equal(t, time.Minute, cfg.SettingsCacheTTL())

	hour, minute, err := cfg.RunAt()
	require.NoError(t, err)
	assert.Equal(t, 7, hour)
	assert.Equal(t, 30, minute)
}

func TestRunAtRejectsGarbage(t *testing.T) {
	_, _, err := Config{JobsRunAt: "nine"}.RunAt()
	assert.Error(t, err)
}

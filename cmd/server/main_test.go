package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fourcash/backend/internal/config"
	"fourcash/backend/internal/logging"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: "short"}))
	assert.Error(t, validateSecurityConfig(config.Config{
		AuthSecret: "0123456789abcdef0123456789abcdef",
		PushToken:  "tiny",
	}))
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	assert.NoError(t, validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"}))
	assert.NoError(t, validateSecurityConfig(config.Config{
		AuthSecret: "0123456789abcdef0123456789abcdef",
		PushToken:  "push-token-0123456789",
	}))
}

func TestOpenRepository(t *testing.T) {
	ctx := context.Background()
	log := logging.Discard()

	repo, closeFn, err := openRepository(ctx, config.Config{StoreBackend: config.BackendMemory}, log)
	require.NoError(t, err)
	require.NotNil(t, repo)
	assert.NoError(t, closeFn())

	settings, err := repo.GetStoreSettings(ctx, "demo-store")
	require.NoError(t, err)
	assert.Equal(t, 4, settings.ReportCutoffHour)

	_, _, err = openRepository(ctx, config.Config{StoreBackend: config.BackendPostgres}, log)
	assert.ErrorContains(t, err, "DATABASE_URL")

	_, _, err = openRepository(ctx, config.Config{StoreBackend: config.BackendMongo}, log)
	assert.ErrorContains(t, err, "MONGO_URI")

	_, _, err = openRepository(ctx, config.Config{StoreBackend: "sqlite"}, log)
	assert.ErrorContains(t, err, "unknown STORE_BACKEND")
}

func TestDiscardCount(t *testing.T) {
	boom := errors.New("boom")
	run := discardCount(func(context.Context) (int, error) { return 3, boom })
	assert.ErrorIs(t, run(context.Background()), boom)

	run = discardCount(func(context.Context) (int, error) { return 0, nil })
	assert.NoError(t, run(context.Background()))
}

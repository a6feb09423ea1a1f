package session

import (
	"context"
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRevocationsKeepsLatestInstant(t *testing.T) {
	m := NewMemoryRevocations()
	ctx := context.Background()
	later := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	_, found, err := m.RevokedAt(ctx, "owner-1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, m.Revoke(ctx, "owner-1", later))
	require.NoError(t, m.Revoke(ctx, "owner-1", later.Add(-time.Hour)))

	at, found, err := m.RevokedAt(ctx, "owner-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, later, at)
}

func TestRedisRevocations(t *testing.T) {
	addr := os.Getenv("FOURCASH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FOURCASH_TEST_REDIS_ADDR is not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	r := NewRedisRevocations(client, time.Minute)
	ctx := context.Background()
	uid := "revocation-test-" + time.Now().Format("150405.000000")
	at := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, r.Revoke(ctx, uid, at))
	got, found, err := r.RevokedAt(ctx, uid)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, got.Equal(at))
}

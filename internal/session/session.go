// Package session tracks revoked login sessions.
package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Revocations records, per user, the instant before which issued tokens are invalid.
type Revocations interface {
	Revoke(ctx context.Context, uid string, at time.Time) error
	RevokedAt(ctx context.Context, uid string) (time.Time, bool, error)
}

type MemoryRevocations struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{revoked: make(map[string]time.Time)}
}

func (m *MemoryRevocations) Revoke(_ context.Context, uid string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.revoked[uid]; ok && prev.After(at) {
		return nil
	}
	m.revoked[uid] = at
	return nil
}

func (m *MemoryRevocations) RevokedAt(_ context.Context, uid string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.revoked[uid]
	return at, ok, nil
}

const redisKeyPrefix = "session:revoked:"

// RedisRevocations keeps entries only as long as a token can live.
type RedisRevocations struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisRevocations(client redis.Cmdable, tokenTTL time.Duration) *RedisRevocations {
	return &RedisRevocations{client: client, ttl: tokenTTL}
}

func (r *RedisRevocations) Revoke(ctx context.Context, uid string, at time.Time) error {
	return r.client.Set(ctx, redisKeyPrefix+uid, at.Unix(), r.ttl).Err()
}

func (r *RedisRevocations) RevokedAt(ctx context.Context, uid string) (time.Time, bool, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+uid).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	secs, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(secs, 0).UTC(), true, nil
}

package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fourcash/backend/internal/domain"
	"fourcash/backend/internal/logging"
	"fourcash/backend/internal/session"
	"fourcash/backend/internal/store/memory"
)

type recordingSink struct {
	mu    sync.Mutex
	calls map[string][]string
	msgs  map[string]domain.PushMessage
}

func newRecordingSink() *recordingSink {
	return &recordingSink{calls: make(map[string][]string), msgs: make(map[string]domain.PushMessage)}
}

func (r *recordingSink) SendMulticast(_ context.Context, tokens []string, msg domain.PushMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[msg.Data["storeId"]] = tokens
	r.msgs[msg.Data["storeId"]] = msg
	return nil
}

func TestLowStockProductsIsStrict(t *testing.T) {
	got := LowStockProducts([]domain.Product{
		{ID: "a", Stock: 4, MinStock: 5},
		{ID: "b", Stock: 5, MinStock: 5},
		{ID: "c", Stock: 0, MinStock: 0},
		{ID: "d", Stock: -1, MinStock: 0},
	})
	ids := make([]string, 0, len(got))
	for _, p := range got {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"a", "d"}, ids)
}

func TestLowStockScanAlertsOwnersPerStore(t *testing.T) {
	s := memory.New()
	s.PutUser(domain.UserAccount{UID: "o1", Role: domain.RoleOwner, StoreID: "s1", Active: true, FCMTokens: []string{"t1"}})
	s.PutUser(domain.UserAccount{UID: "o2", Role: domain.RoleOwner, StoreID: "s2", Active: true, FCMTokens: []string{"t2"}})
	s.PutUser(domain.UserAccount{UID: "e1", Role: "employee", StoreID: "s1", Active: true, FCMTokens: []string{"staff"}})
	s.PutProduct(domain.Product{ID: "p1", StoreID: "s1", ProductName: "Bánh mì", Stock: 1, MinStock: 3})
	s.PutProduct(domain.Product{ID: "p2", StoreID: "s1", ProductName: "Sữa", Stock: 10, MinStock: 3})
	s.PutProduct(domain.Product{ID: "p3", StoreID: "s2", ProductName: "Trà", Stock: 3, MinStock: 3})

	sink := newRecordingSink()
	j := New(s, session.NewMemoryRevocations(), sink, logging.Discard())

	alerted, err := j.LowStockScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, alerted)
	assert.Equal(t, []string{"t1"}, sink.calls["s1"])
	assert.NotContains(t, sink.calls, "s2")
	assert.Equal(t, "Bánh mì", sink.msgs["s1"].Body)
	assert.Equal(t, "low_stock", sink.msgs["s1"].Data["type"])
}

func TestLowStockMessageTruncatesList(t *testing.T) {
	low := make([]domain.Product, 7)
	for i := range low {
		low[i] = domain.Product{ProductName: string(rune('A' + i))}
	}
	msg := lowStockMessage("s1", low)
	assert.Equal(t, "A, B, C, D, E và 2 sản phẩm khác", msg.Body)
	assert.Equal(t, "7", msg.Data["count"])
}

func TestSubscriptionExpiryScan(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)

	s := memory.New()
	s.PutUser(domain.UserAccount{UID: "o1", Role: domain.RoleOwner, StoreID: "s1", Active: true, SubscriptionExpiryDate: &past})
	s.PutUser(domain.UserAccount{UID: "e1", Role: "employee", StoreID: "s1", Active: true})
	s.PutUser(domain.UserAccount{UID: "o2", Role: domain.RoleOwner, StoreID: "s2", Active: true, SubscriptionExpiryDate: &future})
	s.PutUser(domain.UserAccount{UID: "e2", Role: "employee", StoreID: "s2", Active: true})
	s.PutUser(domain.UserAccount{UID: "o3", Role: domain.RoleOwner, StoreID: "s3", Active: true})

	revocations := session.NewMemoryRevocations()
	j := New(s, revocations, newRecordingSink(), logging.Discard())
	j.now = func() time.Time { return now }

	expired, err := j.SubscriptionExpiryScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	users, err := s.ListUsers(context.Background(), domain.UserFilter{})
	require.NoError(t, err)
	active := map[string]bool{}
	for _, u := range users {
		active[u.UID] = u.Active
	}
	assert.Equal(t, map[string]bool{"o1": false, "e1": false, "o2": true, "e2": true, "o3": true}, active)

	at, ok, err := revocations.RevokedAt(context.Background(), "o1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at.Equal(now))

	// Already deactivated owners are not processed again.
	expired, err = j.SubscriptionExpiryScan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, expired)
}

func TestNextRun(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	require.NoError(t, err)

	before := time.Date(2024, 6, 1, 1, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 6, 1, 7, 30, 0, 0, loc), NextRun(before, loc, 7, 30))

	exactly := time.Date(2024, 6, 1, 7, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2024, 6, 2, 7, 30, 0, 0, loc), NextRun(exactly, loc, 7, 30))

	utcLate := time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC) // 06:00 on June 2 local
	assert.Equal(t, time.Date(2024, 6, 2, 7, 30, 0, 0, loc), NextRun(utcLate, loc, 7, 30))
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
	err  error
}

func (f *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func TestRunOnceRunsEachJobOncePerDay(t *testing.T) {
	locker := &fakeLocker{held: map[string]bool{}}
	var runs []string
	jobs := []Job{
		{Name: "a", Run: func(context.Context) error { runs = append(runs, "a"); return nil }},
		{Name: "b", Run: func(context.Context) error { runs = append(runs, "b"); return errors.New("fails") }},
	}
	day := time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC)

	first := NewScheduler(time.UTC, 7, 0, locker, logging.Discard(), jobs...)
	second := NewScheduler(time.UTC, 7, 0, locker, logging.Discard(), jobs...)
	first.RunOnce(context.Background(), day)
	second.RunOnce(context.Background(), day)
	assert.Equal(t, []string{"a", "b"}, runs)

	first.RunOnce(context.Background(), day.AddDate(0, 0, 1))
	assert.Equal(t, []string{"a", "b", "a", "b"}, runs)
	assert.True(t, locker.held["jobs:a:2024-06-01"])
}

func TestRunOnceSkipsWhenLockErrors(t *testing.T) {
	ran := false
	s := NewScheduler(time.UTC, 0, 0, &fakeLocker{err: errors.New("redis down")}, logging.Discard(),
		Job{Name: "a", Run: func(context.Context) error { ran = true; return nil }})
	s.RunOnce(context.Background(), time.Now())
	assert.False(t, ran)

	unlocked := NewScheduler(time.UTC, 0, 0, nil, logging.Discard(),
		Job{Name: "a", Run: func(context.Context) error { ran = true; return nil }})
	unlocked.RunOnce(context.Background(), time.Now())
	assert.True(t, ran)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewScheduler(time.UTC, 0, 0, nil, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
}

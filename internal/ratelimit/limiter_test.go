package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proactiveitadmin/gym-integrator/internal/repository"
)

// memCounters mimics the DynamoDB ADD ... ReturnValues=ALL_NEW semantics.
type memCounters struct {
	mu       sync.Mutex
	counters map[string]*repository.Counter
	incErr   error
	totalErr error
	setErr   error
}

func newMemCounters() *memCounters {
	return &memCounters{counters: map[string]*repository.Counter{}}
}

func (m *memCounters) Increment(_ context.Context, tenantID, bucket, key string, nowUnix int64) (repository.Counter, error) {
	if key == repository.TotalCounterKey && m.totalErr != nil {
		return repository.Counter{}, m.totalErr
	}
	if key != repository.TotalCounterKey && m.incErr != nil {
		return repository.Counter{}, m.incErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := tenantID + "#" + bucket + "#" + key
	c, ok := m.counters[k]
	if !ok {
		c = &repository.Counter{}
		m.counters[k] = c
	}
	c.Count++
	c.LastTS = nowUnix
	return *c, nil
}

func (m *memCounters) SetBlockedUntil(_ context.Context, tenantID, bucket, key string, untilUnix int64) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[tenantID+"#"+bucket+"#"+key].BlockedUntil = untilUnix
	return nil
}

func fixedClock(ts *time.Time) Option {
	return WithClock(func() time.Time { return *ts })
}

func TestIsBlocked_PerPhoneLimit(t *testing.T) {
	now := time.Date(2024, 5, 6, 10, 0, 5, 0, time.UTC)
	l, err := New(newMemCounters(), Config{BucketSeconds: 60, MaxPerBucket: 3, TenantMaxPerBucket: 300}, fixedClock(&now))
	require.NoError(t, err)

	var got []bool
	for i := 0; i < 5; i++ {
		got = append(got, l.IsBlocked(context.Background(), "t1", "whatsapp:+48500"))
		now = now.Add(time.Second)
	}
	require.Equal(t, []bool{false, false, false, true, true}, got)
}

func TestIsBlocked_MarkerIsPerBucket(t *testing.T) {
	now := time.Date(2024, 5, 6, 10, 0, 50, 0, time.UTC)
	store := newMemCounters()
	l, err := New(store, Config{BucketSeconds: 60, MaxPerBucket: 1}, fixedClock(&now))
	require.NoError(t, err)
	ctx := context.Background()

	require.False(t, l.IsBlocked(ctx, "t1", "p"))
	require.True(t, l.IsBlocked(ctx, "t1", "p"))

	// A new bucket starts with a fresh counter and no marker.
	now = now.Add(15 * time.Second)
	require.False(t, l.IsBlocked(ctx, "t1", "p"))
}

func TestIsBlocked_OtherPhonesUnaffected(t *testing.T) {
	now := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	l, err := New(newMemCounters(), Config{BucketSeconds: 60, MaxPerBucket: 1}, fixedClock(&now))
	require.NoError(t, err)

	require.False(t, l.IsBlocked(context.Background(), "t1", "a"))
	require.True(t, l.IsBlocked(context.Background(), "t1", "a"))
	require.False(t, l.IsBlocked(context.Background(), "t1", "b"))
	require.False(t, l.IsBlocked(context.Background(), "t2", "a"))
}

func TestIsBlocked_TenantTotal(t *testing.T) {
	now := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)
	l, err := New(newMemCounters(), Config{BucketSeconds: 60, MaxPerBucket: 20, TenantMaxPerBucket: 2}, fixedClock(&now))
	require.NoError(t, err)
	ctx := context.Background()

	require.False(t, l.IsBlocked(ctx, "t1", "a"))
	require.False(t, l.IsBlocked(ctx, "t1", "b"))
	require.True(t, l.IsBlocked(ctx, "t1", "c"))
	require.False(t, l.IsBlocked(ctx, "t2", "c"))
}

func TestIsBlocked_MissingPhoneFailsOpen(t *testing.T) {
	store := newMemCounters()
	l, err := New(store, Config{})
	require.NoError(t, err)

	require.False(t, l.IsBlocked(context.Background(), "t1", ""))
	require.Empty(t, store.counters)
}

func TestIsBlocked_StoreErrorsFailOpen(t *testing.T) {
	store := newMemCounters()
	store.incErr = errors.New("ddb unavailable")
	l, err := New(store, Config{MaxPerBucket: 1})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.False(t, l.IsBlocked(context.Background(), "t1", "p"))
	}
}

func TestIsBlocked_TotalErrorDoesNotBlock(t *testing.T) {
	store := newMemCounters()
	store.totalErr = errors.New("throttled")
	l, err := New(store, Config{MaxPerBucket: 5, TenantMaxPerBucket: 1})
	require.NoError(t, err)

	require.False(t, l.IsBlocked(context.Background(), "t1", "p"))
	require.False(t, l.IsBlocked(context.Background(), "t1", "p"))
}

func TestIsBlocked_SetMarkerFailureStillBlocks(t *testing.T) {
	store := newMemCounters()
	store.setErr = errors.New("throttled")
	l, err := New(store, Config{MaxPerBucket: 1})
	require.NoError(t, err)

	require.False(t, l.IsBlocked(context.Background(), "t1", "p"))
	require.True(t, l.IsBlocked(context.Background(), "t1", "p"))
}

func TestBucketID(t *testing.T) {
	ts := time.Date(2024, 5, 6, 10, 17, 42, 0, time.UTC)
	require.Equal(t, "20240506101700", BucketID(ts, 60))
	require.Equal(t, "20240506101500", BucketID(ts, 300))
	require.Equal(t, "20240506101742", BucketID(ts, 1))
}

func TestNew_Defaults(t *testing.T) {
	_, err := New(nil, Config{})
	require.ErrorContains(t, err, "must not be nil")

	l, err := New(newMemCounters(), Config{})
	require.NoError(t, err)
	require.Equal(t, Config{BucketSeconds: 60, MaxPerBucket: 20}, l.cfg)
}

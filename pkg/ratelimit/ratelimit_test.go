package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClockedStore(now *time.Time) *MemoryStore {
	store := NewMemoryStore(zap.NewNop())
	store.now = func() time.Time { return *now }
	return store
}

func TestLimiterAllowsUpToLimit(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	limiter := NewLimiter(newClockedStore(&now), 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := limiter.Allow(ctx, "otp:b1:start")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(2-i), res.Remaining)
	}

	res, err := limiter.Allow(ctx, "otp:b1:start")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Minute, res.RetryAfter)

	// other keys are independent
	res, err = limiter.Allow(ctx, "otp:b2:start")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiterWindowResets(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	limiter := NewLimiter(newClockedStore(&now), 1, time.Minute)
	ctx := context.Background()

	res, _ := limiter.Allow(ctx, "k")
	assert.True(t, res.Allowed)
	res, _ = limiter.Allow(ctx, "k")
	assert.False(t, res.Allowed)

	now = now.Add(time.Minute)
	res, _ = limiter.Allow(ctx, "k")
	assert.True(t, res.Allowed)
}

func TestLimiterDisabled(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(zap.NewNop()), 0, time.Minute)
	for i := 0; i < 100; i++ {
		res, err := limiter.Allow(context.Background(), "k")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	store := newClockedStore(&now)
	ctx := context.Background()

	_, _, _ = store.Incr(ctx, "a", time.Minute)
	_, _, _ = store.Incr(ctx, "b", 2*time.Minute)
	require.Equal(t, 2, store.Len())

	now = now.Add(90 * time.Second)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStoreStartStopsWithContext(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		store.Start(ctx, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

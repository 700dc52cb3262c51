package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/engineerpark/cdulog/internal/config"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestWriteLimiterExhaustsBurst(t *testing.T) {
	client, _ := newClient(t)
	cfg := config.Config{
		RateLimit: config.RateLimitConfig{Enabled: true, WriteRate: 0.001, WriteBurst: 2},
		Redis:     config.RedisConfig{KeyPrefix: "test"},
	}
	limiter, err := NewWriteLimiter(cfg, client, zap.NewNop())
	require.NoError(t, err)
	require.True(t, limiter.Enabled())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "u-1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := limiter.Allow(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))

	other, err := limiter.Allow(ctx, "u-2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestWriteLimiterDisabled(t *testing.T) {
	client, _ := newClient(t)
	limiter, err := NewWriteLimiter(config.Config{}, client, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, limiter)

	res, err := limiter.Allow(context.Background(), "u-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	limiter, err = NewWriteLimiter(config.Config{RateLimit: config.RateLimitConfig{Enabled: true, WriteRate: 1, WriteBurst: 1}}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())
}

func TestLockerIsExclusive(t *testing.T) {
	client, mr := newClient(t)
	locker := NewLocker(client)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := locker.Acquire(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, first.Release(ctx))
	require.NoError(t, first.Release(ctx))
	assert.False(t, mr.Exists("reconcile"))
}

func TestExpiredLeaseDoesNotReleaseNewHolder(t *testing.T) {
	client, mr := newClient(t)
	locker := NewLocker(client)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, stale)

	mr.FastForward(2 * time.Minute)
	current, err := locker.Acquire(ctx, "reconcile", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, current)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists("reconcile"))

	require.NoError(t, current.Release(ctx))
	assert.False(t, mr.Exists("reconcile"))
}

func TestNilLockerRefusesToAcquire(t *testing.T) {
	var locker *Locker
	_, err := locker.Acquire(context.Background(), "reconcile", time.Minute)
	assert.Error(t, err)
}

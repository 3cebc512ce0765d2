package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditgate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestLockerExclusive(t *testing.T) {
	client, _ := newTestClient(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "job", "someone-else"))
	_, ok, _ = locker.TryLock(ctx, "job", time.Minute)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "job", token))
	_, ok, err = locker.TryLock(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockerWithLock(t *testing.T) {
	client, mr := newTestClient(t)
	locker := NewLocker(client)
	ctx := context.Background()

	ran, err := locker.WithLock(ctx, "renewal", time.Minute, func(context.Context) error {
		assert.True(t, mr.Exists("renewal"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("renewal"))

	boom := errors.New("boom")
	ran, err = locker.WithLock(ctx, "renewal", time.Minute, func(context.Context) error { return boom })
	assert.True(t, ran)
	assert.ErrorIs(t, err, boom)

	_, _, err = locker.TryLock(ctx, "x", 0)
	assert.ErrorIs(t, err, ErrInvalidLockTTL)

	var nilLocker *Locker
	_, _, err = nilLocker.TryLock(ctx, "x", time.Second)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
}

func TestCallerLimiterBurst(t *testing.T) {
	client, _ := newTestClient(t)
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, Rate: 0.001, Burst: 2}}
	limiter, err := NewCallerLimiter(cfg, client)
	require.NoError(t, err)
	require.True(t, limiter.Enabled())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "anon:abc")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := limiter.Allow(ctx, "anon:abc")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Positive(t, d.RetryAfter)

	d, err = limiter.Allow(ctx, "anon:other")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCallerLimiterDisabled(t *testing.T) {
	limiter, err := NewCallerLimiter(config.Config{}, nil)
	require.NoError(t, err)
	assert.False(t, limiter.Enabled())

	d, err := limiter.Allow(context.Background(), "anyone")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

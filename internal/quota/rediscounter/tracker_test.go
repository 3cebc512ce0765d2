package rediscounter

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"github.com/smallbiznis/creditgate/internal/quota/trackertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTracker(client), mr
}

func TestRedisTrackerContract(t *testing.T) {
	trackertest.Run(t, func(t *testing.T) quotadomain.Tracker {
		tracker, _ := newTestTracker(t)
		return tracker
	})
}

func TestRedisTrackerKeyHasNoExpiry(t *testing.T) {
	tracker, mr := newTestTracker(t)

	_, err := tracker.CheckAndIncrement(context.Background(), "anon:ttl", 3)
	require.NoError(t, err)

	got, err := mr.Get(key("anon:ttl"))
	require.NoError(t, err)
	assert.Equal(t, "1", got)
	assert.Zero(t, mr.TTL(key("anon:ttl")))
}

func TestNilTrackerErrors(t *testing.T) {
	var tracker *Tracker
	_, err := tracker.CheckAndIncrement(context.Background(), "anon:x", 3)
	assert.Error(t, err)
	assert.Nil(t, NewTracker(nil))
}

// Package trackertest holds behaviour checks shared by every quota Tracker.
//
// SQL trackers only race at the database when built on more than one
// connection (see dbtest.OpenShared).
package trackertest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises the Tracker contract against a fresh tracker.
func Run(t *testing.T, factory func(t *testing.T) quotadomain.Tracker) {
	t.Run("CapOfThree", func(t *testing.T) {
		tracker := factory(t)
		ctx := context.Background()

		for _, remaining := range []int{2, 1, 0} {
			res, err := tracker.CheckAndIncrement(ctx, "anon:a", 3)
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, remaining, res.Remaining)
		}
		res, err := tracker.CheckAndIncrement(ctx, "anon:a", 3)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 3, res.Used)
		assert.Equal(t, 0, res.Remaining)
	})

	t.Run("IdentitiesAreIndependent", func(t *testing.T) {
		tracker := factory(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			_, err := tracker.CheckAndIncrement(ctx, "anon:b", 3)
			require.NoError(t, err)
		}
		res, err := tracker.CheckAndIncrement(ctx, "anon:c", 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 1, res.Used)
	})

	t.Run("ConcurrentCallersNeverExceedCap", func(t *testing.T) {
		tracker := factory(t)
		ctx := context.Background()

		var allowed atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := tracker.CheckAndIncrement(ctx, "anon:burst", 3)
				if assert.NoError(t, err) && res.Allowed {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(3), allowed.Load())

		res, err := tracker.Peek(ctx, "anon:burst", 3)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Used)
		assert.False(t, res.Allowed)
	})

	t.Run("PeekDoesNotConsume", func(t *testing.T) {
		tracker := factory(t)
		ctx := context.Background()

		res, err := tracker.Peek(ctx, "anon:peek", 3)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Used)
		assert.True(t, res.Allowed)

		_, err = tracker.CheckAndIncrement(ctx, "anon:peek", 3)
		require.NoError(t, err)
		for i := 0; i < 2; i++ {
			res, err = tracker.Peek(ctx, "anon:peek", 3)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Used)
			assert.Equal(t, 2, res.Remaining)
		}
	})

	t.Run("ZeroLimitDeniesImmediately", func(t *testing.T) {
		tracker := factory(t)
		res, err := tracker.CheckAndIncrement(context.Background(), "anon:zero", 0)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Used)
	})

	t.Run("EmptyIdentityRejected", func(t *testing.T) {
		tracker := factory(t)
		_, err := tracker.CheckAndIncrement(context.Background(), " ", 3)
		assert.ErrorIs(t, err, quotadomain.ErrInvalidIdentity)
	})

	t.Run("ManyIdentities", func(t *testing.T) {
		tracker := factory(t)
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				identity := fmt.Sprintf("anon:many-%d", i)
				for j := 0; j < 4; j++ {
					_, err := tracker.CheckAndIncrement(ctx, identity, 3)
					assert.NoError(t, err)
				}
			}(i)
		}
		wg.Wait()
		for i := 0; i < 10; i++ {
			res, err := tracker.Peek(ctx, fmt.Sprintf("anon:many-%d", i), 3)
			require.NoError(t, err)
			assert.Equal(t, 3, res.Used)
		}
	})
}

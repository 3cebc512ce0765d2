package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/creditgate/internal/catalog"
	obsmetrics "github.com/smallbiznis/creditgate/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"github.com/smallbiznis/creditgate/internal/quota/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, allowance int) quotadomain.Service {
	t.Helper()
	cfg := catalog.DefaultConfig()
	cfg.FreeTrialAllowance = allowance
	holder, err := catalog.NewStaticHolder(cfg)
	require.NoError(t, err)
	return NewService(Params{
		Tracker:    memory.NewTracker(),
		Catalog:    holder,
		Log:        zap.NewNop(),
		ObsMetrics: obsmetrics.New(prometheus.NewRegistry(), obsmetrics.Config{}),
	})
}

func TestFreeTrialSequence(t *testing.T) {
	svc := newTestService(t, 3)
	ctx := context.Background()
	identity, err := quotadomain.DeriveIdentity("198.51.100.4", "")
	require.NoError(t, err)

	for _, remaining := range []int{2, 1, 0} {
		res, err := svc.CheckAndIncrement(ctx, identity)
		require.NoError(t, err)
		assert.Equal(t, remaining, res.Remaining)
	}

	res, err := svc.CheckAndIncrement(ctx, identity)
	assert.ErrorIs(t, err, quotadomain.ErrFreeTrialExhausted)
	assert.False(t, res.Allowed)
	assert.Equal(t, 3, res.Limit)
}

func TestPeekUsesConfiguredAllowance(t *testing.T) {
	svc := newTestService(t, 5)
	res, err := svc.Peek(context.Background(), "anon:fresh")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Remaining)
	assert.True(t, res.Allowed)
}

func TestEmptyIdentity(t *testing.T) {
	svc := newTestService(t, 3)
	_, err := svc.CheckAndIncrement(context.Background(), "")
	assert.ErrorIs(t, err, quotadomain.ErrInvalidIdentity)
	_, err = svc.Peek(context.Background(), "")
	assert.ErrorIs(t, err, quotadomain.ErrInvalidIdentity)
}

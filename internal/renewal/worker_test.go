package renewal

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditgate/internal/catalog"
	"github.com/smallbiznis/creditgate/internal/clock"
	"github.com/smallbiznis/creditgate/internal/config"
	ledgerdomain "github.com/smallbiznis/creditgate/internal/ledger/domain"
	"github.com/smallbiznis/creditgate/internal/ledger/memory"
	obsmetrics "github.com/smallbiznis/creditgate/internal/observability/metrics"
	"github.com/smallbiznis/creditgate/internal/observability/metrics/metricstest"
	"github.com/smallbiznis/creditgate/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var epoch = time.Date(2026, time.January, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	worker   *Worker
	store    *memory.Store
	clock    *clock.FakeClock
	registry *prometheus.Registry
}

func newFixture(t *testing.T, locker *ratelimit.Locker) fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(epoch)
	store := memory.NewStore(node, clk)
	cfg := catalog.DefaultConfig()
	cfg.Plans = append(cfg.Plans, catalog.Plan{Code: "launch-pack", Credits: 30})
	holder, err := catalog.NewStaticHolder(cfg)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()

	w := New(Params{
		Config:     config.Config{Renewal: config.RenewalConfig{BatchSize: 2, LockTTL: time.Minute}},
		Store:      store,
		Catalog:    holder,
		Clock:      clk,
		Log:        zap.NewNop(),
		Locker:     locker,
		JobMetrics: obsmetrics.NewJobMetrics(reg, obsmetrics.Config{ServiceName: "creditgate", Environment: "test"}),
	})
	return fixture{worker: w, store: store, clock: clk, registry: reg}
}

func (f fixture) provision(t *testing.T, accountID, plan string, credits int64) {
	t.Helper()
	account := ledgerdomain.Account{
		AccountID:    accountID,
		TotalCredits: credits,
		PeriodStart:  epoch,
		PeriodEnd:    ledgerdomain.CycleEnd(epoch, 1),
	}
	if plan != "" {
		account.PlanCode = &plan
	}
	_, err := f.store.CreateAccount(context.Background(), account)
	require.NoError(t, err)
}

func TestRunOnceSkipsAccountsMidCycle(t *testing.T) {
	f := newFixture(t, nil)
	f.provision(t, "acct-1", "starter", 100)

	renewed, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, renewed)
}

func TestRunOnceResetsUsageFromPlan(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.provision(t, "acct-1", "pro", 40)
	_, err := f.store.ApplyCharge(ctx, ledgerdomain.Charge{
		TransactionID: "tx-1",
		AccountID:     "acct-1",
		OperationType: "email-writer",
		Cost:          30,
	})
	require.NoError(t, err)

	f.clock.Set(epoch.AddDate(0, 1, 0))
	renewed, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, renewed)

	account, err := f.store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), account.TotalCredits)
	assert.Zero(t, account.UsedCredits)
	assert.Equal(t, int64(1), account.Cycle)
	assert.Equal(t, epoch.AddDate(0, 1, 0), account.PeriodStart)
	require.NotNil(t, account.PeriodEnd)
	assert.Equal(t, epoch.AddDate(0, 2, 0), *account.PeriodEnd)

	// Already renewed: the next pass has nothing to do.
	renewed, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, renewed)
}

func TestRunOnceCatchesUpMissedCycles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.provision(t, "acct-1", "starter", 100)

	f.clock.Set(epoch.AddDate(0, 3, 2))
	renewed, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, renewed)

	account, err := f.store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, epoch.AddDate(0, 3, 0), account.PeriodStart)
	require.NotNil(t, account.PeriodEnd)
	assert.Equal(t, epoch.AddDate(0, 4, 0), *account.PeriodEnd)
}

func TestRunOnceEndsRenewalForOneOffPlan(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.provision(t, "acct-1", "launch-pack", 30)
	_, err := f.store.ApplyCharge(ctx, ledgerdomain.Charge{
		TransactionID: "tx-1",
		AccountID:     "acct-1",
		OperationType: "email-writer",
		Cost:          10,
	})
	require.NoError(t, err)

	f.clock.Set(epoch.AddDate(0, 1, 0))
	renewed, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, renewed)

	account, err := f.store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), account.TotalCredits)
	assert.Zero(t, account.UsedCredits)
	assert.Equal(t, epoch.AddDate(0, 1, 0), account.PeriodStart)
	assert.Nil(t, account.PeriodEnd)

	f.clock.Set(epoch.AddDate(1, 0, 0))
	renewed, err = f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, renewed)
}

func TestRunOnceKeepsAllotmentWhenPlanRemoved(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.provision(t, "acct-1", "legacy", 75)

	f.clock.Set(epoch.AddDate(0, 1, 0))
	renewed, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, renewed)

	account, err := f.store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(75), account.TotalCredits)
}

func TestRunOnceDrainsInBatches(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for _, id := range []string{"acct-1", "acct-2", "acct-3", "acct-4", "acct-5"} {
		f.provision(t, id, "starter", 100)
	}

	f.clock.Set(epoch.AddDate(0, 1, 0))
	renewed, err := f.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, renewed)
	assert.Equal(t, float64(5), metricstest.CounterValue(t, f.registry,
		"creditgate_job_items_processed_total", map[string]string{"job": jobName}))
}

func TestRenewIgnoresStaleCycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.provision(t, "acct-1", "starter", 100)

	f.clock.Set(epoch.AddDate(0, 1, 0))
	due, err := f.store.ListDueForRenewal(ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	ok, err := f.worker.renew(ctx, due[0], f.clock.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	// Same snapshot again: another writer already moved the cycle on.
	ok, err = f.worker.renew(ctx, due[0], f.clock.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTickSkipsWhenLockHeld(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := ratelimit.NewLocker(client)

	f := newFixture(t, locker)
	ctx := context.Background()
	f.provision(t, "acct-1", "starter", 100)
	f.clock.Set(epoch.AddDate(0, 1, 0))

	require.NoError(t, mr.Set(lockKey, "other-replica"))
	f.worker.Tick(ctx)

	account, err := f.store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Zero(t, account.Cycle)
	assert.Equal(t, float64(1), metricstest.CounterValue(t, f.registry,
		"creditgate_job_skipped_total", map[string]string{"job": jobName, "reason": obsmetrics.JobSkipLockHeld}))

	mr.Del(lockKey)
	f.worker.Tick(ctx)

	account, err = f.store.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), account.Cycle)
	assert.False(t, mr.Exists(lockKey))
	assert.Equal(t, float64(2), metricstest.CounterValue(t, f.registry,
		"creditgate_job_runs_total", map[string]string{"job": jobName}))
}

// Package renewal resets credit accounts at the end of each billing cycle.
package renewal

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/creditgate/internal/catalog"
	"github.com/smallbiznis/creditgate/internal/clock"
	"github.com/smallbiznis/creditgate/internal/config"
	ledgerdomain "github.com/smallbiznis/creditgate/internal/ledger/domain"
	obscontext "github.com/smallbiznis/creditgate/internal/observability/context"
	obsmetrics "github.com/smallbiznis/creditgate/internal/observability/metrics"
	"github.com/smallbiznis/creditgate/internal/ratelimit"
	"github.com/smallbiznis/creditgate/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobName          = "renewal"
	lockKey          = "creditgate:lock:renewal"
	defaultBatchSize = 100
	defaultLockTTL   = 50 * time.Second
	// maxCatchUpCycles bounds how far a long-stale period is rolled forward.
	maxCatchUpCycles = 120
)

type Params struct {
	fx.In

	Config     config.Config
	Store      ledgerdomain.Store
	Catalog    *catalog.Holder
	Clock      clock.Clock
	Log        *zap.Logger
	Locker     *ratelimit.Locker      `optional:"true"`
	JobMetrics *obsmetrics.JobMetrics `optional:"true"`
}

type Worker struct {
	store      ledgerdomain.Store
	catalog    *catalog.Holder
	clock      clock.Clock
	log        *zap.Logger
	locker     *ratelimit.Locker
	jobMetrics *obsmetrics.JobMetrics
	batchSize  int
	lockTTL    time.Duration
}

func New(p Params) *Worker {
	batchSize := p.Config.Renewal.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	lockTTL := p.Config.Renewal.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Worker{
		store:      p.Store,
		catalog:    p.Catalog,
		clock:      p.Clock,
		log:        p.Log.Named("renewal.worker"),
		locker:     p.Locker,
		jobMetrics: p.JobMetrics,
		batchSize:  batchSize,
		lockTTL:    lockTTL,
	}
}

// Tick runs one renewal pass. With redis configured only the replica holding
// the lock works the batch; RenewCycle stays conditional either way.
func (w *Worker) Tick(ctx context.Context) {
	ctx, _ = correlation.EnsureCorrelationID(ctx)
	ctx = obscontext.WithActor(ctx, "system", jobName)
	start := w.clock.Now()
	w.jobMetrics.IncRun(jobName)
	defer func() {
		w.jobMetrics.ObserveDuration(jobName, w.clock.Now().Sub(start))
	}()

	var (
		renewed int
		err     error
	)
	if w.locker != nil {
		var acquired bool
		acquired, err = w.locker.WithLock(ctx, lockKey, w.lockTTL, func(ctx context.Context) error {
			var runErr error
			renewed, runErr = w.RunOnce(ctx)
			return runErr
		})
		if err == nil && !acquired {
			w.jobMetrics.IncSkipped(jobName, obsmetrics.JobSkipLockHeld)
			w.log.Debug("renewal skipped; lock held by another replica")
			return
		}
	} else {
		renewed, err = w.RunOnce(ctx)
	}

	if err != nil {
		w.jobMetrics.IncError(jobName, err)
		w.log.Error("renewal pass failed", zap.Int("renewed", renewed), zap.Error(err))
		return
	}
	if renewed > 0 {
		w.log.Info("renewal pass finished", zap.Int("renewed", renewed))
	}
}

// RunOnce renews every account whose period has ended, one batch at a time.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	now := w.clock.Now()
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		due, err := w.store.ListDueForRenewal(ctx, now, w.batchSize)
		if err != nil {
			return total, err
		}
		if len(due) == 0 {
			return total, nil
		}

		progressed := 0
		for _, account := range due {
			ok, err := w.renew(ctx, account, now)
			if err != nil {
				return total, err
			}
			if ok {
				progressed++
			} else {
				w.jobMetrics.IncSkipped(jobName, obsmetrics.JobSkipStale)
			}
		}
		total += progressed
		w.jobMetrics.AddProcessed(jobName, progressed)

		// Every row in this batch lost a race; the next read would return it again.
		if progressed == 0 || len(due) < w.batchSize {
			return total, nil
		}
	}
}

func (w *Worker) renew(ctx context.Context, account ledgerdomain.Account, now time.Time) (bool, error) {
	if account.PeriodEnd == nil {
		return false, nil
	}

	credits := account.TotalCredits
	months := 1
	if account.PlanCode != nil {
		plan, err := w.catalog.Plan(*account.PlanCode)
		switch {
		case err == nil:
			credits = plan.Credits
			months = plan.CycleMonths
		case errors.Is(err, catalog.ErrPlanNotFound):
			w.log.Warn("renewing account on a plan missing from the catalog",
				zap.String("account_id", account.AccountID),
				zap.String("plan_code", *account.PlanCode),
			)
		default:
			return false, err
		}
	}
	// A plan switched to one-off gets a final cycle with no end.
	start := *account.PeriodEnd
	end := ledgerdomain.CycleEnd(start, months)
	for i := 0; i < maxCatchUpCycles && end != nil && !end.After(now); i++ {
		start = *end
		end = ledgerdomain.CycleEnd(start, months)
	}

	ok, err := w.store.RenewCycle(ctx, ledgerdomain.Renewal{
		AccountID:     account.AccountID,
		ExpectedCycle: account.Cycle,
		TotalCredits:  credits,
		PeriodStart:   start,
		PeriodEnd:     end,
	})
	if err != nil {
		return false, err
	}
	if ok {
		w.log.Debug("account renewed",
			zap.String("account_id", account.AccountID),
			zap.Int64("total_credits", credits),
			zap.Timep("period_end", end),
		)
	}
	return ok, nil
}

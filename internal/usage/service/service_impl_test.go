package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/creditgate/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditgate/internal/ledger/domain"
	"github.com/smallbiznis/creditgate/internal/ledger/memory"
	obsmetrics "github.com/smallbiznis/creditgate/internal/observability/metrics"
	"github.com/smallbiznis/creditgate/internal/observability/metrics/metricstest"
	reconciliationdomain "github.com/smallbiznis/creditgate/internal/reconciliation/domain"
	usagedomain "github.com/smallbiznis/creditgate/internal/usage/domain"
	"github.com/smallbiznis/creditgate/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockFlagger struct {
	mock.Mock
}

func (m *mockFlagger) Flag(ctx context.Context, req reconciliationdomain.FlagRequest) (*reconciliationdomain.Item, error) {
	args := m.Called(ctx, req)
	item, _ := args.Get(0).(*reconciliationdomain.Item)
	return item, args.Error(1)
}

// failingStore wraps a real store and fails ApplyCharge with err.
type failingStore struct {
	ledgerdomain.Store
	err error
}

func (s failingStore) ApplyCharge(ctx context.Context, charge ledgerdomain.Charge) (ledgerdomain.Transaction, error) {
	return ledgerdomain.Transaction{}, s.err
}

func newStore(t *testing.T, accounts map[string]int64) ledgerdomain.Store {
	t.Helper()
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	store := memory.NewStore(node, clock.NewFakeClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)))
	for id, total := range accounts {
		_, err := store.CreateAccount(context.Background(), ledgerdomain.Account{AccountID: id, TotalCredits: total})
		require.NoError(t, err)
	}
	return store
}

func newMetrics() (*obsmetrics.Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return obsmetrics.New(reg, obsmetrics.Config{ServiceName: "test", Environment: "test"}), reg
}

func TestRecordScenario(t *testing.T) {
	store := newStore(t, map[string]int64{"acct": 10})
	flagger := &mockFlagger{}
	flagger.On("Flag", mock.Anything, mock.MatchedBy(func(req reconciliationdomain.FlagRequest) bool {
		return req.Reason == reconciliationdomain.ReasonInvariantViolation && req.AccountID == "acct"
	})).Return(&reconciliationdomain.Item{}, nil).Once()
	m, reg := newMetrics()
	svc := New(store, flagger, zap.NewNop(), m)
	ctx := context.Background()

	for _, want := range []int64{7, 4, 1} {
		receipt, err := svc.Record(ctx, usagedomain.RecordRequest{AccountID: "acct", OperationType: "business-plan", Cost: 3})
		require.NoError(t, err)
		assert.Equal(t, want, receipt.RemainingAfter)
		assert.NotEmpty(t, receipt.TransactionID)
	}

	_, err := svc.Record(ctx, usagedomain.RecordRequest{AccountID: "acct", OperationType: "business-plan", Cost: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, usagedomain.ErrInvariantViolation)
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits)

	balance, err := store.GetBalance(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(1), balance.Remaining)

	flagger.AssertExpectations(t)
	assert.Equal(t, 1.0, metricstest.CounterValue(t, reg, "creditgate_invariant_violations_total", nil))
	assert.Equal(t, 3.0, metricstest.CounterValue(t, reg, "creditgate_usage_commits_total", map[string]string{"operation": "business-plan"}))
}

func TestRecordRetriesOnceOnDuplicateID(t *testing.T) {
	store := newStore(t, map[string]int64{"acct": 10})
	ctx := context.Background()
	_, err := store.ApplyCharge(ctx, ledgerdomain.Charge{TransactionID: "taken", AccountID: "acct", OperationType: "seo-content", Cost: 1})
	require.NoError(t, err)

	ids := []string{"taken", "fresh"}
	var mu sync.Mutex
	next := func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		ids = ids[1:]
		return id
	}
	m, reg := newMetrics()
	svc := New(store, nil, zap.NewNop(), m, WithIDGenerator(next))

	receipt, err := svc.Record(ctx, usagedomain.RecordRequest{AccountID: "acct", OperationType: "seo-content", Cost: 1})
	require.NoError(t, err)
	assert.Equal(t, "fresh", receipt.TransactionID)
	assert.Equal(t, int64(8), receipt.RemainingAfter)
	assert.Equal(t, 1.0, metricstest.CounterValue(t, reg, "creditgate_duplicate_transactions_total", nil))
}

func TestRecordGivesUpAfterSecondCollision(t *testing.T) {
	store := newStore(t, map[string]int64{"acct": 10})
	ctx := context.Background()
	_, err := store.ApplyCharge(ctx, ledgerdomain.Charge{TransactionID: "taken", AccountID: "acct", OperationType: "seo-content", Cost: 1})
	require.NoError(t, err)

	svc := New(store, nil, zap.NewNop(), nil, WithIDGenerator(func() string { return "taken" }))
	_, err = svc.Record(ctx, usagedomain.RecordRequest{AccountID: "acct", OperationType: "seo-content", Cost: 1})
	assert.ErrorIs(t, err, usagedomain.ErrCommitFailed)
	assert.ErrorIs(t, err, ledgerdomain.ErrDuplicateTransaction)

	balance, err := store.GetBalance(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(9), balance.Remaining)
}

func TestRecordStoreFailureIsFlagged(t *testing.T) {
	storeErr := errors.New("connection reset")
	store := failingStore{Store: newStore(t, nil), err: storeErr}
	flagger := &mockFlagger{}
	flagger.On("Flag", mock.Anything, mock.MatchedBy(func(req reconciliationdomain.FlagRequest) bool {
		return req.Reason == reconciliationdomain.ReasonCommitFailed &&
			req.TransactionID == "tx-1" &&
			req.Cost == 2 &&
			req.Detail == "connection reset"
	})).Return(&reconciliationdomain.Item{}, nil).Once()
	m, reg := newMetrics()
	svc := New(store, flagger, zap.NewNop(), m, WithIDGenerator(func() string { return "tx-1" }))

	_, err := svc.Record(context.Background(), usagedomain.RecordRequest{AccountID: "acct", OperationType: "market-research", Cost: 2})
	assert.ErrorIs(t, err, usagedomain.ErrCommitFailed)
	assert.ErrorIs(t, err, storeErr)
	flagger.AssertExpectations(t)
	assert.Equal(t, 1.0, metricstest.CounterValue(t, reg, "creditgate_usage_commit_failures_total", map[string]string{"reason": obsmetrics.CommitFailureStore}))
}

func TestRecordFlagFailureStillReturnsCommitError(t *testing.T) {
	store := failingStore{Store: newStore(t, nil), err: errors.New("timeout")}
	flagger := &mockFlagger{}
	flagger.On("Flag", mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()
	svc := New(store, flagger, zap.NewNop(), nil)

	_, err := svc.Record(context.Background(), usagedomain.RecordRequest{AccountID: "acct", OperationType: "x", Cost: 1})
	assert.ErrorIs(t, err, usagedomain.ErrCommitFailed)
	flagger.AssertExpectations(t)
}

func TestRecordRequestErrorsAreNotFlagged(t *testing.T) {
	flagger := &mockFlagger{}
	svc := New(newStore(t, nil), flagger, zap.NewNop(), nil)
	ctx := context.Background()

	_, err := svc.Record(ctx, usagedomain.RecordRequest{AccountID: "ghost", OperationType: "x", Cost: 1})
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
	assert.NotErrorIs(t, err, usagedomain.ErrCommitFailed)

	_, err = svc.Record(ctx, usagedomain.RecordRequest{AccountID: "ghost", OperationType: "x", Cost: -1})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidCost)

	flagger.AssertNotCalled(t, "Flag", mock.Anything, mock.Anything)
}

func TestRecordStampsCorrelationMetadata(t *testing.T) {
	store := newStore(t, map[string]int64{"acct": 5})
	svc := New(store, nil, zap.NewNop(), nil)
	ctx := correlation.ContextWithCorrelationID(context.Background(), "corr-123")

	receipt, err := svc.Record(ctx, usagedomain.RecordRequest{AccountID: "acct", OperationType: "sales-pitch", Cost: 1})
	require.NoError(t, err)

	tx, err := store.GetTransaction(ctx, receipt.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, "corr-123", tx.Metadata["correlation_id"])
}

func TestConcurrentRecordsProduceUniqueIDs(t *testing.T) {
	store := newStore(t, map[string]int64{"acct": 50})
	svc := New(store, nil, zap.NewNop(), nil)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = map[string]struct{}{}
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipt, err := svc.Record(context.Background(), usagedomain.RecordRequest{
				AccountID:     "acct",
				OperationType: fmt.Sprintf("op-%d", i%3),
				Cost:          1,
			})
			if err != nil {
				t.Errorf("record: %v", err)
				return
			}
			mu.Lock()
			ids[receipt.TransactionID] = struct{}{}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, ids, 50)
	balance, err := store.GetBalance(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Remaining)
}

package service

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditgate/internal/catalog"
	"github.com/smallbiznis/creditgate/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditgate/internal/ledger/domain"
	"github.com/smallbiznis/creditgate/internal/ledger/memory"
	"github.com/smallbiznis/creditgate/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var start = time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (ledgerdomain.Service, ledgerdomain.Store, *clock.FakeClock) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	holder, err := catalog.NewStaticHolder(catalog.DefaultConfig())
	require.NoError(t, err)
	clk := clock.NewFakeClock(start)
	store := memory.NewStore(node, clk)
	svc := NewService(Params{Store: store, Catalog: holder, Clock: clk, Log: zap.NewNop()})
	return svc, store, clk
}

func TestProvisionWithPlan(t *testing.T) {
	svc, _, _ := newTestService(t)

	balance, err := svc.Provision(context.Background(), ledgerdomain.ProvisionRequest{AccountID: "user-1", PlanCode: "Starter"})
	require.NoError(t, err)
	assert.Equal(t, "starter", balance.PlanCode)
	assert.Equal(t, int64(100), balance.Remaining)
	require.NotNil(t, balance.PeriodEnd)
	assert.Equal(t, start.AddDate(0, 1, 0), *balance.PeriodEnd)
}

func TestProvisionWithCustomCredits(t *testing.T) {
	svc, _, _ := newTestService(t)

	balance, err := svc.Provision(context.Background(), ledgerdomain.ProvisionRequest{AccountID: "user-2", TotalCredits: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance.Remaining)
	assert.Nil(t, balance.PeriodEnd)
	assert.Empty(t, balance.PlanCode)
}

func TestProvisionErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Provision(ctx, ledgerdomain.ProvisionRequest{AccountID: " "})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidAccount)

	_, err = svc.Provision(ctx, ledgerdomain.ProvisionRequest{AccountID: "u", PlanCode: "platinum"})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidPlan)

	_, err = svc.Provision(ctx, ledgerdomain.ProvisionRequest{AccountID: "u", TotalCredits: -5})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidCredits)

	_, err = svc.Provision(ctx, ledgerdomain.ProvisionRequest{AccountID: "u", TotalCredits: 5})
	require.NoError(t, err)
	_, err = svc.Provision(ctx, ledgerdomain.ProvisionRequest{AccountID: "u", TotalCredits: 5})
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountExists)
}

func TestSetPlanDiscardsUnusedCredits(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := context.Background()

	_, err := svc.Provision(ctx, ledgerdomain.ProvisionRequest{AccountID: "user-3", PlanCode: "starter"})
	require.NoError(t, err)
	_, err = store.ApplyCharge(ctx, ledgerdomain.Charge{TransactionID: "t", AccountID: "user-3", OperationType: "x", Cost: 60})
	require.NoError(t, err)

	clk.Advance(24 * time.Hour)
	balance, err := svc.SetPlan(ctx, ledgerdomain.SetPlanRequest{AccountID: "user-3", PlanCode: "pro"})
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance.TotalCredits)
	assert.Equal(t, int64(500), balance.Remaining)
	assert.Equal(t, int64(1), balance.Cycle)
	assert.Equal(t, clk.Now(), balance.PeriodStart)

	_, err = svc.SetPlan(ctx, ledgerdomain.SetPlanRequest{AccountID: "nobody", PlanCode: "pro"})
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
}

func TestTopUp(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Provision(ctx, ledgerdomain.ProvisionRequest{AccountID: "user-4", TotalCredits: 1})
	require.NoError(t, err)

	balance, err := svc.TopUp(ctx, ledgerdomain.TopUpRequest{AccountID: "user-4", Credits: 9})
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance.Remaining)

	_, err = svc.TopUp(ctx, ledgerdomain.TopUpRequest{AccountID: "user-4", Credits: -1})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidCredits)
}

func TestTopUpRejectsOverflow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Provision(ctx, ledgerdomain.ProvisionRequest{AccountID: "user-9", TotalCredits: 10})
	require.NoError(t, err)

	_, err = svc.TopUp(ctx, ledgerdomain.TopUpRequest{AccountID: "user-9", Credits: math.MaxInt64})
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidCredits)

	balance, err := svc.GetBalance(ctx, "user-9")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance.Remaining)
}

func TestListTransactionsPaginates(t *testing.T) {
	svc, store, clk := newTestService(t)
	ctx := context.Background()

	_, err := svc.Provision(ctx, ledgerdomain.ProvisionRequest{AccountID: "user-5", TotalCredits: 50})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		clk.Advance(time.Minute)
		_, err := store.ApplyCharge(ctx, ledgerdomain.Charge{
			TransactionID: fmt.Sprintf("tx-%d", i),
			AccountID:     "user-5",
			OperationType: "email-writer",
			Cost:          1,
		})
		require.NoError(t, err)
	}

	page, err := svc.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{AccountID: "user-5", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "tx-4", page.Transactions[0].ID)

	seen := len(page.Transactions)
	token := page.NextPageToken
	for token != "" {
		next, err := svc.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{AccountID: "user-5", PageSize: 2, PageToken: token})
		require.NoError(t, err)
		seen += len(next.Transactions)
		token = next.NextPageToken
	}
	assert.Equal(t, 5, seen)

	_, err = svc.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{AccountID: "user-5", PageToken: "not-base64!"})
	assert.ErrorIs(t, err, pagination.ErrInvalidCursor)

	_, err = svc.ListTransactions(ctx, ledgerdomain.ListTransactionsRequest{AccountID: "nobody"})
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
}

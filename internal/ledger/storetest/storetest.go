// Package storetest holds behaviour checks shared by every ledger Store.
//
// The concurrent cases only race at the database when the factory hands out
// a store with more than one connection (see dbtest.OpenShared).
package storetest

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/creditgate/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditgate/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory builds an empty store driven by clk.
type Factory func(t *testing.T, clk clock.Clock) ledgerdomain.Store

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Run exercises the Store contract.
func Run(t *testing.T, factory Factory) {
	t.Run("SequentialCharges", func(t *testing.T) { testSequentialCharges(t, factory) })
	t.Run("ConcurrentChargesNeverOverdraw", func(t *testing.T) { testConcurrentOverdraw(t, factory) })
	t.Run("TenConcurrentUnitCharges", func(t *testing.T) { testTenConcurrentUnitCharges(t, factory) })
	t.Run("DuplicateTransactionRejected", func(t *testing.T) { testDuplicate(t, factory) })
	t.Run("UnknownAccount", func(t *testing.T) { testUnknownAccount(t, factory) })
	t.Run("InvalidCharge", func(t *testing.T) { testInvalidCharge(t, factory) })
	t.Run("CreateAccountTwice", func(t *testing.T) { testCreateTwice(t, factory) })
	t.Run("SetPlanStartsFreshCycle", func(t *testing.T) { testSetPlan(t, factory) })
	t.Run("TopUp", func(t *testing.T) { testTopUp(t, factory) })
	t.Run("TopUpCannotOverflow", func(t *testing.T) { testTopUpOverflow(t, factory) })
	t.Run("RenewCycleIsConditional", func(t *testing.T) { testRenewCycle(t, factory) })
	t.Run("ListDueForRenewal", func(t *testing.T) { testListDue(t, factory) })
	t.Run("ListTransactionsPaged", func(t *testing.T) { testListTransactions(t, factory) })
}

func newAccount(t *testing.T, store ledgerdomain.Store, accountID string, total int64) {
	t.Helper()
	_, err := store.CreateAccount(context.Background(), ledgerdomain.Account{AccountID: accountID, TotalCredits: total})
	require.NoError(t, err)
}

func charge(accountID, txID string, cost int64) ledgerdomain.Charge {
	return ledgerdomain.Charge{
		TransactionID: txID,
		AccountID:     accountID,
		OperationType: "market-research",
		Cost:          cost,
	}
}

func testSequentialCharges(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, clock.NewFakeClock(epoch))
	newAccount(t, store, "acct-1", 10)

	for i, want := range []int64{7, 4, 1} {
		tx, err := store.ApplyCharge(ctx, charge("acct-1", fmt.Sprintf("tx-%d", i), 3))
		require.NoError(t, err)
		assert.Equal(t, ledgerdomain.TransactionOutcomeCommitted, tx.Outcome)
		assert.Equal(t, want, tx.RemainingAfter)
	}

	tx, err := store.ApplyCharge(ctx, charge("acct-1", "tx-3", 3))
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits)
	assert.Equal(t, ledgerdomain.TransactionOutcomeFailed, tx.Outcome)

	balance, err := store.GetBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), balance.Remaining)
	assert.Equal(t, int64(9), balance.UsedCredits)

	failed, err := store.GetTransaction(ctx, "tx-3")
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.TransactionOutcomeFailed, failed.Outcome)
	assert.Equal(t, int64(1), failed.RemainingAfter)
}

func testConcurrentOverdraw(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, clock.NewFakeClock(epoch))
	newAccount(t, store, "acct-race", 10)

	var committed, insufficient atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.ApplyCharge(ctx, charge("acct-race", fmt.Sprintf("race-%d", i), 3))
			switch {
			case err == nil:
				committed.Add(1)
			case assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits):
				insufficient.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(3), committed.Load())
	assert.Equal(t, int64(9), insufficient.Load())

	balance, err := store.GetBalance(ctx, "acct-race")
	require.NoError(t, err)
	assert.Equal(t, int64(1), balance.Remaining)
	assert.GreaterOrEqual(t, balance.Remaining, int64(0))
}

func testTenConcurrentUnitCharges(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, clock.NewFakeClock(epoch))
	newAccount(t, store, "acct-ten", 10)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.ApplyCharge(ctx, charge("acct-ten", fmt.Sprintf("unit-%d", i), 1))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	balance, err := store.GetBalance(ctx, "acct-ten")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.Remaining)

	_, err = store.ApplyCharge(ctx, charge("acct-ten", "unit-10", 1))
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits)
}

func testDuplicate(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, clock.NewFakeClock(epoch))
	newAccount(t, store, "acct-dup", 10)
	newAccount(t, store, "acct-other", 10)

	_, err := store.ApplyCharge(ctx, charge("acct-dup", "same-id", 2))
	require.NoError(t, err)

	_, err = store.ApplyCharge(ctx, charge("acct-dup", "same-id", 2))
	require.ErrorIs(t, err, ledgerdomain.ErrDuplicateTransaction)

	_, err = store.ApplyCharge(ctx, charge("acct-other", "same-id", 2))
	require.ErrorIs(t, err, ledgerdomain.ErrDuplicateTransaction)

	balance, err := store.GetBalance(ctx, "acct-dup")
	require.NoError(t, err)
	assert.Equal(t, int64(8), balance.Remaining)

	other, err := store.GetBalance(ctx, "acct-other")
	require.NoError(t, err)
	assert.Equal(t, int64(10), other.Remaining)
}

func testUnknownAccount(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, clock.NewFakeClock(epoch))

	_, err := store.GetBalance(ctx, "ghost")
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)

	_, err = store.ApplyCharge(ctx, charge("ghost", "tx-ghost", 1))
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)

	_, err = store.GetTransaction(ctx, "tx-ghost")
	assert.ErrorIs(t, err, ledgerdomain.ErrTransactionNotFound)
}

func testInvalidCharge(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, clock.NewFakeClock(epoch))
	newAccount(t, store, "acct-inv", 10)

	_, err := store.ApplyCharge(ctx, charge("acct-inv", "", 1))
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidTransactionID)

	_, err = store.ApplyCharge(ctx, charge("acct-inv", "tx-neg", -1))
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidCost)

	tx, err := store.ApplyCharge(ctx, charge("acct-inv", "tx-free", 0))
	require.NoError(t, err)
	assert.Equal(t, int64(10), tx.RemainingAfter)
}

func testCreateTwice(t *testing.T, factory Factory) {
	store := factory(t, clock.NewFakeClock(epoch))
	newAccount(t, store, "acct-twice", 5)

	_, err := store.CreateAccount(context.Background(), ledgerdomain.Account{AccountID: "acct-twice", TotalCredits: 5})
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountExists)
}

func testSetPlan(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, clock.NewFakeClock(epoch))
	newAccount(t, store, "acct-plan", 10)

	_, err := store.ApplyCharge(ctx, charge("acct-plan", "plan-tx", 4))
	require.NoError(t, err)

	code := "pro"
	end := epoch.AddDate(0, 1, 0)
	account, err := store.SetPlan(ctx, ledgerdomain.PlanAssignment{
		AccountID:    "acct-plan",
		PlanCode:     &code,
		TotalCredits: 500,
		PeriodStart:  epoch,
		PeriodEnd:    &end,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(500), account.TotalCredits)
	assert.Equal(t, int64(0), account.UsedCredits)
	assert.Equal(t, int64(1), account.Cycle)

	balance, err := store.GetBalance(ctx, "acct-plan")
	require.NoError(t, err)
	assert.Equal(t, "pro", balance.PlanCode)
	assert.Equal(t, int64(500), balance.Remaining)

	_, err = store.SetPlan(ctx, ledgerdomain.PlanAssignment{AccountID: "ghost", TotalCredits: 1, PeriodStart: epoch})
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
}

func testTopUp(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, clock.NewFakeClock(epoch))
	newAccount(t, store, "acct-top", 1)

	_, err := store.ApplyCharge(ctx, charge("acct-top", "top-1", 1))
	require.NoError(t, err)

	account, err := store.TopUp(ctx, "acct-top", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(6), account.TotalCredits)
	assert.Equal(t, int64(5), account.Remaining())

	_, err = store.TopUp(ctx, "acct-top", 0)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidCredits)

	_, err = store.TopUp(ctx, "ghost", 5)
	assert.ErrorIs(t, err, ledgerdomain.ErrAccountNotFound)
}

func testTopUpOverflow(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, clock.NewFakeClock(epoch))
	newAccount(t, store, "acct-big", 10)

	_, err := store.TopUp(ctx, "acct-big", math.MaxInt64)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidCredits)

	balance, err := store.GetBalance(ctx, "acct-big")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance.TotalCredits)
	assert.Equal(t, int64(10), balance.Remaining)

	account, err := store.TopUp(ctx, "acct-big", math.MaxInt64-10)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), account.TotalCredits)

	_, err = store.TopUp(ctx, "acct-big", 1)
	assert.ErrorIs(t, err, ledgerdomain.ErrInvalidCredits)
}

func testRenewCycle(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, clock.NewFakeClock(epoch))
	newAccount(t, store, "acct-renew", 10)

	_, err := store.ApplyCharge(ctx, charge("acct-renew", "renew-1", 7))
	require.NoError(t, err)

	account, err := store.GetAccount(ctx, "acct-renew")
	require.NoError(t, err)

	next := epoch.AddDate(0, 2, 0)
	renewal := ledgerdomain.Renewal{
		AccountID:     "acct-renew",
		ExpectedCycle: account.Cycle,
		TotalCredits:  10,
		PeriodStart:   epoch.AddDate(0, 1, 0),
		PeriodEnd:     &next,
	}
	renewed, err := store.RenewCycle(ctx, renewal)
	require.NoError(t, err)
	assert.True(t, renewed)

	renewed, err = store.RenewCycle(ctx, renewal)
	require.NoError(t, err)
	assert.False(t, renewed)

	balance, err := store.GetBalance(ctx, "acct-renew")
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance.Remaining)
	assert.Equal(t, account.Cycle+1, balance.Cycle)
}

func testListDue(t *testing.T, factory Factory) {
	ctx := context.Background()
	store := factory(t, clock.NewFakeClock(epoch))

	past := epoch.Add(-time.Hour)
	future := epoch.Add(time.Hour)
	_, err := store.CreateAccount(ctx, ledgerdomain.Account{AccountID: "due", TotalCredits: 1, PeriodStart: past.AddDate(0, -1, 0), PeriodEnd: &past})
	require.NoError(t, err)
	_, err = store.CreateAccount(ctx, ledgerdomain.Account{AccountID: "later", TotalCredits: 1, PeriodStart: epoch, PeriodEnd: &future})
	require.NoError(t, err)
	_, err = store.CreateAccount(ctx, ledgerdomain.Account{AccountID: "never", TotalCredits: 1})
	require.NoError(t, err)

	due, err := store.ListDueForRenewal(ctx, epoch, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "due", due[0].AccountID)
}

func testListTransactions(t *testing.T, factory Factory) {
	ctx := context.Background()
	clk := clock.NewFakeClock(epoch)
	store := factory(t, clk)
	newAccount(t, store, "acct-list", 100)

	for i := 0; i < 5; i++ {
		clk.Advance(time.Second)
		_, err := store.ApplyCharge(ctx, charge("acct-list", fmt.Sprintf("list-%d", i), 1))
		require.NoError(t, err)
	}

	first, err := store.ListTransactions(ctx, ledgerdomain.TransactionQuery{AccountID: "acct-list", Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "list-4", first[0].ID)
	assert.Equal(t, "list-3", first[1].ID)

	last := first[len(first)-1]
	rest, err := store.ListTransactions(ctx, ledgerdomain.TransactionQuery{
		AccountID: "acct-list",
		Limit:     10,
		Before:    &ledgerdomain.TransactionCursor{OccurredAt: last.OccurredAt, ID: last.ID},
	})
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, "list-2", rest[0].ID)
	assert.Equal(t, "list-0", rest[2].ID)
}

package repository

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditgate/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditgate/internal/ledger/domain"
	"github.com/smallbiznis/creditgate/internal/ledger/storetest"
	"github.com/smallbiznis/creditgate/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, clk clock.Clock) *GormStore {
	t.Helper()
	conn := dbtest.Open(t, &ledgerdomain.Account{}, &ledgerdomain.Transaction{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewGormStore(conn, node, clk)
}

func TestGormStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clk clock.Clock) ledgerdomain.Store {
		return newTestStore(t, clk)
	})
}

// Same contract with concurrent charges spread over separate connections.
func TestGormStoreContractAcrossConnections(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clk clock.Clock) ledgerdomain.Store {
		conn := dbtest.OpenShared(t, 4, &ledgerdomain.Account{}, &ledgerdomain.Transaction{})
		node, err := snowflake.NewNode(1)
		require.NoError(t, err)
		return NewGormStore(conn, node, clk)
	})
}

func TestGormStoreChargeSeesOtherWriters(t *testing.T) {
	ctx := context.Background()
	conn := dbtest.OpenShared(t, 2, &ledgerdomain.Account{}, &ledgerdomain.Transaction{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	store := NewGormStore(conn, node, clock.System())

	_, err = store.CreateAccount(ctx, ledgerdomain.Account{AccountID: "acct-w", TotalCredits: 5})
	require.NoError(t, err)
	_, err = store.GetBalance(ctx, "acct-w")
	require.NoError(t, err)

	// Another process spends the balance after our read.
	require.NoError(t, conn.Exec("UPDATE accounts SET used_credits = 4 WHERE account_id = ?", "acct-w").Error)

	_, err = store.ApplyCharge(ctx, ledgerdomain.Charge{TransactionID: "w-1", AccountID: "acct-w", OperationType: "seo-content", Cost: 2})
	require.ErrorIs(t, err, ledgerdomain.ErrInsufficientCredits)

	balance, err := store.GetBalance(ctx, "acct-w")
	require.NoError(t, err)
	assert.Equal(t, int64(1), balance.Remaining)
}

func TestGormStoreRollsBackBalanceOnDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, clock.System())

	_, err := store.CreateAccount(ctx, ledgerdomain.Account{AccountID: "acct", TotalCredits: 10})
	require.NoError(t, err)

	_, err = store.ApplyCharge(ctx, ledgerdomain.Charge{TransactionID: "t1", AccountID: "acct", OperationType: "seo-content", Cost: 4})
	require.NoError(t, err)
	_, err = store.ApplyCharge(ctx, ledgerdomain.Charge{TransactionID: "t1", AccountID: "acct", OperationType: "seo-content", Cost: 4})
	require.ErrorIs(t, err, ledgerdomain.ErrDuplicateTransaction)

	var count int64
	require.NoError(t, store.db.Model(&ledgerdomain.Transaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	balance, err := store.GetBalance(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, int64(6), balance.Remaining)
}

func TestGormStorePersistsMetadata(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, clock.System())

	_, err := store.CreateAccount(ctx, ledgerdomain.Account{AccountID: "acct-md", TotalCredits: 10})
	require.NoError(t, err)
	_, err = store.ApplyCharge(ctx, ledgerdomain.Charge{
		TransactionID: "md-1",
		AccountID:     "acct-md",
		OperationType: "email-writer",
		Cost:          1,
		Metadata:      map[string]any{"correlation_id": "cid-9"},
	})
	require.NoError(t, err)

	tx, err := store.GetTransaction(ctx, "md-1")
	require.NoError(t, err)
	assert.Equal(t, "cid-9", tx.Metadata["correlation_id"])
}

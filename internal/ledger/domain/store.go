package domain

import (
	"context"
	"errors"
	"time"
)

// Store persists account balances and transactions. ApplyCharge is the only
// operation that increases used credits and is atomic per account.
type Store interface {
	CreateAccount(ctx context.Context, account Account) (Account, error)
	GetAccount(ctx context.Context, accountID string) (Account, error)
	GetBalance(ctx context.Context, accountID string) (Balance, error)
	ApplyCharge(ctx context.Context, charge Charge) (Transaction, error)
	SetPlan(ctx context.Context, assignment PlanAssignment) (Account, error)
	TopUp(ctx context.Context, accountID string, credits int64) (Account, error)
	RenewCycle(ctx context.Context, renewal Renewal) (bool, error)
	ListDueForRenewal(ctx context.Context, now time.Time, limit int) ([]Account, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	ListTransactions(ctx context.Context, query TransactionQuery) ([]Transaction, error)
}

var (
	ErrAccountNotFound      = errors.New("unknown_account")
	ErrAccountExists        = errors.New("account_exists")
	ErrInsufficientCredits  = errors.New("insufficient_credits")
	ErrDuplicateTransaction = errors.New("duplicate_transaction")
	ErrTransactionNotFound  = errors.New("transaction_not_found")
	ErrInvalidAccount       = errors.New("invalid_account")
	ErrInvalidCost          = errors.New("invalid_cost")
	ErrInvalidCredits       = errors.New("invalid_credits")
	ErrInvalidTransactionID = errors.New("invalid_transaction_id")
	ErrInvalidOperationType = errors.New("invalid_operation_type")
	ErrInvalidPlan          = errors.New("invalid_plan")
)

// ValidateCharge checks the fields every Store requires before touching state.
func ValidateCharge(charge Charge) error {
	switch {
	case charge.TransactionID == "":
		return ErrInvalidTransactionID
	case charge.AccountID == "":
		return ErrInvalidAccount
	case charge.OperationType == "":
		return ErrInvalidOperationType
	case charge.Cost < 0:
		return ErrInvalidCost
	}
	return nil
}

// Package domain defines credit accounts and their append-only transaction log.
package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// TransactionOutcome records whether a charge moved the balance.
type TransactionOutcome string

const (
	TransactionOutcomeCommitted TransactionOutcome = "committed"
	TransactionOutcomeFailed    TransactionOutcome = "failed"
)

// Account is a subscriber's credit balance for the current billing cycle.
type Account struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	AccountID    string       `gorm:"type:varchar(191);not null;uniqueIndex:ux_accounts_account_id"`
	PlanCode     *string      `gorm:"type:varchar(64)"`
	TotalCredits int64        `gorm:"not null;default:0"`
	UsedCredits  int64        `gorm:"not null;default:0"`
	Cycle        int64        `gorm:"column:cycle_seq;not null;default:0"`
	PeriodStart  time.Time    `gorm:"not null"`
	PeriodEnd    *time.Time   `gorm:"index:ix_accounts_period_end"`
	CreatedAt    time.Time    `gorm:"not null"`
	UpdatedAt    time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// Remaining is total minus used; never negative for a committed state.
func (a Account) Remaining() int64 { return a.TotalCredits - a.UsedCredits }

// Balance returns the read model of the account.
func (a Account) Balance() Balance {
	b := Balance{
		AccountID:    a.AccountID,
		TotalCredits: a.TotalCredits,
		UsedCredits:  a.UsedCredits,
		Remaining:    a.Remaining(),
		Cycle:        a.Cycle,
		PeriodStart:  a.PeriodStart,
		PeriodEnd:    a.PeriodEnd,
	}
	if a.PlanCode != nil {
		b.PlanCode = *a.PlanCode
	}
	return b
}

// Balance is a point-in-time view of an account.
type Balance struct {
	AccountID    string     `json:"account_id"`
	PlanCode     string     `json:"plan_code,omitempty"`
	TotalCredits int64      `json:"total_credits"`
	UsedCredits  int64      `json:"used_credits"`
	Remaining    int64      `json:"remaining"`
	Cycle        int64      `json:"cycle"`
	PeriodStart  time.Time  `json:"period_start"`
	PeriodEnd    *time.Time `json:"period_end,omitempty"`
}

// Transaction is an immutable usage record. IDs are random, never time-derived.
type Transaction struct {
	ID             string             `gorm:"primaryKey;type:varchar(64)" json:"id"`
	AccountID      string             `gorm:"type:varchar(191);not null;index:ix_transactions_account_occurred,priority:1" json:"account_id"`
	OperationType  string             `gorm:"type:varchar(128);not null" json:"operation_type"`
	Cost           int64              `gorm:"not null" json:"cost"`
	Outcome        TransactionOutcome `gorm:"type:varchar(16);not null" json:"outcome"`
	RemainingAfter int64              `gorm:"not null" json:"remaining_after"`
	OccurredAt     time.Time          `gorm:"not null;index:ix_transactions_account_occurred,priority:2" json:"occurred_at"`
	Metadata       datatypes.JSONMap  `json:"metadata,omitempty"`
	CreatedAt      time.Time          `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (Transaction) TableName() string { return "transactions" }

// Charge is a request to consume credits under a caller-supplied transaction id.
type Charge struct {
	TransactionID string
	AccountID     string
	OperationType string
	Cost          int64
	OccurredAt    time.Time
	Metadata      map[string]any
}

// PlanAssignment starts a fresh cycle: total is replaced and used resets to zero.
type PlanAssignment struct {
	AccountID    string
	PlanCode     *string
	TotalCredits int64
	PeriodStart  time.Time
	PeriodEnd    *time.Time
}

// Renewal advances an account to its next cycle if it is still on ExpectedCycle.
type Renewal struct {
	AccountID     string
	ExpectedCycle int64
	TotalCredits  int64
	PeriodStart   time.Time
	PeriodEnd     *time.Time
}

// TransactionQuery selects a page of an account's transactions, newest first.
type TransactionQuery struct {
	AccountID string
	Before    *TransactionCursor
	Limit     int
}

// TransactionCursor is an exclusive keyset position.
type TransactionCursor struct {
	OccurredAt time.Time
	ID         string
}

// CycleEnd returns the end of a cycle starting at start, or nil when the
// allotment does not renew.
func CycleEnd(start time.Time, months int) *time.Time {
	if months <= 0 {
		return nil
	}
	end := start.AddDate(0, months, 0)
	return &end
}

// MaxTopUp is the largest grant that keeps total credits within int64.
func MaxTopUp(total int64) int64 {
	if total < 0 {
		return math.MaxInt64
	}
	return math.MaxInt64 - total
}

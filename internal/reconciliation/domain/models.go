package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Reasons recorded against a reconciliation item.
const (
	ReasonCommitFailed       = "commit_failed"
	ReasonInvariantViolation = "invariant_violation"
)

// Item records a completed operation whose charge could not be committed.
type Item struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id,string"`
	AccountID     string       `gorm:"type:varchar(191);not null" json:"account_id"`
	OperationType string       `gorm:"type:varchar(128);not null" json:"operation_type"`
	Cost          int64        `gorm:"not null" json:"cost"`
	TransactionID string       `gorm:"type:varchar(64);not null" json:"transaction_id"`
	Reason        string       `gorm:"type:varchar(64);not null" json:"reason"`
	Detail        string       `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt     time.Time    `gorm:"not null;index:ix_reconciliation_items_open,priority:1" json:"created_at"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty"`
}

// TableName sets the database table name.
func (Item) TableName() string { return "reconciliation_items" }

type FlagRequest struct {
	AccountID     string
	OperationType string
	Cost          int64
	TransactionID string
	Reason        string
	Detail        string
}

type Repository interface {
	Insert(ctx context.Context, item *Item) error
	FindByID(ctx context.Context, id snowflake.ID) (*Item, error)
	ListOpen(ctx context.Context, limit int) ([]Item, error)
	MarkResolved(ctx context.Context, id snowflake.ID, at time.Time) (bool, error)
}

type Service interface {
	Flag(ctx context.Context, req FlagRequest) (*Item, error)
	ListOpen(ctx context.Context, limit int) ([]Item, error)
	Resolve(ctx context.Context, id string) (*Item, error)
}

var (
	ErrNotFound        = errors.New("reconciliation_item_not_found")
	ErrInvalidID       = errors.New("invalid_reconciliation_item_id")
	ErrInvalidItem     = errors.New("invalid_reconciliation_item")
	ErrAlreadyResolved = errors.New("reconciliation_item_already_resolved")
)

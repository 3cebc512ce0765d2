package repository

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditgate/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditgate/internal/ledger/domain"
	"github.com/smallbiznis/creditgate/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GormStore is the SQL-backed ledger. Balance checks are conditional updates
// on the account row, so it is safe across processes sharing one database.
type GormStore struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func NewGormStore(conn *gorm.DB, genID *snowflake.Node, clk clock.Clock) *GormStore {
	if clk == nil {
		clk = clock.System()
	}
	return &GormStore{db: conn, genID: genID, clock: clk}
}

func (s *GormStore) CreateAccount(ctx context.Context, account ledgerdomain.Account) (ledgerdomain.Account, error) {
	if account.AccountID == "" {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidAccount
	}
	if account.TotalCredits < 0 {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidCredits
	}
	now := s.clock.Now()
	account.ID = s.genID.Generate()
	account.UsedCredits = 0
	if account.PeriodStart.IsZero() {
		account.PeriodStart = now
	}
	account.CreatedAt = now
	account.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return ledgerdomain.Account{}, ledgerdomain.ErrAccountExists
		}
		return ledgerdomain.Account{}, err
	}
	return account, nil
}

func (s *GormStore) GetAccount(ctx context.Context, accountID string) (ledgerdomain.Account, error) {
	return findAccount(s.db.WithContext(ctx), accountID)
}

func (s *GormStore) GetBalance(ctx context.Context, accountID string) (ledgerdomain.Balance, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return ledgerdomain.Balance{}, err
	}
	return account.Balance(), nil
}

// ApplyCharge increments used credits only when the remaining balance covers
// the cost, and inserts the transaction in the same database transaction. A
// charge the balance cannot cover is recorded as failed and leaves the
// balance untouched. A reused transaction id rolls everything back.
func (s *GormStore) ApplyCharge(ctx context.Context, charge ledgerdomain.Charge) (ledgerdomain.Transaction, error) {
	if err := ledgerdomain.ValidateCharge(charge); err != nil {
		return ledgerdomain.Transaction{}, err
	}
	now := s.clock.Now()
	occurredAt := charge.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	var record ledgerdomain.Transaction
	insufficient := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var charged int64
		if charge.Cost > 0 {
			result := tx.Model(&ledgerdomain.Account{}).
				Where("account_id = ? AND total_credits - used_credits >= ?", charge.AccountID, charge.Cost).
				Updates(map[string]any{
					"used_credits": gorm.Expr("used_credits + ?", charge.Cost),
					"updated_at":   now,
				})
			if result.Error != nil {
				return result.Error
			}
			charged = result.RowsAffected
		}

		account, err := findAccount(tx, charge.AccountID)
		if err != nil {
			return err
		}

		outcome := ledgerdomain.TransactionOutcomeCommitted
		if charge.Cost > 0 && charged == 0 {
			insufficient = true
			outcome = ledgerdomain.TransactionOutcomeFailed
		}

		record = ledgerdomain.Transaction{
			ID:             charge.TransactionID,
			AccountID:      charge.AccountID,
			OperationType:  charge.OperationType,
			Cost:           charge.Cost,
			Outcome:        outcome,
			RemainingAfter: account.Remaining(),
			OccurredAt:     occurredAt,
			Metadata:       toJSONMap(charge.Metadata),
			CreatedAt:      now,
		}
		if err := tx.Create(&record).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return ledgerdomain.ErrDuplicateTransaction
			}
			return err
		}
		return nil
	})
	if err != nil {
		return ledgerdomain.Transaction{}, err
	}
	if insufficient {
		return record, ledgerdomain.ErrInsufficientCredits
	}
	return record, nil
}

func (s *GormStore) SetPlan(ctx context.Context, assignment ledgerdomain.PlanAssignment) (ledgerdomain.Account, error) {
	if assignment.AccountID == "" {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidAccount
	}
	if assignment.TotalCredits < 0 {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidCredits
	}

	var account ledgerdomain.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ledgerdomain.Account{}).
			Where("account_id = ?", assignment.AccountID).
			Updates(map[string]any{
				"plan_code":     assignment.PlanCode,
				"total_credits": assignment.TotalCredits,
				"used_credits":  0,
				"cycle_seq":     gorm.Expr("cycle_seq + 1"),
				"period_start":  assignment.PeriodStart,
				"period_end":    assignment.PeriodEnd,
				"updated_at":    s.clock.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ledgerdomain.ErrAccountNotFound
		}
		var err error
		account, err = findAccount(tx, assignment.AccountID)
		return err
	})
	return account, err
}

func (s *GormStore) TopUp(ctx context.Context, accountID string, credits int64) (ledgerdomain.Account, error) {
	if accountID == "" {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidAccount
	}
	if credits <= 0 {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidCredits
	}

	var account ledgerdomain.Account
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Bounded so total_credits stays within int64 on every dialect.
		result := tx.Model(&ledgerdomain.Account{}).
			Where("account_id = ? AND total_credits <= ?", accountID, math.MaxInt64-credits).
			Updates(map[string]any{
				"total_credits": gorm.Expr("total_credits + ?", credits),
				"updated_at":    s.clock.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
		var err error
		account, err = findAccount(tx, accountID)
		if err != nil {
			return err
		}
		if result.RowsAffected == 0 {
			return ledgerdomain.ErrInvalidCredits
		}
		return nil
	})
	return account, err
}

// RenewCycle resets the account only if no other writer has advanced its cycle.
func (s *GormStore) RenewCycle(ctx context.Context, renewal ledgerdomain.Renewal) (bool, error) {
	if renewal.AccountID == "" {
		return false, ledgerdomain.ErrInvalidAccount
	}
	result := s.db.WithContext(ctx).Model(&ledgerdomain.Account{}).
		Where("account_id = ? AND cycle_seq = ?", renewal.AccountID, renewal.ExpectedCycle).
		Updates(map[string]any{
			"total_credits": renewal.TotalCredits,
			"used_credits":  0,
			"cycle_seq":     renewal.ExpectedCycle + 1,
			"period_start":  renewal.PeriodStart,
			"period_end":    renewal.PeriodEnd,
			"updated_at":    s.clock.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *GormStore) ListDueForRenewal(ctx context.Context, now time.Time, limit int) ([]ledgerdomain.Account, error) {
	if limit <= 0 {
		limit = 100
	}
	var accounts []ledgerdomain.Account
	err := s.db.WithContext(ctx).
		Where("period_end IS NOT NULL AND period_end <= ?", now).
		Order("period_end ASC").
		Limit(limit).
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *GormStore) GetTransaction(ctx context.Context, id string) (ledgerdomain.Transaction, error) {
	var record ledgerdomain.Transaction
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledgerdomain.Transaction{}, ledgerdomain.ErrTransactionNotFound
		}
		return ledgerdomain.Transaction{}, err
	}
	return record, nil
}

func (s *GormStore) ListTransactions(ctx context.Context, query ledgerdomain.TransactionQuery) ([]ledgerdomain.Transaction, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}
	stmt := s.db.WithContext(ctx).Where("account_id = ?", query.AccountID)
	if query.Before != nil {
		stmt = stmt.Where(
			"(occurred_at < ?) OR (occurred_at = ? AND id < ?)",
			query.Before.OccurredAt, query.Before.OccurredAt, query.Before.ID,
		)
	}

	var records []ledgerdomain.Transaction
	err := stmt.Order("occurred_at DESC").Order("id DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func findAccount(conn *gorm.DB, accountID string) (ledgerdomain.Account, error) {
	if accountID == "" {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidAccount
	}
	var account ledgerdomain.Account
	err := conn.Where("account_id = ?", accountID).Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledgerdomain.Account{}, ledgerdomain.ErrAccountNotFound
		}
		return ledgerdomain.Account{}, err
	}
	return account, nil
}

func toJSONMap(input map[string]any) datatypes.JSONMap {
	if len(input) == 0 {
		return nil
	}
	out := make(datatypes.JSONMap, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}

var _ ledgerdomain.Store = (*GormStore)(nil)

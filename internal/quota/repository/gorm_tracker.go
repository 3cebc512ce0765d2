package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditgate/internal/clock"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTracker stores counters in SQL. The increment is a conditional update
// on the identity row, so concurrent processes cannot exceed the limit.
type GormTracker struct {
	db    *gorm.DB
	genID *snowflake.Node
	clock clock.Clock
}

func NewGormTracker(conn *gorm.DB, genID *snowflake.Node, clk clock.Clock) *GormTracker {
	if clk == nil {
		clk = clock.System()
	}
	return &GormTracker{db: conn, genID: genID, clock: clk}
}

func (t *GormTracker) CheckAndIncrement(ctx context.Context, identity string, limit int) (quotadomain.Result, error) {
	if !quotadomain.ValidIdentity(identity) {
		return quotadomain.Result{}, quotadomain.ErrInvalidIdentity
	}

	var result quotadomain.Result
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := t.clock.Now()
		counter := quotadomain.Counter{
			ID:        t.genID.Generate(),
			Identity:  identity,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity"}},
			DoNothing: true,
		}).Create(&counter).Error; err != nil {
			return err
		}

		update := tx.Model(&quotadomain.Counter{}).
			Where("identity = ? AND queries_used < ?", identity, limit).
			Updates(map[string]any{
				"queries_used": gorm.Expr("queries_used + 1"),
				"updated_at":   now,
			})
		if update.Error != nil {
			return update.Error
		}

		used, err := readUsed(tx, identity)
		if err != nil {
			return err
		}
		result = quotadomain.NewResult(identity, update.RowsAffected == 1, used, limit)
		return nil
	})
	return result, err
}

func (t *GormTracker) Peek(ctx context.Context, identity string, limit int) (quotadomain.Result, error) {
	if !quotadomain.ValidIdentity(identity) {
		return quotadomain.Result{}, quotadomain.ErrInvalidIdentity
	}
	used, err := readUsed(t.db.WithContext(ctx), identity)
	if err != nil {
		return quotadomain.Result{}, err
	}
	return quotadomain.NewResult(identity, used < limit, used, limit), nil
}

func readUsed(conn *gorm.DB, identity string) (int, error) {
	var counter quotadomain.Counter
	err := conn.Select("queries_used").Where("identity = ?", identity).Take(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return counter.QueriesUsed, nil
}

var _ quotadomain.Tracker = (*GormTracker)(nil)

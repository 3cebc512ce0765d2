package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	reconciliationdomain "github.com/smallbiznis/creditgate/internal/reconciliation/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) reconciliationdomain.Repository {
	return &repo{db: db}
}

func (r *repo) Insert(ctx context.Context, item *reconciliationdomain.Item) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *repo) FindByID(ctx context.Context, id snowflake.ID) (*reconciliationdomain.Item, error) {
	var item reconciliationdomain.Item
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) ListOpen(ctx context.Context, limit int) ([]reconciliationdomain.Item, error) {
	var items []reconciliationdomain.Item
	err := r.db.WithContext(ctx).
		Where("resolved_at IS NULL").
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkResolved(ctx context.Context, id snowflake.ID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&reconciliationdomain.Item{}).
		Where("id = ? AND resolved_at IS NULL", id).
		Update("resolved_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

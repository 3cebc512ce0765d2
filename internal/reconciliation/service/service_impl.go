package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditgate/internal/clock"
	obsmetrics "github.com/smallbiznis/creditgate/internal/observability/metrics"
	reconciliationdomain "github.com/smallbiznis/creditgate/internal/reconciliation/domain"
	"github.com/smallbiznis/creditgate/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Repo       reconciliationdomain.Repository
	GenID      *snowflake.Node
	Clock      clock.Clock
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	repo       reconciliationdomain.Repository
	genID      *snowflake.Node
	clock      clock.Clock
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) reconciliationdomain.Service {
	return &Service{
		repo:       p.Repo,
		genID:      p.GenID,
		clock:      p.Clock,
		log:        p.Log.Named("reconciliation.service"),
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Flag(ctx context.Context, req reconciliationdomain.FlagRequest) (*reconciliationdomain.Item, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" || strings.TrimSpace(req.TransactionID) == "" || req.Cost < 0 {
		return nil, reconciliationdomain.ErrInvalidItem
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = reconciliationdomain.ReasonCommitFailed
	}

	item := &reconciliationdomain.Item{
		ID:            s.genID.Generate(),
		AccountID:     accountID,
		OperationType: req.OperationType,
		Cost:          req.Cost,
		TransactionID: req.TransactionID,
		Reason:        reason,
		Detail:        req.Detail,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, item); err != nil {
		return nil, err
	}

	s.obsMetrics.IncReconciliationFlagged()
	s.log.Warn("charge flagged for reconciliation",
		zap.String("item_id", item.ID.String()),
		zap.String("account_id", item.AccountID),
		zap.String("operation_type", item.OperationType),
		zap.Int64("cost", item.Cost),
		zap.String("transaction_id", item.TransactionID),
		zap.String("reason", item.Reason),
	)
	return item, nil
}

func (s *Service) ListOpen(ctx context.Context, limit int) ([]reconciliationdomain.Item, error) {
	return s.repo.ListOpen(ctx, pagination.Pagination{PageSize: limit}.Limit())
}

func (s *Service) Resolve(ctx context.Context, id string) (*reconciliationdomain.Item, error) {
	itemID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || itemID == 0 {
		return nil, reconciliationdomain.ErrInvalidID
	}

	item, err := s.repo.FindByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, reconciliationdomain.ErrNotFound
	}
	if item.ResolvedAt != nil {
		return nil, reconciliationdomain.ErrAlreadyResolved
	}

	now := s.clock.Now()
	ok, err := s.repo.MarkResolved(ctx, itemID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, reconciliationdomain.ErrAlreadyResolved
	}
	item.ResolvedAt = &now

	s.log.Info("reconciliation item resolved",
		zap.String("item_id", item.ID.String()),
		zap.String("transaction_id", item.TransactionID),
	)
	return item, nil
}

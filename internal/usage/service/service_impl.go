package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	ledgerdomain "github.com/smallbiznis/creditgate/internal/ledger/domain"
	obslogger "github.com/smallbiznis/creditgate/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creditgate/internal/observability/metrics"
	reconciliationdomain "github.com/smallbiznis/creditgate/internal/reconciliation/domain"
	usagedomain "github.com/smallbiznis/creditgate/internal/usage/domain"
	"github.com/smallbiznis/creditgate/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// maxAttempts bounds retries on transaction id collisions.
const maxAttempts = 2

// Flagger records charges that need manual follow-up.
type Flagger interface {
	Flag(ctx context.Context, req reconciliationdomain.FlagRequest) (*reconciliationdomain.Item, error)
}

type ServiceParam struct {
	fx.In

	Store          ledgerdomain.Store
	Reconciliation reconciliationdomain.Service `optional:"true"`
	Log            *zap.Logger
	ObsMetrics     *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	store      ledgerdomain.Store
	flagger    Flagger
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
	newID      func() string
}

type Option func(*Service)

// WithIDGenerator replaces the UUIDv4 transaction id source.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func NewService(p ServiceParam) usagedomain.Service {
	var flagger Flagger
	if p.Reconciliation != nil {
		flagger = p.Reconciliation
	}
	return New(p.Store, flagger, p.Log, p.ObsMetrics)
}

func New(store ledgerdomain.Store, flagger Flagger, log *zap.Logger, m *obsmetrics.Metrics, opts ...Option) *Service {
	s := &Service{
		store:      store,
		flagger:    flagger,
		log:        log.Named("usage.service"),
		obsMetrics: m,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (usagedomain.Receipt, error) {
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("account_id", req.AccountID),
		zap.String("operation_type", req.OperationType),
		zap.Int64("cost", req.Cost),
	)

	var (
		record ledgerdomain.Transaction
		err    error
		txID   string
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		txID = s.newID()
		record, err = s.store.ApplyCharge(ctx, ledgerdomain.Charge{
			TransactionID: txID,
			AccountID:     req.AccountID,
			OperationType: req.OperationType,
			Cost:          req.Cost,
			Metadata:      correlation.Metadata(ctx),
		})
		if !errors.Is(err, ledgerdomain.ErrDuplicateTransaction) {
			break
		}
		s.obsMetrics.IncDuplicateTransaction()
		log.Warn("transaction id collision", zap.String("transaction_id", txID), zap.Int("attempt", attempt))
	}

	switch {
	case err == nil:
		s.obsMetrics.RecordCommit(record.OperationType, record.Cost)
		log.Debug("usage committed",
			zap.String("transaction_id", record.ID),
			zap.Int64("remaining", record.RemainingAfter),
		)
		return usagedomain.Receipt{
			TransactionID:  record.ID,
			AccountID:      record.AccountID,
			OperationType:  record.OperationType,
			Cost:           record.Cost,
			RemainingAfter: record.RemainingAfter,
			OccurredAt:     record.OccurredAt,
		}, nil

	case isRequestError(err):
		return usagedomain.Receipt{}, err

	case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
		s.obsMetrics.IncInvariantViolation()
		log.Error("charge rejected after admission",
			zap.String("transaction_id", txID),
			zap.Int64("remaining", record.RemainingAfter),
			zap.Error(err),
		)
		s.flag(ctx, req, txID, reconciliationdomain.ReasonInvariantViolation, err)
		return usagedomain.Receipt{}, fmt.Errorf("%w: %w", usagedomain.ErrInvariantViolation, err)

	default:
		s.obsMetrics.IncCommitFailure(obsmetrics.CommitFailureStore)
		log.Error("usage commit failed", zap.String("transaction_id", txID), zap.Error(err))
		s.flag(ctx, req, txID, reconciliationdomain.ReasonCommitFailed, err)
		return usagedomain.Receipt{}, fmt.Errorf("%w: %w", usagedomain.ErrCommitFailed, err)
	}
}

func (s *Service) flag(ctx context.Context, req usagedomain.RecordRequest, txID, reason string, cause error) {
	if s.flagger == nil {
		return
	}
	_, err := s.flagger.Flag(context.WithoutCancel(ctx), reconciliationdomain.FlagRequest{
		AccountID:     req.AccountID,
		OperationType: req.OperationType,
		Cost:          req.Cost,
		TransactionID: txID,
		Reason:        reason,
		Detail:        cause.Error(),
	})
	if err != nil {
		s.log.Error("failed to flag charge for reconciliation",
			zap.String("account_id", req.AccountID),
			zap.String("transaction_id", txID),
			zap.Error(err),
		)
	}
}

// isRequestError reports failures caused by the request itself. Nothing ran
// against the ledger, so there is nothing to reconcile.
func isRequestError(err error) bool {
	return errors.Is(err, ledgerdomain.ErrAccountNotFound) ||
		errors.Is(err, ledgerdomain.ErrInvalidAccount) ||
		errors.Is(err, ledgerdomain.ErrInvalidCost) ||
		errors.Is(err, ledgerdomain.ErrInvalidOperationType) ||
		errors.Is(err, ledgerdomain.ErrInvalidTransactionID)
}

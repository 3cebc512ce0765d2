package service

import (
	"context"
	"errors"

	admissiondomain "github.com/smallbiznis/creditgate/internal/admission/domain"
	ledgerdomain "github.com/smallbiznis/creditgate/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/creditgate/internal/observability/metrics"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// BalanceReader is the read side of the ledger admission needs.
type BalanceReader interface {
	GetBalance(ctx context.Context, accountID string) (ledgerdomain.Balance, error)
}

type Params struct {
	fx.In

	Ledger     ledgerdomain.Service
	Quota      quotadomain.Service
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	ledger     BalanceReader
	quota      quotadomain.Service
	log        *zap.Logger
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) admissiondomain.Service {
	return New(p.Ledger, p.Quota, p.Log, p.ObsMetrics)
}

func New(ledger BalanceReader, quota quotadomain.Service, log *zap.Logger, m *obsmetrics.Metrics) *Service {
	return &Service{
		ledger:     ledger,
		quota:      quota,
		log:        log.Named("admission.service"),
		obsMetrics: m,
	}
}

// Authorize never mutates account balances. For anonymous callers it
// consumes a free-trial slot when it permits.
func (s *Service) Authorize(ctx context.Context, caller admissiondomain.Caller, cost int64) (admissiondomain.Decision, error) {
	if err := caller.Validate(); err != nil {
		return admissiondomain.Decision{}, err
	}
	if cost < 0 {
		return admissiondomain.Decision{}, admissiondomain.ErrInvalidCost
	}

	var (
		decision admissiondomain.Decision
		err      error
	)
	if caller.IsAnonymous() {
		decision, err = s.authorizeAnonymous(ctx, caller, cost)
	} else {
		decision, err = s.authorizeAccount(ctx, caller, cost)
	}
	if err != nil {
		return admissiondomain.Decision{}, err
	}

	if decision.Permit {
		s.obsMetrics.RecordAdmission(obsmetrics.OutcomePermit, "", string(caller.Kind))
	} else {
		s.obsMetrics.RecordAdmission(obsmetrics.OutcomeDeny, string(decision.Reason), string(caller.Kind))
		s.log.Debug("admission denied",
			zap.String("caller_kind", string(caller.Kind)),
			zap.String("caller", caller.ID),
			zap.String("reason", string(decision.Reason)),
			zap.Int64("cost", cost),
			zap.Int64("remaining", decision.Remaining),
		)
	}
	return decision, nil
}

func (s *Service) authorizeAccount(ctx context.Context, caller admissiondomain.Caller, cost int64) (admissiondomain.Decision, error) {
	balance, err := s.ledger.GetBalance(ctx, caller.ID)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrAccountNotFound) {
			return admissiondomain.Deny(caller, cost, 0, admissiondomain.ReasonUnknownAccount), nil
		}
		return admissiondomain.Decision{}, err
	}
	if balance.Remaining < cost {
		return admissiondomain.Deny(caller, cost, balance.Remaining, admissiondomain.ReasonInsufficientCredits), nil
	}
	return admissiondomain.Permit(caller, cost, balance.Remaining), nil
}

func (s *Service) authorizeAnonymous(ctx context.Context, caller admissiondomain.Caller, cost int64) (admissiondomain.Decision, error) {
	res, err := s.quota.CheckAndIncrement(ctx, caller.ID)
	if err != nil {
		if errors.Is(err, quotadomain.ErrFreeTrialExhausted) {
			return admissiondomain.Deny(caller, cost, 0, admissiondomain.ReasonFreeTrialExhausted), nil
		}
		return admissiondomain.Decision{}, err
	}
	return admissiondomain.Permit(caller, cost, int64(res.Remaining)), nil
}

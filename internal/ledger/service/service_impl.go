package service

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/creditgate/internal/catalog"
	"github.com/smallbiznis/creditgate/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditgate/internal/ledger/domain"
	"github.com/smallbiznis/creditgate/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Store   ledgerdomain.Store
	Catalog *catalog.Holder
	Clock   clock.Clock
	Log     *zap.Logger
}

type Service struct {
	store   ledgerdomain.Store
	catalog *catalog.Holder
	clock   clock.Clock
	log     *zap.Logger
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		store:   p.Store,
		catalog: p.Catalog,
		clock:   p.Clock,
		log:     p.Log.Named("ledger.service"),
	}
}

func (s *Service) Provision(ctx context.Context, req ledgerdomain.ProvisionRequest) (ledgerdomain.Balance, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAccount
	}
	assignment, err := s.resolveAssignment(accountID, req.PlanCode, req.TotalCredits)
	if err != nil {
		return ledgerdomain.Balance{}, err
	}

	account, err := s.store.CreateAccount(ctx, ledgerdomain.Account{
		AccountID:    accountID,
		PlanCode:     assignment.PlanCode,
		TotalCredits: assignment.TotalCredits,
		PeriodStart:  assignment.PeriodStart,
		PeriodEnd:    assignment.PeriodEnd,
	})
	if err != nil {
		return ledgerdomain.Balance{}, err
	}

	s.log.Info("account provisioned",
		zap.String("account_id", accountID),
		zap.String("plan_code", stringValue(assignment.PlanCode)),
		zap.Int64("total_credits", assignment.TotalCredits),
	)
	return account.Balance(), nil
}

// SetPlan replaces the allotment and starts a new cycle with no rollover.
func (s *Service) SetPlan(ctx context.Context, req ledgerdomain.SetPlanRequest) (ledgerdomain.Balance, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAccount
	}
	assignment, err := s.resolveAssignment(accountID, req.PlanCode, req.TotalCredits)
	if err != nil {
		return ledgerdomain.Balance{}, err
	}

	account, err := s.store.SetPlan(ctx, assignment)
	if err != nil {
		return ledgerdomain.Balance{}, err
	}

	s.log.Info("plan set",
		zap.String("account_id", accountID),
		zap.String("plan_code", stringValue(assignment.PlanCode)),
		zap.Int64("total_credits", assignment.TotalCredits),
		zap.Int64("cycle", account.Cycle),
	)
	return account.Balance(), nil
}

func (s *Service) TopUp(ctx context.Context, req ledgerdomain.TopUpRequest) (ledgerdomain.Balance, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAccount
	}
	if req.Credits <= 0 {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidCredits
	}

	account, err := s.store.TopUp(ctx, accountID, req.Credits)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrInvalidCredits) {
			s.log.Warn("top-up rejected, total would overflow",
				zap.String("account_id", accountID),
				zap.Int64("credits", req.Credits),
			)
		}
		return ledgerdomain.Balance{}, err
	}
	s.log.Info("credits topped up",
		zap.String("account_id", accountID),
		zap.Int64("credits", req.Credits),
		zap.Int64("remaining", account.Remaining()),
	)
	return account.Balance(), nil
}

func (s *Service) GetBalance(ctx context.Context, accountID string) (ledgerdomain.Balance, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return ledgerdomain.Balance{}, ledgerdomain.ErrInvalidAccount
	}
	return s.store.GetBalance(ctx, accountID)
}

func (s *Service) GetTransaction(ctx context.Context, id string) (ledgerdomain.Transaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return ledgerdomain.Transaction{}, ledgerdomain.ErrInvalidTransactionID
	}
	return s.store.GetTransaction(ctx, id)
}

func (s *Service) ListTransactions(ctx context.Context, req ledgerdomain.ListTransactionsRequest) (ledgerdomain.ListTransactionsResponse, error) {
	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		return ledgerdomain.ListTransactionsResponse{}, ledgerdomain.ErrInvalidAccount
	}
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}

	cursor, err := pagination.DecodeCursor(req.PageToken)
	if err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}
	limit := pagination.Pagination{PageSize: req.PageSize}.Limit()

	query := ledgerdomain.TransactionQuery{AccountID: accountID, Limit: limit + 1}
	if cursor != nil {
		query.Before = &ledgerdomain.TransactionCursor{OccurredAt: cursor.OccurredAt, ID: cursor.ID}
	}
	records, err := s.store.ListTransactions(ctx, query)
	if err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}

	page, info, err := pagination.Page(records, limit, func(t ledgerdomain.Transaction) pagination.Cursor {
		return pagination.Cursor{ID: t.ID, OccurredAt: t.OccurredAt}
	})
	if err != nil {
		return ledgerdomain.ListTransactionsResponse{}, err
	}
	if page == nil {
		page = []ledgerdomain.Transaction{}
	}
	return ledgerdomain.ListTransactionsResponse{PageInfo: info, Transactions: page}, nil
}

func (s *Service) resolveAssignment(accountID, planCode string, totalCredits int64) (ledgerdomain.PlanAssignment, error) {
	now := s.clock.Now()
	planCode = strings.TrimSpace(planCode)
	if planCode == "" {
		if totalCredits < 0 {
			return ledgerdomain.PlanAssignment{}, ledgerdomain.ErrInvalidCredits
		}
		return ledgerdomain.PlanAssignment{
			AccountID:    accountID,
			TotalCredits: totalCredits,
			PeriodStart:  now,
		}, nil
	}

	plan, err := s.catalog.Plan(planCode)
	if err != nil {
		if errors.Is(err, catalog.ErrPlanNotFound) {
			return ledgerdomain.PlanAssignment{}, ledgerdomain.ErrInvalidPlan
		}
		return ledgerdomain.PlanAssignment{}, err
	}
	code := plan.Code
	return ledgerdomain.PlanAssignment{
		AccountID:    accountID,
		PlanCode:     &code,
		TotalCredits: plan.Credits,
		PeriodStart:  now,
		PeriodEnd:    ledgerdomain.CycleEnd(now, plan.CycleMonths),
	}, nil
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

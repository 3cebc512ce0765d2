package domain

import (
	"context"

	"github.com/smallbiznis/creditgate/pkg/db/pagination"
)

// ProvisionRequest creates an account. Either PlanCode or TotalCredits is set;
// a plan wins when both are present.
type ProvisionRequest struct {
	AccountID    string `json:"account_id"`
	PlanCode     string `json:"plan_code"`
	TotalCredits int64  `json:"total_credits"`
}

// SetPlanRequest starts a new billing cycle on the target plan or allotment.
type SetPlanRequest struct {
	AccountID    string `json:"-"`
	PlanCode     string `json:"plan_code"`
	TotalCredits int64  `json:"total_credits"`
}

type TopUpRequest struct {
	AccountID string `json:"-"`
	Credits   int64  `json:"credits"`
}

type ListTransactionsRequest struct {
	AccountID string
	PageToken string
	PageSize  int
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []Transaction `json:"transactions"`
}

// Service manages account lifecycle around the Store.
type Service interface {
	Provision(context.Context, ProvisionRequest) (Balance, error)
	SetPlan(context.Context, SetPlanRequest) (Balance, error)
	TopUp(context.Context, TopUpRequest) (Balance, error)
	GetBalance(context.Context, string) (Balance, error)
	GetTransaction(context.Context, string) (Transaction, error)
	ListTransactions(context.Context, ListTransactionsRequest) (ListTransactionsResponse, error)
}

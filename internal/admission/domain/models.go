// Package domain describes admission decisions for metered operations.
package domain

import (
	"context"
	"errors"
	"fmt"

	ledgerdomain "github.com/smallbiznis/creditgate/internal/ledger/domain"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
)

type CallerKind string

const (
	CallerKindAccount   CallerKind = "account"
	CallerKindAnonymous CallerKind = "anonymous"
)

// Caller is either an authenticated account or an anonymous origin key.
type Caller struct {
	Kind CallerKind `json:"kind"`
	ID   string     `json:"id"`
}

func AuthenticatedAccount(accountID string) Caller {
	return Caller{Kind: CallerKindAccount, ID: accountID}
}

func AnonymousIdentity(originKey string) Caller {
	return Caller{Kind: CallerKindAnonymous, ID: originKey}
}

func (c Caller) IsAnonymous() bool { return c.Kind == CallerKindAnonymous }

func (c Caller) Validate() error {
	if c.ID == "" {
		return ErrInvalidCaller
	}
	switch c.Kind {
	case CallerKindAccount, CallerKindAnonymous:
		return nil
	default:
		return ErrInvalidCaller
	}
}

type DenyReason string

const (
	ReasonInsufficientCredits DenyReason = "insufficient_credits"
	ReasonFreeTrialExhausted  DenyReason = "free_trial_exhausted"
	ReasonUnknownAccount      DenyReason = "unknown_account"
)

// Action is the call to action presented with a denial.
type Action string

const (
	ActionTopUp  Action = "top_up"
	ActionSignUp Action = "sign_up"
)

// Decision is Permit or Deny. Remaining is credits for accounts and
// free-trial slots for anonymous callers, after this decision.
type Decision struct {
	Permit    bool       `json:"permit"`
	Caller    Caller     `json:"caller"`
	Cost      int64      `json:"cost"`
	Remaining int64      `json:"remaining"`
	Reason    DenyReason `json:"reason,omitempty"`
	Message   string     `json:"message,omitempty"`
	Action    Action     `json:"action,omitempty"`
}

func Permit(caller Caller, cost, remaining int64) Decision {
	return Decision{Permit: true, Caller: caller, Cost: cost, Remaining: remaining}
}

// Deny builds a denial with the message and action that belong to reason.
func Deny(caller Caller, cost, remaining int64, reason DenyReason) Decision {
	d := Decision{Caller: caller, Cost: cost, Remaining: remaining, Reason: reason}
	switch reason {
	case ReasonInsufficientCredits:
		d.Message = fmt.Sprintf("This operation costs %d credits and %d remain. Top up or upgrade your plan to continue.", cost, remaining)
		d.Action = ActionTopUp
	case ReasonFreeTrialExhausted:
		d.Message = "You have used all free queries. Sign up to keep using the agents."
		d.Action = ActionSignUp
	case ReasonUnknownAccount:
		d.Message = "No credit account exists for this user. Sign up or choose a plan first."
		d.Action = ActionSignUp
	}
	return d
}

// Err returns nil for a permit and a *DenialError otherwise.
func (d Decision) Err() error {
	if d.Permit {
		return nil
	}
	return &DenialError{Decision: d}
}

// DenialError carries a denial through error returns. It unwraps to the
// ledger or quota sentinel for its reason.
type DenialError struct {
	Decision Decision
}

func (e *DenialError) Error() string {
	return string(e.Decision.Reason)
}

func (e *DenialError) Unwrap() error {
	switch e.Decision.Reason {
	case ReasonInsufficientCredits:
		return ledgerdomain.ErrInsufficientCredits
	case ReasonFreeTrialExhausted:
		return quotadomain.ErrFreeTrialExhausted
	case ReasonUnknownAccount:
		return ledgerdomain.ErrAccountNotFound
	default:
		return nil
	}
}

// AsDenial extracts the denial carried by err, if any.
func AsDenial(err error) (Decision, bool) {
	var denial *DenialError
	if errors.As(err, &denial) && denial != nil {
		return denial.Decision, true
	}
	return Decision{}, false
}

// Service decides whether a caller may start a metered operation.
type Service interface {
	Authorize(ctx context.Context, caller Caller, cost int64) (Decision, error)
}

var (
	ErrInvalidCaller = errors.New("invalid_caller")
	ErrInvalidCost   = errors.New("invalid_cost")
)

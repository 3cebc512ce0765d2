package domain

import (
	"context"
	"errors"
)

// Service commits charges to the ledger. It is the only path that increases
// an account's used credits.
type Service interface {
	Record(ctx context.Context, req RecordRequest) (Receipt, error)
}

var (
	// ErrCommitFailed means the store could not persist a charge for an
	// operation that already ran. The charge is flagged for reconciliation.
	ErrCommitFailed = errors.New("commit_failed")
	// ErrInvariantViolation means an admitted charge found too few credits
	// at commit time.
	ErrInvariantViolation = errors.New("invariant_violation")
)

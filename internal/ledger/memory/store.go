// Package memory is a single-process ledger store. Accounts are spread over
// independently locked shards so unrelated accounts never contend.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cespare/xxhash/v2"
	"github.com/smallbiznis/creditgate/internal/clock"
	ledgerdomain "github.com/smallbiznis/creditgate/internal/ledger/domain"
)

const shardCount = 64

type entry struct {
	account      ledgerdomain.Account
	transactions []ledgerdomain.Transaction
}

type shard struct {
	mu       sync.Mutex
	accounts map[string]*entry
}

type Store struct {
	shards [shardCount]shard
	genID  *snowflake.Node
	clock  clock.Clock

	txMu sync.RWMutex
	txns map[string]ledgerdomain.Transaction
}

func NewStore(genID *snowflake.Node, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System()
	}
	s := &Store{genID: genID, clock: clk, txns: map[string]ledgerdomain.Transaction{}}
	for i := range s.shards {
		s.shards[i].accounts = map[string]*entry{}
	}
	return s
}

func (s *Store) shardFor(accountID string) *shard {
	return &s.shards[xxhash.Sum64String(accountID)%shardCount]
}

func (s *Store) CreateAccount(ctx context.Context, account ledgerdomain.Account) (ledgerdomain.Account, error) {
	if err := ctx.Err(); err != nil {
		return ledgerdomain.Account{}, err
	}
	if account.AccountID == "" {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidAccount
	}
	if account.TotalCredits < 0 {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidCredits
	}

	sh := s.shardFor(account.AccountID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.accounts[account.AccountID]; ok {
		return ledgerdomain.Account{}, ledgerdomain.ErrAccountExists
	}
	now := s.clock.Now()
	account.ID = s.genID.Generate()
	account.UsedCredits = 0
	if account.PeriodStart.IsZero() {
		account.PeriodStart = now
	}
	account.CreatedAt = now
	account.UpdatedAt = now
	sh.accounts[account.AccountID] = &entry{account: account}
	return account, nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (ledgerdomain.Account, error) {
	if err := ctx.Err(); err != nil {
		return ledgerdomain.Account{}, err
	}
	if accountID == "" {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidAccount
	}
	sh := s.shardFor(accountID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.accounts[accountID]
	if !ok {
		return ledgerdomain.Account{}, ledgerdomain.ErrAccountNotFound
	}
	return e.account, nil
}

func (s *Store) GetBalance(ctx context.Context, accountID string) (ledgerdomain.Balance, error) {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return ledgerdomain.Balance{}, err
	}
	return account.Balance(), nil
}

// ApplyCharge holds the account shard for the whole check-reserve-apply
// sequence. The transaction id is reserved before the balance moves, so a
// reused id never changes state.
func (s *Store) ApplyCharge(ctx context.Context, charge ledgerdomain.Charge) (ledgerdomain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return ledgerdomain.Transaction{}, err
	}
	if err := ledgerdomain.ValidateCharge(charge); err != nil {
		return ledgerdomain.Transaction{}, err
	}

	sh := s.shardFor(charge.AccountID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.accounts[charge.AccountID]
	if !ok {
		return ledgerdomain.Transaction{}, ledgerdomain.ErrAccountNotFound
	}

	now := s.clock.Now()
	occurredAt := charge.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	insufficient := e.account.Remaining() < charge.Cost
	outcome := ledgerdomain.TransactionOutcomeCommitted
	remaining := e.account.Remaining()
	if insufficient {
		outcome = ledgerdomain.TransactionOutcomeFailed
	} else {
		remaining -= charge.Cost
	}

	record := ledgerdomain.Transaction{
		ID:             charge.TransactionID,
		AccountID:      charge.AccountID,
		OperationType:  charge.OperationType,
		Cost:           charge.Cost,
		Outcome:        outcome,
		RemainingAfter: remaining,
		OccurredAt:     occurredAt,
		Metadata:       copyMetadata(charge.Metadata),
		CreatedAt:      now,
	}

	s.txMu.Lock()
	if _, exists := s.txns[record.ID]; exists {
		s.txMu.Unlock()
		return ledgerdomain.Transaction{}, ledgerdomain.ErrDuplicateTransaction
	}
	s.txns[record.ID] = record
	s.txMu.Unlock()

	e.transactions = append(e.transactions, record)
	if insufficient {
		return record, ledgerdomain.ErrInsufficientCredits
	}
	e.account.UsedCredits += charge.Cost
	e.account.UpdatedAt = now
	return record, nil
}

func (s *Store) SetPlan(ctx context.Context, assignment ledgerdomain.PlanAssignment) (ledgerdomain.Account, error) {
	if assignment.AccountID == "" {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidAccount
	}
	if assignment.TotalCredits < 0 {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidCredits
	}
	return s.mutate(ctx, assignment.AccountID, func(a *ledgerdomain.Account) bool {
		a.PlanCode = assignment.PlanCode
		a.TotalCredits = assignment.TotalCredits
		a.UsedCredits = 0
		a.Cycle++
		a.PeriodStart = assignment.PeriodStart
		a.PeriodEnd = assignment.PeriodEnd
		return true
	})
}

func (s *Store) TopUp(ctx context.Context, accountID string, credits int64) (ledgerdomain.Account, error) {
	if accountID == "" {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidAccount
	}
	if credits <= 0 {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidCredits
	}
	overflow := false
	account, err := s.mutate(ctx, accountID, func(a *ledgerdomain.Account) bool {
		if credits > ledgerdomain.MaxTopUp(a.TotalCredits) {
			overflow = true
			return false
		}
		a.TotalCredits += credits
		return true
	})
	if err != nil {
		return ledgerdomain.Account{}, err
	}
	if overflow {
		return ledgerdomain.Account{}, ledgerdomain.ErrInvalidCredits
	}
	return account, nil
}

func (s *Store) RenewCycle(ctx context.Context, renewal ledgerdomain.Renewal) (bool, error) {
	if renewal.AccountID == "" {
		return false, ledgerdomain.ErrInvalidAccount
	}
	renewed := false
	_, err := s.mutate(ctx, renewal.AccountID, func(a *ledgerdomain.Account) bool {
		if a.Cycle != renewal.ExpectedCycle {
			return false
		}
		a.TotalCredits = renewal.TotalCredits
		a.UsedCredits = 0
		a.Cycle = renewal.ExpectedCycle + 1
		a.PeriodStart = renewal.PeriodStart
		a.PeriodEnd = renewal.PeriodEnd
		renewed = true
		return true
	})
	if errors.Is(err, ledgerdomain.ErrAccountNotFound) {
		return false, nil
	}
	return renewed, err
}

func (s *Store) mutate(ctx context.Context, accountID string, fn func(*ledgerdomain.Account) bool) (ledgerdomain.Account, error) {
	if err := ctx.Err(); err != nil {
		return ledgerdomain.Account{}, err
	}
	sh := s.shardFor(accountID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.accounts[accountID]
	if !ok {
		return ledgerdomain.Account{}, ledgerdomain.ErrAccountNotFound
	}
	if fn(&e.account) {
		e.account.UpdatedAt = s.clock.Now()
	}
	return e.account, nil
}

func (s *Store) ListDueForRenewal(ctx context.Context, now time.Time, limit int) ([]ledgerdomain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	var due []ledgerdomain.Account
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, e := range sh.accounts {
			if e.account.PeriodEnd != nil && !e.account.PeriodEnd.After(now) {
				due = append(due, e.account)
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].PeriodEnd.Before(*due[j].PeriodEnd)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (ledgerdomain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return ledgerdomain.Transaction{}, err
	}
	s.txMu.RLock()
	defer s.txMu.RUnlock()
	record, ok := s.txns[id]
	if !ok {
		return ledgerdomain.Transaction{}, ledgerdomain.ErrTransactionNotFound
	}
	return record, nil
}

func (s *Store) ListTransactions(ctx context.Context, query ledgerdomain.TransactionQuery) ([]ledgerdomain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}

	sh := s.shardFor(query.AccountID)
	sh.mu.Lock()
	var records []ledgerdomain.Transaction
	if e, ok := sh.accounts[query.AccountID]; ok {
		records = make([]ledgerdomain.Transaction, len(e.transactions))
		copy(records, e.transactions)
	}
	sh.mu.Unlock()

	sort.Slice(records, func(i, j int) bool {
		if records[i].OccurredAt.Equal(records[j].OccurredAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].OccurredAt.After(records[j].OccurredAt)
	})

	out := make([]ledgerdomain.Transaction, 0, limit)
	for _, record := range records {
		if query.Before != nil && !olderThan(record, *query.Before) {
			continue
		}
		out = append(out, record)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func olderThan(record ledgerdomain.Transaction, cursor ledgerdomain.TransactionCursor) bool {
	if record.OccurredAt.Equal(cursor.OccurredAt) {
		return record.ID < cursor.ID
	}
	return record.OccurredAt.Before(cursor.OccurredAt)
}

func copyMetadata(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}
	out := make(map[string]any, len(input))
	for k, v := range input {
		out[k] = v
	}
	return out
}

var _ ledgerdomain.Store = (*Store)(nil)

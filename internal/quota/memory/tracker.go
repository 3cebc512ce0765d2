package memory

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
)

const shardCount = 64

type shard struct {
	mu     sync.Mutex
	counts map[string]int
}

// Tracker keeps counters in process memory, sharded by identity.
type Tracker struct {
	shards [shardCount]shard
}

func NewTracker() *Tracker {
	t := &Tracker{}
	for i := range t.shards {
		t.shards[i].counts = map[string]int{}
	}
	return t
}

func (t *Tracker) shardFor(identity string) *shard {
	return &t.shards[xxhash.Sum64String(identity)%shardCount]
}

func (t *Tracker) CheckAndIncrement(ctx context.Context, identity string, limit int) (quotadomain.Result, error) {
	if err := ctx.Err(); err != nil {
		return quotadomain.Result{}, err
	}
	if !quotadomain.ValidIdentity(identity) {
		return quotadomain.Result{}, quotadomain.ErrInvalidIdentity
	}

	sh := t.shardFor(identity)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	used := sh.counts[identity]
	if used >= limit {
		return quotadomain.NewResult(identity, false, used, limit), nil
	}
	used++
	sh.counts[identity] = used
	return quotadomain.NewResult(identity, true, used, limit), nil
}

func (t *Tracker) Peek(ctx context.Context, identity string, limit int) (quotadomain.Result, error) {
	if err := ctx.Err(); err != nil {
		return quotadomain.Result{}, err
	}
	if !quotadomain.ValidIdentity(identity) {
		return quotadomain.Result{}, quotadomain.ErrInvalidIdentity
	}
	sh := t.shardFor(identity)
	sh.mu.Lock()
	used := sh.counts[identity]
	sh.mu.Unlock()
	return quotadomain.NewResult(identity, used < limit, used, limit), nil
}

var _ quotadomain.Tracker = (*Tracker)(nil)

// Package rediscounter keeps free-trial counters in redis so every replica
// shares one allowance per identity.
package rediscounter

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
)

const keyFreeTrial = "creditgate:free_trial:%s"

// Counters never expire; the allowance is one-time per identity.
const checkAndIncrementScript = `
local limit = tonumber(ARGV[1])
local used = tonumber(redis.call("GET", KEYS[1]) or "0")
if used >= limit then
  return {0, used}
end
used = redis.call("INCR", KEYS[1])
return {1, used}
`

type Tracker struct {
	client *redis.Client
	script *redis.Script
}

func NewTracker(client *redis.Client) *Tracker {
	if client == nil {
		return nil
	}
	return &Tracker{
		client: client,
		script: redis.NewScript(checkAndIncrementScript),
	}
}

func (t *Tracker) CheckAndIncrement(ctx context.Context, identity string, limit int) (quotadomain.Result, error) {
	if t == nil || t.client == nil {
		return quotadomain.Result{}, errors.New("free trial tracker not configured")
	}
	if !quotadomain.ValidIdentity(identity) {
		return quotadomain.Result{}, quotadomain.ErrInvalidIdentity
	}

	res, err := t.script.Run(ctx, t.client, []string{key(identity)}, limit).Int64Slice()
	if err != nil {
		return quotadomain.Result{}, err
	}
	if len(res) < 2 {
		return quotadomain.Result{}, errors.New("invalid free trial script response")
	}
	return quotadomain.NewResult(identity, res[0] == 1, int(res[1]), limit), nil
}

func (t *Tracker) Peek(ctx context.Context, identity string, limit int) (quotadomain.Result, error) {
	if t == nil || t.client == nil {
		return quotadomain.Result{}, errors.New("free trial tracker not configured")
	}
	if !quotadomain.ValidIdentity(identity) {
		return quotadomain.Result{}, quotadomain.ErrInvalidIdentity
	}
	used, err := t.client.Get(ctx, key(identity)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return quotadomain.Result{}, err
	}
	return quotadomain.NewResult(identity, used < limit, used, limit), nil
}

func key(identity string) string {
	return fmt.Sprintf(keyFreeTrial, identity)
}

var _ quotadomain.Tracker = (*Tracker)(nil)

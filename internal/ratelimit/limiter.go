package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditgate/internal/config"
)

const keyCallerBucket = "creditgate:rl:caller:%s"

// CallerLimiter throttles metered requests per caller identity. It is a
// request-rate guard in front of admission, not a credit control.
type CallerLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewCallerLimiter returns nil when rate limiting is disabled or redis is absent.
func NewCallerLimiter(cfg config.Config, client *redis.Client) (*CallerLimiter, error) {
	if !cfg.RateLimit.Enabled || client == nil {
		return nil, nil
	}
	if cfg.RateLimit.Rate <= 0 || cfg.RateLimit.Burst <= 0 {
		return nil, fmt.Errorf("rate limit must be positive: rate=%v burst=%d", cfg.RateLimit.Rate, cfg.RateLimit.Burst)
	}
	return &CallerLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.RateLimit.Rate,
		burst:  cfg.RateLimit.Burst,
	}, nil
}

func (l *CallerLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *CallerLimiter) Allow(ctx context.Context, caller string) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	return l.bucket.Take(ctx, fmt.Sprintf(keyCallerBucket, strings.TrimSpace(caller)), l.rate, l.burst)
}

func parseFloat(raw string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}

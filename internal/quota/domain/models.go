// Package domain defines the anonymous free-trial allowance.
package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

const IdentityPrefix = "anon:"

// Counter is the persisted usage of one anonymous identity. It only grows.
type Counter struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	Identity    string       `gorm:"type:varchar(191);not null;uniqueIndex:ux_free_trial_counters_identity"`
	QueriesUsed int          `gorm:"not null;default:0"`
	CreatedAt   time.Time    `gorm:"not null"`
	UpdatedAt   time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Counter) TableName() string { return "free_trial_counters" }

// Result reports the counter after a check. Remaining is Limit - Used, floored at zero.
type Result struct {
	Identity  string `json:"identity"`
	Allowed   bool   `json:"allowed"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
}

// NewResult fills Remaining from used and limit.
func NewResult(identity string, allowed bool, used, limit int) Result {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Result{Identity: identity, Allowed: allowed, Used: used, Remaining: remaining, Limit: limit}
}

// Tracker atomically checks and consumes free-trial slots per identity.
type Tracker interface {
	CheckAndIncrement(ctx context.Context, identity string, limit int) (Result, error)
	Peek(ctx context.Context, identity string, limit int) (Result, error)
}

// Service applies the configured allowance to a Tracker.
type Service interface {
	CheckAndIncrement(ctx context.Context, identity string) (Result, error)
	Peek(ctx context.Context, identity string) (Result, error)
}

var (
	ErrFreeTrialExhausted = errors.New("free_trial_exhausted")
	ErrInvalidIdentity    = errors.New("invalid_identity")
)

// DeriveIdentity builds the anonymous identity from the network origin and an
// optional device fingerprint. Raw addresses never leave this function.
func DeriveIdentity(origin, fingerprint string) (string, error) {
	origin = strings.ToLower(strings.TrimSpace(origin))
	if origin == "" {
		return "", ErrInvalidIdentity
	}
	fingerprint = strings.TrimSpace(fingerprint)
	sum := sha256.Sum256([]byte(origin + "|" + fingerprint))
	return IdentityPrefix + hex.EncodeToString(sum[:]), nil
}

// ValidIdentity reports whether identity is usable as a counter key.
func ValidIdentity(identity string) bool {
	return strings.TrimSpace(identity) != ""
}

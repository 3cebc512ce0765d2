package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Roles an API key can hold.
const (
	RoleAdmin   = "admin"
	RoleBilling = "billing"
	RoleGateway = "gateway"
)

// ValidRole reports whether role is one of the known key roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleBilling, RoleGateway:
		return true
	default:
		return false
	}
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *APIKey) error
	Update(ctx context.Context, db *gorm.DB, key *APIKey) error
	FindByKeyID(ctx context.Context, db *gorm.DB, keyID string) (*APIKey, error)
	FindByHash(ctx context.Context, db *gorm.DB, hash string) (*APIKey, error)
	TouchLastUsed(ctx context.Context, db *gorm.DB, id int64, at time.Time) error
	List(ctx context.Context, db *gorm.DB) ([]APIKey, error)
}

type Service interface {
	List(ctx context.Context) ([]Response, error)
	Create(ctx context.Context, req CreateRequest) (*SecretResponse, error)
	Rotate(ctx context.Context, keyID string) (*SecretResponse, error)
	Revoke(ctx context.Context, keyID string) error
	Authenticate(ctx context.Context, rawKey string) (*APIKey, error)
	EnsureBootstrapKey(ctx context.Context, name, role, rawKey string) error
}

type CreateRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type Response struct {
	KeyID            string     `json:"key_id"`
	Name             string     `json:"name"`
	Role             string     `json:"role"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       *time.Time `json:"last_used_at"`
	ExpiresAt        *time.Time `json:"expires_at"`
	RotatedFromKeyID *string    `json:"rotated_from_key_id"`
}

type SecretResponse struct {
	KeyID  string `json:"key_id"`
	Role   string `json:"role"`
	APIKey string `json:"api_key"`
}

var (
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidKeyID  = errors.New("invalid_key_id")
	ErrInvalidAPIKey = errors.New("invalid_api_key")
	ErrNotFound      = errors.New("not_found")
)

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/platinummonkey/flowgate/pkg/contextkeys"
)

// Method is how a caller proved its identity
type Method string

const (
	MethodJWT    Method = "jwt"
	MethodAPIKey Method = "api_key"
)

var (
	// ErrInvalidCredentials is returned for credentials that fail verification
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrExpiredCredentials is returned for expired tokens or keys
	ErrExpiredCredentials = errors.New("credentials expired")
	// ErrRevokedKey is returned for revoked API keys
	ErrRevokedKey = errors.New("api key revoked")
)

// Identity is an authenticated caller
type Identity struct {
	UserID string `json:"user_id"`
	Method Method `json:"method"`
	// APIKeyPrefix is the display prefix of the key used, empty for JWT callers
	APIKeyPrefix string    `json:"api_key_prefix,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// APIKey is a stored API key. Only the SHA256 hash of the key is persisted.
type APIKey struct {
	ID        string
	UserID    string
	KeyHash   string
	KeyPrefix string
	ExpiresAt *time.Time
	RevokedAt *time.Time
}

// IsActive reports whether the key can still be used at now
func (k *APIKey) IsActive(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	return k.ExpiresAt == nil || now.Before(*k.ExpiresAt)
}

// WithIdentity stores the identity in ctx, along with its user id for logging
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	ctx = contextkeys.WithIdentity(ctx, identity)
	return contextkeys.WithUserID(ctx, identity.UserID)
}

// IdentityFromContext returns the authenticated caller, or nil for anonymous requests
func IdentityFromContext(ctx context.Context) *Identity {
	identity, _ := ctx.Value(contextkeys.IdentityKey).(*Identity)
	return identity
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/flowgate/pkg/auth"
)

// APIKeyStore looks up API keys by hash. Keys are not tenant data, the
// lookup happens before any tenant is known.
type APIKeyStore struct {
	cm *ConnectionManager
}

// NewAPIKeyStore creates an API key store
func NewAPIKeyStore(cm *ConnectionManager) *APIKeyStore {
	return &APIKeyStore{cm: cm}
}

// LookupAPIKey implements auth.KeyStore
func (s *APIKeyStore) LookupAPIKey(ctx context.Context, keyHash string) (*auth.APIKey, error) {
	var (
		key       auth.APIKey
		expiresAt sql.NullTime
		revokedAt sql.NullTime
	)
	err := s.cm.Replica().QueryRowContext(ctx, `
		SELECT id, user_id, key_hash, key_prefix, expires_at, revoked_at
		FROM api_keys
		WHERE key_hash = $1
	`, keyHash).Scan(&key.ID, &key.UserID, &key.KeyHash, &key.KeyPrefix, &expiresAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}

	if expiresAt.Valid {
		key.ExpiresAt = &expiresAt.Time
	}
	if revokedAt.Valid {
		key.RevokedAt = &revokedAt.Time
	}
	return &key, nil
}

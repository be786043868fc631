package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// TokenPrefix identifies flowgate API keys
	TokenPrefix = "fg_"
	// TokenLength is the total length of random bytes (32 bytes = 256 bits)
	TokenLength = 32
	// DisplayPrefixLength is the number of leading key characters used for display and rate limiting
	DisplayPrefixLength = 16
)

// TokenGenerator generates and validates API keys
type TokenGenerator struct{}

// NewTokenGenerator creates a new token generator
func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken creates a new API key.
// Format: fg_<base64url(32 random bytes)>
func (tg *TokenGenerator) GenerateToken() (token string, tokenHash string, tokenPrefix string, err error) {
	randomBytes := make([]byte, TokenLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	fullToken := TokenPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return fullToken, tg.HashToken(fullToken), tg.ExtractPrefix(fullToken), nil
}

// HashToken computes the SHA256 hash of a token for lookup
func (tg *TokenGenerator) HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// ValidateTokenFormat checks if a token has the correct format
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	if !strings.HasPrefix(token, TokenPrefix) {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}

	encodedPart := strings.TrimPrefix(token, TokenPrefix)
	if len(encodedPart) == 0 {
		return fmt.Errorf("token is too short")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encodedPart); err != nil {
		return fmt.Errorf("invalid token encoding: %w", err)
	}
	return nil
}

// ExtractPrefix returns the first DisplayPrefixLength characters of a key
func (tg *TokenGenerator) ExtractPrefix(token string) string {
	if len(token) > DisplayPrefixLength {
		return token[:DisplayPrefixLength]
	}
	return token
}

// KeyStore looks up stored API keys by hash
type KeyStore interface {
	LookupAPIKey(ctx context.Context, keyHash string) (*APIKey, error)
}

// ErrKeyNotFound is returned by a KeyStore when no key has the given hash
var ErrKeyNotFound = errors.New("api key not found")

// TokenManager validates API keys against a KeyStore. Successful lookups are
// cached briefly so hot keys do not hit the database on every request.
type TokenManager struct {
	generator *TokenGenerator
	store     KeyStore
	cache     *expirable.LRU[string, *APIKey]
	now       func() time.Time
}

// NewTokenManager creates a new token manager. cacheTTL of zero disables caching.
func NewTokenManager(store KeyStore, cacheSize int, cacheTTL time.Duration) *TokenManager {
	tm := &TokenManager{
		generator: NewTokenGenerator(),
		store:     store,
		now:       time.Now,
	}
	if cacheTTL > 0 {
		if cacheSize <= 0 {
			cacheSize = 1024
		}
		tm.cache = expirable.NewLRU[string, *APIKey](cacheSize, nil, cacheTTL)
	}
	return tm
}

// ValidateToken validates a key and returns the identity it belongs to
func (tm *TokenManager) ValidateToken(ctx context.Context, token string) (*Identity, error) {
	if err := tm.generator.ValidateTokenFormat(token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	keyHash := tm.generator.HashToken(token)
	key, ok := tm.cached(keyHash)
	if !ok {
		var err error
		key, err = tm.store.LookupAPIKey(ctx, keyHash)
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrInvalidCredentials
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up api key: %w", err)
		}
		if tm.cache != nil {
			tm.cache.Add(keyHash, key)
		}
	}

	now := tm.now()
	if key.RevokedAt != nil {
		return nil, ErrRevokedKey
	}
	if !key.IsActive(now) {
		return nil, ErrExpiredCredentials
	}

	identity := &Identity{
		UserID:       key.UserID,
		Method:       MethodAPIKey,
		APIKeyPrefix: tm.generator.ExtractPrefix(token),
	}
	if key.ExpiresAt != nil {
		identity.ExpiresAt = *key.ExpiresAt
	}
	return identity, nil
}

// Invalidate drops a key from the cache, e.g. after revocation
func (tm *TokenManager) Invalidate(keyHash string) {
	if tm.cache != nil {
		tm.cache.Remove(keyHash)
	}
}

func (tm *TokenManager) cached(keyHash string) (*APIKey, bool) {
	if tm.cache == nil {
		return nil, false
	}
	return tm.cache.Get(keyHash)
}

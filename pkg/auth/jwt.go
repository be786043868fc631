package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures bearer token verification
type JWTConfig struct {
	// Secret is the HMAC signing key
	Secret []byte
	// Issuer is the expected iss claim, unchecked when empty
	Issuer string
	// Audience is the expected aud claim, unchecked when empty
	Audience string
	// Leeway tolerates clock skew on exp/nbf
	Leeway time.Duration
}

// JWTVerifier validates HS256 bearer tokens issued by the login service
type JWTVerifier struct {
	config JWTConfig
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier. It fails when no secret is configured.
func NewJWTVerifier(config JWTConfig) (*JWTVerifier, error) {
	if len(config.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(config.Leeway),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}

	return &JWTVerifier{
		config: config,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Verify parses the token and returns the identity in its subject claim
func (v *JWTVerifier) Verify(tokenString string) (*Identity, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.config.Secret, nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidCredentials)
	}

	identity := &Identity{
		UserID: claims.Subject,
		Method: MethodJWT,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// Sign issues a token for userID valid for ttl. Used by tests and local tooling.
func (v *JWTVerifier) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    v.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{v.config.Audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.config.Secret)
}

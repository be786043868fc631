package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/flowgate/pkg/apierrors"
	"github.com/platinummonkey/flowgate/pkg/observability"
)

// APIKeyHeader carries an API key as an alternative to a bearer token
const APIKeyHeader = "X-API-Key"

// Authenticator resolves the caller identity from request credentials
type Authenticator struct {
	jwt        *JWTVerifier
	keys       *TokenManager
	classifier *apierrors.Classifier
	logger     *observability.Logger
}

// NewAuthenticator creates an authenticator. Either verifier may be nil to
// disable that credential type.
func NewAuthenticator(jwt *JWTVerifier, keys *TokenManager, classifier *apierrors.Classifier, logger *observability.Logger) *Authenticator {
	if classifier == nil {
		classifier = apierrors.NewClassifier(logger, nil)
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Authenticator{jwt: jwt, keys: keys, classifier: classifier, logger: logger}
}

// Authenticate returns the caller identity, or nil when the request carries no credentials
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return a.validateKey(r, key)
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, ErrInvalidCredentials
	}
	token := strings.TrimSpace(parts[1])

	if strings.HasPrefix(token, TokenPrefix) {
		return a.validateKey(r, token)
	}
	if a.jwt == nil {
		return nil, ErrInvalidCredentials
	}
	return a.jwt.Verify(token)
}

func (a *Authenticator) validateKey(r *http.Request, key string) (*Identity, error) {
	if a.keys == nil {
		return nil, ErrInvalidCredentials
	}
	return a.keys.ValidateToken(r.Context(), key)
}

// Middleware attaches the identity to the request context. Requests without
// credentials pass through anonymously; routes that need a caller reject them
// later. Invalid credentials are rejected here with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := a.Authenticate(r)
		if err != nil {
			a.reject(w, r, err)
			return
		}
		if identity == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := WithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrExpiredCredentials):
		a.classifier.Respond(w, r, apierrors.Wrap(apierrors.KindAuthentication, err, "expired credentials"), 0)
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrRevokedKey):
		a.classifier.Respond(w, r, apierrors.Wrap(apierrors.KindAuthentication, err, "invalid credentials"), 0)
	default:
		// Key lookup failed for infrastructure reasons
		observability.FromContext(r.Context()).WithError(err).Error("Credential verification failed")
		a.classifier.Respond(w, r, apierrors.Wrap(apierrors.KindDatabase, err, "credential lookup failed"), 0)
	}
}

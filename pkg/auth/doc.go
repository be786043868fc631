// Package auth identifies the caller of a request.
//
// Two credential types are accepted:
//
//   - Bearer JWTs (HS256) issued by the login service; the sub claim is the user id
//   - API keys of the form fg_<base64url(32 random bytes)>, sent in X-API-Key or as a
//     bearer token; only the SHA256 hash of a key is stored
//
// The Authenticator middleware stores an *Identity in the request context.
// Requests without credentials continue anonymously so public routes keep
// working. Invalid, expired or revoked credentials are rejected with a 401
// error envelope.
//
//	verifier, _ := auth.NewJWTVerifier(auth.JWTConfig{Secret: secret})
//	keys := auth.NewTokenManager(postgres.NewAPIKeyStore(cm), 4096, time.Minute)
//	authn := auth.NewAuthenticator(verifier, keys, classifier, logger)
//	handler = authn.Middleware(handler)
//
// The first 16 characters of an API key (its display prefix) double as the
// rate limit identity for key-authenticated callers.
package auth

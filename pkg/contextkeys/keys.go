// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/flowgate/pkg/contextkeys"
//	ctx = contextkeys.WithTenant(ctx, tc)
//	tc, _ := ctx.Value(contextkeys.TenantKey).(*tenant.Context)
package contextkeys

import (
	"context"
	"time"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *auth.Identity
	// Set by: auth.Authenticator.Middleware (pkg/auth/middleware.go)
	// Required by: tenant resolution, rate limit client identity
	// Type: *auth.Identity
	IdentityKey Key = "identity"

	// TenantKey contains *tenant.Context
	// Set by: tenant.Middleware (pkg/tenant/middleware.go)
	// Required by: tenant-scoped handlers, quota middleware, scoped DB sessions
	// Type: *tenant.Context
	TenantKey Key = "tenant"

	// TenantIDKey contains the resolved tenant identifier
	// Set by: tenant.Middleware alongside TenantKey
	// Used by: error logging, which cannot import the tenant package
	// Type: string
	TenantIDKey Key = "tenant_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, error envelopes, response headers
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains user ID string
	// Set by: Auth middleware after user authentication
	// Used by: Logger, user-scoped operations
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// EndpointClassKey contains the endpoint class the request was bucketed into
	// Set by: middleware.Pipeline
	// Used by: rate limiter, circuit breaker, retry executor
	// Type: string
	EndpointClassKey Key = "endpoint_class"

	// RequestStartTimeKey contains request start timestamp
	// Set by: httputil.RequestIDMiddleware
	// Used by: X-Execution-Time header
	// Type: time.Time
	RequestStartTimeKey Key = "request_start_time"
)

// Helper functions for type-safe context operations

// WithIdentity adds the caller identity to the context
func WithIdentity(ctx context.Context, identity interface{}) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// WithTenant adds the tenant context and its identifier to the context
func WithTenant(ctx context.Context, tenant interface{}, tenantID string) context.Context {
	ctx = context.WithValue(ctx, TenantKey, tenant)
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithEndpointClass adds the endpoint class to the context
func WithEndpointClass(ctx context.Context, class string) context.Context {
	return context.WithValue(ctx, EndpointClassKey, class)
}

// WithRequestStartTime adds request start time to the context
func WithRequestStartTime(ctx context.Context, startTime time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, startTime)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetTenantID retrieves the resolved tenant identifier from context
func GetTenantID(ctx context.Context) string {
	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok {
		return tenantID
	}
	return ""
}

// GetEndpointClass retrieves the endpoint class from context
func GetEndpointClass(ctx context.Context) string {
	if class, ok := ctx.Value(EndpointClassKey).(string); ok {
		return class
	}
	return ""
}

// GetRequestStartTime retrieves the request start time from context
func GetRequestStartTime(ctx context.Context) (time.Time, bool) {
	start, ok := ctx.Value(RequestStartTimeKey).(time.Time)
	return start, ok
}

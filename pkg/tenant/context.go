package tenant

import (
	"context"
	"database/sql"

	"github.com/platinummonkey/flowgate/pkg/apierrors"
	"github.com/platinummonkey/flowgate/pkg/contextkeys"
)

// Context is the tenant security context of a single request. It is created
// once by the middleware and never modified afterwards.
type Context struct {
	TenantID string `json:"tenant_id,omitempty"`
	CallerID string `json:"caller_id,omitempty"`
	// IsPublic marks exempt routes that carry no tenant
	IsPublic bool `json:"is_public"`
	// Source records where the tenant id came from
	Source Source `json:"source,omitempty"`
}

// Source identifies which request attribute produced the tenant id
type Source string

const (
	SourceHeader   Source = "header"
	SourcePath     Source = "path"
	SourceQuery    Source = "query"
	SourceInferred Source = "inferred"
	SourcePublic   Source = "public"
)

// WithContext stores tc in ctx
func WithContext(ctx context.Context, tc *Context) context.Context {
	return contextkeys.WithTenant(ctx, tc, tc.TenantID)
}

// FromContext returns the tenant context of the request, if one was resolved
func FromContext(ctx context.Context) (*Context, bool) {
	tc, ok := ctx.Value(contextkeys.TenantKey).(*Context)
	return tc, ok && tc != nil
}

// RequireTenantContext returns the resolved tenant or a Validation error when
// the request carries none
func RequireTenantContext(ctx context.Context) (*Context, error) {
	tc, ok := FromContext(ctx)
	if !ok || tc.TenantID == "" {
		return nil, apierrors.Validation("organization context is required for this endpoint")
	}
	return tc, nil
}

// SessionRunner runs fn inside a database session scoped to a tenant.
// postgres.SessionManager implements it.
type SessionRunner interface {
	WithTenant(ctx context.Context, tenantID string, fn func(tx *sql.Tx) error) error
}

// WithSession runs fn in a session scoped to the request's tenant
func WithSession(ctx context.Context, sessions SessionRunner, fn func(tx *sql.Tx) error) error {
	tc, err := RequireTenantContext(ctx)
	if err != nil {
		return err
	}
	return sessions.WithTenant(ctx, tc.TenantID, fn)
}

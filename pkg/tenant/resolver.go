package tenant

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flowgate/pkg/apierrors"
	"github.com/platinummonkey/flowgate/pkg/auth"
)

const (
	// HeaderOrganizationID carries an explicit tenant id
	HeaderOrganizationID = "X-Organization-ID"
	// ParamOrganizationID is the path and query parameter name for the tenant id
	ParamOrganizationID = "org_id"
)

// MembershipStore lists the tenants a caller belongs to
type MembershipStore interface {
	TenantsForCaller(ctx context.Context, callerID string) ([]string, error)
}

// InferencePolicy decides which tenant to use when the request names none
type InferencePolicy int

const (
	// InferSingleMembership picks the tenant only when the caller belongs to exactly one
	InferSingleMembership InferencePolicy = iota
	// InferFirstMembership picks the first tenant ordered by id
	InferFirstMembership
	// InferNone never infers a tenant
	InferNone
)

// DefaultExemptPaths are matched exactly
var DefaultExemptPaths = []string{
	"/api/v1/login",
	"/api/v1/users",
	"/api/v1/billing/organizations",
	"/api/v1/billing/plans",
	"/docs",
	"/openapi.json",
	"/health",
}

// DefaultExemptPrefixes are matched by prefix
var DefaultExemptPrefixes = []string{
	"/docs",
	"/static",
	"/_internal",
	"/health",
}

// Options configures a Resolver
type Options struct {
	Policy         InferencePolicy
	ExemptPaths    []string
	ExemptPrefixes []string
}

// DefaultOptions returns the default resolver options
func DefaultOptions() Options {
	return Options{
		Policy:         InferSingleMembership,
		ExemptPaths:    DefaultExemptPaths,
		ExemptPrefixes: DefaultExemptPrefixes,
	}
}

// Resolver determines and authorizes the tenant of a request
type Resolver struct {
	members MembershipStore
	policy  InferencePolicy
	exact   map[string]struct{}
	prefix  []string
}

// NewResolver creates a resolver backed by members
func NewResolver(members MembershipStore, opts Options) *Resolver {
	exact := make(map[string]struct{}, len(opts.ExemptPaths))
	for _, p := range opts.ExemptPaths {
		exact[p] = struct{}{}
	}
	return &Resolver{
		members: members,
		policy:  opts.Policy,
		exact:   exact,
		prefix:  opts.ExemptPrefixes,
	}
}

// IsExempt reports whether path may be served without a tenant
func (res *Resolver) IsExempt(path string) bool {
	if _, ok := res.exact[path]; ok {
		return true
	}
	for _, p := range res.prefix {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Resolve returns the tenant context of r. It returns nil, nil when the
// route needs a tenant but the request names none and none can be inferred;
// handlers that need one reject the request through RequireTenantContext.
func (res *Resolver) Resolve(r *http.Request) (*Context, error) {
	ctx := r.Context()

	var callerID string
	if identity := auth.IdentityFromContext(ctx); identity != nil {
		callerID = identity.UserID
	}

	tenantID, source := explicitTenant(r)

	if res.IsExempt(r.URL.Path) && (tenantID == "" || callerID == "") {
		return &Context{CallerID: callerID, IsPublic: true, Source: SourcePublic}, nil
	}

	if tenantID != "" {
		if callerID == "" {
			return nil, apierrors.Authentication("authentication required for organization access")
		}
		if err := res.authorize(ctx, callerID, tenantID); err != nil {
			return nil, err
		}
		return &Context{TenantID: tenantID, CallerID: callerID, Source: source}, nil
	}

	if callerID == "" {
		return nil, nil
	}

	tenantID, err := res.infer(ctx, callerID)
	if err != nil || tenantID == "" {
		return nil, err
	}
	return &Context{TenantID: tenantID, CallerID: callerID, Source: SourceInferred}, nil
}

func explicitTenant(r *http.Request) (string, Source) {
	if id := strings.TrimSpace(r.Header.Get(HeaderOrganizationID)); id != "" {
		return id, SourceHeader
	}
	if id := mux.Vars(r)[ParamOrganizationID]; id != "" {
		return id, SourcePath
	}
	if id := strings.TrimSpace(r.URL.Query().Get(ParamOrganizationID)); id != "" {
		return id, SourceQuery
	}
	return "", ""
}

func (res *Resolver) authorize(ctx context.Context, callerID, tenantID string) error {
	tenants, err := res.members.TenantsForCaller(ctx, callerID)
	if err != nil {
		return apierrors.Wrap(apierrors.KindDatabase, err, "membership lookup failed")
	}
	for _, t := range tenants {
		if t == tenantID {
			return nil
		}
	}
	return apierrors.Authorization("access denied to organization")
}

func (res *Resolver) infer(ctx context.Context, callerID string) (string, error) {
	if res.policy == InferNone {
		return "", nil
	}

	tenants, err := res.members.TenantsForCaller(ctx, callerID)
	if err != nil {
		return "", apierrors.Wrap(apierrors.KindDatabase, err, "membership lookup failed")
	}

	switch {
	case len(tenants) == 0:
		return "", nil
	case len(tenants) == 1:
		return tenants[0], nil
	case res.policy == InferFirstMembership:
		// Store returns memberships ordered by tenant id
		return tenants[0], nil
	default:
		return "", apierrors.Validation("explicit organization required: caller belongs to multiple organizations")
	}
}

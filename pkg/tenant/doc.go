// Package tenant establishes the per-request tenant security context.
//
// The tenant is taken from the X-Organization-ID header, the org_id path
// variable or the org_id query parameter, in that order. When the request
// names no tenant it may be inferred from the caller's memberships according
// to the configured InferencePolicy.
//
// Every explicitly requested tenant is checked against the caller's
// memberships before the request continues. Resolution never fails open: a
// membership lookup error rejects the request.
//
// Usage:
//
//	resolver := tenant.NewResolver(postgres.NewMembershipStore(cm), tenant.DefaultOptions())
//	router.Use(tenant.Middleware(resolver, classifier, metrics))
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//		tc, err := tenant.RequireTenantContext(r.Context())
//		...
//	}
package tenant

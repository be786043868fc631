// Package middleware assembles the tenant isolated, resilient request pipeline.
//
// # Ordering
//
// The pipeline applies its stages in a fixed order, outermost first:
//
//  1. Request id, execution time and request logging (pkg/httputil)
//  2. Recovery: panics become an internal server error envelope
//  3. Authentication: bearer JWT or API key (pkg/auth)
//  4. Tenant resolution and membership check (pkg/tenant)
//  5. Sliding window rate limiting per client and endpoint class (pkg/ratelimit)
//  6. Circuit admission for the endpoint class (pkg/circuit)
//  7. Quota check for enforced routes (pkg/usage)
//  8. The handler, run under the retry executor (pkg/retry)
//
// Each attempt writes to a buffer, so only the final attempt reaches the
// client. Circuit outcomes are recorded per attempt and usage is recorded
// after a successful response, both through async.Complete so a client
// disconnect does not lose them. Failures are rendered by the
// apierrors.Classifier.
//
// # Usage
//
//	p := middleware.New(middleware.Config{
//		Resolver:      resolver,
//		Limiter:       limiter,
//		Breaker:       breaker,
//		Retry:         retry.DefaultTable(),
//		Meter:         meter,
//		RequireTenant: true,
//		Stopping:      shutdown.Stopping(),
//	})
//	router.Use(p.Handler)
//
// The pipeline runs as mux middleware so org_id path variables are visible
// to tenant resolution.
package middleware

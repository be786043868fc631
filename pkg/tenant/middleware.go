package tenant

import (
	"net/http"

	"github.com/platinummonkey/flowgate/pkg/apierrors"
	"github.com/platinummonkey/flowgate/pkg/observability"
)

// Middleware resolves the tenant of each request and stores it in the
// request context. Resolution failures are rendered by the classifier and
// stop the request.
func Middleware(res *Resolver, classifier *apierrors.Classifier, metrics *observability.Metrics) func(http.Handler) http.Handler {
	if classifier == nil {
		classifier = apierrors.NewClassifier(nil, metrics)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tc, err := res.Resolve(r)
			if err != nil {
				metrics.RecordTenantResolution("rejected")
				classifier.Respond(w, r, err, 0)
				return
			}
			if tc == nil {
				metrics.RecordTenantResolution("none")
				next.ServeHTTP(w, r)
				return
			}

			metrics.RecordTenantResolution(string(tc.Source))
			next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), tc)))
		})
	}
}

// Require rejects requests without a resolved tenant with 400 before next runs
func Require(classifier *apierrors.Classifier) func(http.Handler) http.Handler {
	if classifier == nil {
		classifier = apierrors.NewClassifier(nil, nil)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := RequireTenantContext(r.Context()); err != nil {
				classifier.Respond(w, r, err, 0)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package middleware

import (
	"fmt"
	"net/http"

	"github.com/platinummonkey/flowgate/pkg/apierrors"
	"github.com/platinummonkey/flowgate/pkg/observability"
)

// Recovery turns handler panics into an internal server error envelope
func Recovery(classifier *apierrors.Classifier) func(http.Handler) http.Handler {
	if classifier == nil {
		classifier = apierrors.NewClassifier(nil, nil)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer observability.RecoverPanicWithCallback(observability.FromContext(r.Context()), r.Method+" "+r.URL.Path, func(recovered interface{}) {
				if recovered == http.ErrAbortHandler {
					panic(recovered)
				}
				err := apierrors.Wrap(apierrors.KindInternalServer, fmt.Errorf("panic: %v", recovered), "handler panicked")
				classifier.Respond(w, r, err, 0)
			})
			next.ServeHTTP(w, r)
		})
	}
}

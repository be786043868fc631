package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/platinummonkey/flowgate/pkg/apierrors"
	"github.com/platinummonkey/flowgate/pkg/observability"
)

// Middleware rate limits requests by client and endpoint class
func Middleware(l *Limiter, classifier *apierrors.Classifier) func(http.Handler) http.Handler {
	if classifier == nil {
		classifier = apierrors.NewClassifier(nil, l.metrics)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := l.Config()
			if cfg.Skipped(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			class := cfg.Match(r.URL.Path).Prefix
			clientID := ClientID(r)

			d, err := l.Admit(r.Context(), clientID, class)
			if err != nil {
				observability.FromContext(r.Context()).
					WithError(err).
					WithField("client_id", clientID).
					Warn("Rate limiter failed open")
			}

			setHeaders(w.Header(), d)
			if !d.Allowed {
				classifier.Respond(w, r, apierrors.RateLimited("rate limit exceeded for "+class, d.RetryAfterSeconds), 0)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setHeaders(h http.Header, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if !d.Allowed {
		h.Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds))
	}
}

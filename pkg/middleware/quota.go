package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flowgate/pkg/contextkeys"
	"github.com/platinummonkey/flowgate/pkg/observability"
	"github.com/platinummonkey/flowgate/pkg/retry"
	"github.com/platinummonkey/flowgate/pkg/tenant"
	"github.com/platinummonkey/flowgate/pkg/usage"
)

// QuotaPolicy selects which routes are quota checked and which are metered
type QuotaPolicy struct {
	// Enforced prefixes check the api_calls quota before the handler runs
	Enforced []string `yaml:"enforced" json:"enforced"`
	// Tracked prefixes record an api call after a successful response
	Tracked []string `yaml:"tracked" json:"tracked"`
	// RunMarkers identify flow runs, which also record executions and compute minutes
	RunMarkers  []string          `yaml:"run_markers" json:"run_markers"`
	Enforcement usage.Enforcement `yaml:"-" json:"-"`
}

// DefaultQuotaPolicy returns the built-in quota routes with hard enforcement
func DefaultQuotaPolicy() QuotaPolicy {
	return QuotaPolicy{
		Enforced:    []string{"/api/v1/chat", "/api/v1/flows/run", "/api/v1/endpoints/run"},
		Tracked:     []string{"/api/v1/chat", "/api/v1/flows", "/api/v1/endpoints", "/api/v1/validate"},
		RunMarkers:  []string{"/run", "/execute"},
		Enforcement: usage.EnforcementHard,
	}
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func (q QuotaPolicy) isRun(path string) bool {
	for _, m := range q.RunMarkers {
		if strings.Contains(path, m) {
			return true
		}
	}
	return false
}

// meteredTenant returns the tenant a request is metered against, empty for public requests
func meteredTenant(r *http.Request) string {
	tc, ok := tenant.FromContext(r.Context())
	if !ok || tc.IsPublic {
		return ""
	}
	return tc.TenantID
}

// quotaCheck rejects enforced routes whose tenant is out of api calls and
// reports the remaining quota in X-Quota-Remaining
func (p *Pipeline) quotaCheck(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := meteredTenant(r)
		if tenantID == "" || !hasAnyPrefix(r.URL.Path, p.cfg.Quota.Enforced) {
			next.ServeHTTP(w, r)
			return
		}

		info, err := p.cfg.Meter.Enforce(r.Context(), tenantID, usage.MetricAPICalls, 1, p.cfg.Quota.Enforcement)
		if !info.Unlimited && info.Limit > 0 {
			w.Header().Set("X-Quota-Remaining", strconv.FormatInt(info.Remaining, 10))
		}
		if err != nil {
			p.cfg.Classifier.Respond(w, r, err, 0)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recordUsage meters a successful tracked request. Recording runs detached
// from the client with the request id as idempotency key.
func (p *Pipeline) recordUsage(r *http.Request, res retry.Result) {
	if p.cfg.Meter == nil || res.Status < 200 || res.Status >= 300 {
		return
	}
	tenantID := meteredTenant(r)
	if tenantID == "" || !hasAnyPrefix(r.URL.Path, p.cfg.Quota.Tracked) {
		return
	}

	ctx := r.Context()
	requestID := contextkeys.GetRequestID(ctx)
	logger := observability.FromContext(ctx)

	endpoint := r.Method + " " + r.URL.Path
	err := p.complete(ctx, "record api call", func(ctx context.Context) error {
		return p.cfg.Meter.TrackAPICall(ctx, tenantID, endpoint, contextkeys.GetUserID(ctx), requestID)
	})
	if err != nil && !errors.Is(err, usage.ErrDuplicateUsage) {
		logger.WithError(err).Warn("Failed to record api call")
	}

	if !p.cfg.Quota.isRun(r.URL.Path) {
		return
	}
	flowID := mux.Vars(r)["flow_id"]
	if flowID == "" {
		flowID = r.URL.Query().Get("flow_id")
	}
	if flowID == "" {
		flowID = "unknown"
	}
	err = p.complete(ctx, "record flow execution", func(ctx context.Context) error {
		return p.cfg.Meter.TrackFlowExecution(ctx, tenantID, flowID, res.Elapsed, requestID)
	})
	if err != nil && !errors.Is(err, usage.ErrDuplicateUsage) {
		logger.WithError(err).Warn("Failed to record flow execution")
	}
}

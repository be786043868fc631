package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordRateLimit("default", true)
	m.SetCircuitState("default", 1)
	m.RecordCircuitTransition("default", "closed", "open")
	m.RecordRetryAttempt("default", "success")
	m.RecordQuotaDecision("api_calls", false)
	m.RecordUsage("api_calls", 1)
	m.RecordError("timeout", 408)
	m.RecordUnclassifiedError()
	m.RecordFailOpen("ratelimit")
	m.RecordTenantResolution("header")
}

func TestMetrics_Record(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordRateLimit("/api/v1/chat", false)
	m.RecordRateLimit("/api/v1/chat", false)
	m.RecordUsage("compute_minutes", 3)
	m.SetCircuitState("/api/v1/flows", 2)

	if got := testutil.ToFloat64(m.RateLimitDecisionsTotal.WithLabelValues("/api/v1/chat", "rejected")); got != 2 {
		t.Errorf("Expected 2 rejections, got %v", got)
	}
	if got := testutil.ToFloat64(m.UsageRecordedTotal.WithLabelValues("compute_minutes")); got != 3 {
		t.Errorf("Expected 3 compute minutes, got %v", got)
	}
	if got := testutil.ToFloat64(m.CircuitState.WithLabelValues("/api/v1/flows")); got != 2 {
		t.Errorf("Expected half-open gauge 2, got %v", got)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m, func(r *http.Request) string { return "default" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

	if got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "default", "418")); got != 1 {
		t.Errorf("Expected 1 request recorded, got %v", got)
	}

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "flowgate_http_requests_total") {
		t.Error("Expected exposition to include flowgate_http_requests_total")
	}
}

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
// Every recording method is safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Rate limiting
	RateLimitDecisionsTotal *prometheus.CounterVec

	// Circuit breaking
	CircuitState            *prometheus.GaugeVec
	CircuitTransitionsTotal *prometheus.CounterVec

	// Retries
	RetryAttemptsTotal *prometheus.CounterVec

	// Quotas and usage
	QuotaDecisionsTotal *prometheus.CounterVec
	UsageRecordedTotal  *prometheus.CounterVec

	// Errors
	ErrorsTotal             *prometheus.CounterVec
	UnclassifiedErrorsTotal prometheus.Counter
	FailOpenTotal           *prometheus.CounterVec

	// Tenancy
	TenantResolutionsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint_class", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint_class"},
		),
		RateLimitDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowgate_ratelimit_decisions_total",
				Help: "Rate limit admissions and rejections",
			},
			[]string{"endpoint_class", "decision"},
		),
		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flowgate_circuit_state",
				Help: "Circuit state per endpoint class (0=closed, 1=open, 2=half_open)",
			},
			[]string{"endpoint_class"},
		),
		CircuitTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowgate_circuit_transitions_total",
				Help: "Circuit state transitions",
			},
			[]string{"endpoint_class", "from", "to"},
		),
		RetryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowgate_retry_attempts_total",
				Help: "Downstream attempts by outcome",
			},
			[]string{"endpoint_class", "outcome"},
		),
		QuotaDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowgate_quota_decisions_total",
				Help: "Quota checks by metric and decision",
			},
			[]string{"metric", "decision"},
		),
		UsageRecordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowgate_usage_recorded_total",
				Help: "Usage units recorded by metric",
			},
			[]string{"metric"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowgate_errors_total",
				Help: "Error responses by taxonomy kind",
			},
			[]string{"kind", "status"},
		),
		UnclassifiedErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flowgate_errors_unclassified_total",
				Help: "Errors that matched no taxonomy rule",
			},
		),
		FailOpenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowgate_fail_open_total",
				Help: "Requests admitted because a backing store was unavailable",
			},
			[]string{"component"},
		),
		TenantResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowgate_tenant_resolutions_total",
				Help: "Tenant resolutions by source",
			},
			[]string{"source"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.RateLimitDecisionsTotal,
		m.CircuitState,
		m.CircuitTransitionsTotal,
		m.RetryAttemptsTotal,
		m.QuotaDecisionsTotal,
		m.UsageRecordedTotal,
		m.ErrorsTotal,
		m.UnclassifiedErrorsTotal,
		m.FailOpenTotal,
		m.TenantResolutionsTotal,
	)

	return m
}

func decision(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "rejected"
}

// RecordRateLimit counts a rate limit decision
func (m *Metrics) RecordRateLimit(class string, allowed bool) {
	if m == nil {
		return
	}
	m.RateLimitDecisionsTotal.WithLabelValues(class, decision(allowed)).Inc()
}

// SetCircuitState exports the current state of a circuit
func (m *Metrics) SetCircuitState(class string, state int) {
	if m == nil {
		return
	}
	m.CircuitState.WithLabelValues(class).Set(float64(state))
}

// RecordCircuitTransition counts a circuit state change
func (m *Metrics) RecordCircuitTransition(class, from, to string) {
	if m == nil {
		return
	}
	m.CircuitTransitionsTotal.WithLabelValues(class, from, to).Inc()
}

// RecordRetryAttempt counts a downstream attempt
func (m *Metrics) RecordRetryAttempt(class, outcome string) {
	if m == nil {
		return
	}
	m.RetryAttemptsTotal.WithLabelValues(class, outcome).Inc()
}

// RecordQuotaDecision counts a quota check
func (m *Metrics) RecordQuotaDecision(metric string, allowed bool) {
	if m == nil {
		return
	}
	m.QuotaDecisionsTotal.WithLabelValues(metric, decision(allowed)).Inc()
}

// RecordUsage adds recorded usage units
func (m *Metrics) RecordUsage(metric string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.UsageRecordedTotal.WithLabelValues(metric).Add(float64(amount))
}

// RecordError counts an error response
func (m *Metrics) RecordError(kind string, status int) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind, strconv.Itoa(status)).Inc()
}

// RecordUnclassifiedError counts an error no taxonomy rule matched
func (m *Metrics) RecordUnclassifiedError() {
	if m == nil {
		return
	}
	m.UnclassifiedErrorsTotal.Inc()
}

// RecordFailOpen counts a request admitted despite a store failure
func (m *Metrics) RecordFailOpen(component string) {
	if m == nil {
		return
	}
	m.FailOpenTotal.WithLabelValues(component).Inc()
}

// RecordTenantResolution counts how a tenant was resolved
func (m *Metrics) RecordTenantResolution(source string) {
	if m == nil {
		return
	}
	m.TenantResolutionsTotal.WithLabelValues(source).Inc()
}

// responseWriter wraps http.ResponseWriter to capture metrics
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records request counts and durations.
// classify maps a request to its endpoint class label.
func HTTPMetricsMiddleware(metrics *Metrics, classify func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			class := classify(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, class, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, class).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

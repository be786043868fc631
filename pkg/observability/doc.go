// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("endpoint_class", "/api/v1/chat").Info("Circuit opened")
//
// Request-scoped logging picks up request, user and tenant identifiers:
//
//	observability.FromContext(r.Context()).Warn("Quota check failed open")
//
// # Prometheus Metrics
//
// Pipeline metrics are registered on a caller-owned registry:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordRateLimit("/api/v1/chat", false)
//
// Every Record method is a no-op on a nil *Metrics, so components accept nil in tests.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version,
//		observability.Dependency{Name: "postgres", Critical: true, Check: db},
//		observability.Dependency{Name: "redis", Check: store},
//	)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "flowgate",
//	}, logger)
//	defer providers.Shutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/middleware: Request pipeline instrumentation
package observability

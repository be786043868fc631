// Package config loads flowgate configuration from environment variables and
// the optional pipeline policy file.
//
// # Environment
//
// Server settings:
//
//	FLOWGATE_HOST="0.0.0.0"
//	FLOWGATE_PORT="8080"
//	FLOWGATE_HEALTH_PORT="9090"
//	FLOWGATE_READ_TIMEOUT="15s"
//	FLOWGATE_WRITE_TIMEOUT="120s"
//
// Storage settings:
//
//	FLOWGATE_POSTGRES_URL="postgres://app@localhost/flowgate"
//	FLOWGATE_POSTGRES_REPLICA_URLS="postgres://replica1/flowgate,postgres://replica2/flowgate"
//	FLOWGATE_POSTGRES_MAINTENANCE_URL="postgres://flowgate_maintenance@localhost/flowgate"  # BYPASSRLS role for report export and purge
//	FLOWGATE_S3_BUCKET="flowgate-reports"   # usage reports, FLOWGATE_REPORTS_DIR for local disk
//	FLOWGATE_REDIS_URL="redis://localhost:6379/0"  # shared state, in-memory when unset
//
// Caller and tenant settings:
//
//	FLOWGATE_JWT_SECRET="..."
//	FLOWGATE_TENANT_INFERENCE="single"  # single, first, none
//	FLOWGATE_REQUIRE_TENANT="true"
//
// Observability settings:
//
//	FLOWGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	FLOWGATE_METRICS_ENABLED="true"
//	FLOWGATE_OTEL_ENABLED="true"
//	FLOWGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Policy File
//
// FLOWGATE_POLICY_FILE points at a YAML file with the per-class tables of the
// request pipeline. Omitted sections keep the built-in defaults:
//
//	rate_limit:
//	  default: {prefix: default, requests: 100, window: 1m}
//	  rules:
//	    - {prefix: /api/v1/chat, requests: 60, window: 1m}
//	circuits:
//	  classes:
//	    /api/v1/chat: {failure_threshold: 10, recovery_timeout: 30s, success_threshold: 3, monitoring_window: 5m}
//	retry:
//	  default: {max_attempts: 3, initial_delay: 500ms, max_delay: 30s, base: 2, attempt_timeout: 60s}
//	quota:
//	  enforcement: hard
//
// With FLOWGATE_WATCH_POLICY set, a PolicyWatcher reloads the file on change
// and applies each valid revision to the running limiter, breaker and retry
// executor.
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	policy, err := config.LoadPolicy(cfg.Pipeline.PolicyFile)
//	if err != nil {
//		log.Fatal(err)
//	}
//	limiter := ratelimit.NewLimiter(store, policy.RateLimit)
package config

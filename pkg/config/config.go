package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/flowgate/pkg/observability"
	"github.com/platinummonkey/flowgate/pkg/sharedstate"
	"github.com/platinummonkey/flowgate/pkg/storage"
	"github.com/platinummonkey/flowgate/pkg/storage/postgres"
	"github.com/platinummonkey/flowgate/pkg/tenant"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration (Postgres and report storage)
	Storage storage.Config

	// Shared state for rate limit windows and circuit records
	SharedState SharedStateConfig

	Auth     AuthConfig
	Tenant   TenantConfig
	Pipeline PipelineConfig
	Jobs     JobsConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s health checks)
	HealthPort string
}

// SharedStateConfig selects the shared store. Redis is used when RedisURL is
// set; otherwise state is kept in process memory.
type SharedStateConfig struct {
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
	KeyPrefix       string
}

// UseRedis reports whether a Redis URL is configured
func (c SharedStateConfig) UseRedis() bool {
	return c.RedisURL != ""
}

// Redis returns the Redis store settings
func (c SharedStateConfig) Redis() sharedstate.RedisConfig {
	return sharedstate.RedisConfig{
		URL:        c.RedisURL,
		Password:   c.RedisPassword,
		DB:         c.RedisDB,
		MaxRetries: c.RedisMaxRetries,
		PoolSize:   c.RedisPoolSize,
		KeyPrefix:  c.KeyPrefix,
	}
}

// AuthConfig holds caller authentication settings
type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTLeeway   time.Duration

	APIKeyCacheSize int
	APIKeyCacheTTL  time.Duration
}

// TenantConfig holds tenant resolution settings
type TenantConfig struct {
	Inference tenant.InferencePolicy
	// RequireTenant rejects non-exempt routes that resolve no tenant
	RequireTenant bool
}

// PipelineConfig holds request pipeline settings
type PipelineConfig struct {
	// PolicyFile is an optional YAML file with rate limit, circuit, retry
	// and quota tables. It is watched for changes when WatchPolicy is set.
	PolicyFile        string
	WatchPolicy       bool
	CompletionTimeout time.Duration
	// PlanCacheTTL bounds how long a subscription snapshot is reused
	PlanCacheTTL time.Duration
}

// JobsConfig holds the schedules of background jobs in cron syntax. An
// empty schedule disables the job.
type JobsConfig struct {
	CompactSchedule       string
	ReportSchedule        string
	PurgeSchedule         string
	ReplicaHealthInterval time.Duration
	UsageEventRetention   time.Duration
	ReportWorkers         int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// OTel returns the OpenTelemetry settings
func (c ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.OTelEnabled,
		Endpoint:       c.OTelEndpoint,
		ServiceName:    c.OTelServiceName,
		ServiceVersion: c.OTelServiceVersion,
		Insecure:       c.OTelInsecure,
		SampleRatio:    c.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		SharedState:   loadSharedStateConfig(),
		Auth:          loadAuthConfig(),
		Tenant:        loadTenantConfig(),
		Pipeline:      loadPipelineConfig(),
		Jobs:          loadJobsConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("FLOWGATE_HOST", "0.0.0.0"),
		Port:            getEnv("FLOWGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("FLOWGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("FLOWGATE_WRITE_TIMEOUT", 120*time.Second),
		IdleTimeout:     getEnvDuration("FLOWGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("FLOWGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("FLOWGATE_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	cfg.PostgresURL = getEnv("FLOWGATE_POSTGRES_URL", "")
	if replicaURLs := getEnv("FLOWGATE_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = postgres.ParseReplicaURLs(replicaURLs)
	}
	cfg.PostgresMaintenanceURL = getEnv("FLOWGATE_POSTGRES_MAINTENANCE_URL", "")
	if maxConns := getEnvInt("FLOWGATE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("FLOWGATE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("FLOWGATE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Report storage
	cfg.S3Endpoint = getEnv("FLOWGATE_S3_ENDPOINT", "")
	cfg.S3Region = getEnv("FLOWGATE_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("FLOWGATE_S3_BUCKET", "")
	cfg.S3AccessKey = getEnv("FLOWGATE_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnv("FLOWGATE_S3_SECRET_KEY", "")
	cfg.S3UsePathStyle = getEnvBool("FLOWGATE_S3_USE_PATH_STYLE", false)
	cfg.S3CreateBucket = getEnvBool("FLOWGATE_S3_CREATE_BUCKET", false)
	cfg.FilesystemRoot = getEnv("FLOWGATE_REPORTS_DIR", "")

	return cfg
}

func loadSharedStateConfig() SharedStateConfig {
	return SharedStateConfig{
		RedisURL:        getEnv("FLOWGATE_REDIS_URL", ""),
		RedisPassword:   getEnv("FLOWGATE_REDIS_PASSWORD", ""),
		RedisDB:         getEnvInt("FLOWGATE_REDIS_DB", 0),
		RedisMaxRetries: getEnvInt("FLOWGATE_REDIS_MAX_RETRIES", 3),
		RedisPoolSize:   getEnvInt("FLOWGATE_REDIS_POOL_SIZE", 10),
		KeyPrefix:       getEnv("FLOWGATE_REDIS_KEY_PREFIX", "flowgate:"),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:       getEnv("FLOWGATE_JWT_SECRET", ""),
		JWTIssuer:       getEnv("FLOWGATE_JWT_ISSUER", ""),
		JWTAudience:     getEnv("FLOWGATE_JWT_AUDIENCE", ""),
		JWTLeeway:       getEnvDuration("FLOWGATE_JWT_LEEWAY", 30*time.Second),
		APIKeyCacheSize: getEnvInt("FLOWGATE_API_KEY_CACHE_SIZE", 10000),
		APIKeyCacheTTL:  getEnvDuration("FLOWGATE_API_KEY_CACHE_TTL", 5*time.Minute),
	}
}

func loadTenantConfig() TenantConfig {
	return TenantConfig{
		Inference:     parseInferencePolicy(getEnv("FLOWGATE_TENANT_INFERENCE", "single")),
		RequireTenant: getEnvBool("FLOWGATE_REQUIRE_TENANT", true),
	}
}

func loadPipelineConfig() PipelineConfig {
	return PipelineConfig{
		PolicyFile:        getEnv("FLOWGATE_POLICY_FILE", ""),
		WatchPolicy:       getEnvBool("FLOWGATE_WATCH_POLICY", true),
		CompletionTimeout: getEnvDuration("FLOWGATE_COMPLETION_TIMEOUT", 5*time.Second),
		PlanCacheTTL:      getEnvDuration("FLOWGATE_PLAN_CACHE_TTL", time.Minute),
	}
}

func loadJobsConfig() JobsConfig {
	return JobsConfig{
		CompactSchedule:       getEnv("FLOWGATE_COMPACT_SCHEDULE", "@every 1m"),
		ReportSchedule:        getEnv("FLOWGATE_REPORT_SCHEDULE", "@daily"),
		PurgeSchedule:         getEnv("FLOWGATE_PURGE_SCHEDULE", "@daily"),
		ReplicaHealthInterval: getEnvDuration("FLOWGATE_REPLICA_HEALTH_INTERVAL", 30*time.Second),
		UsageEventRetention:   getEnvDuration("FLOWGATE_USAGE_EVENT_RETENTION", 90*24*time.Hour),
		ReportWorkers:         getEnvInt("FLOWGATE_REPORT_WORKERS", 4),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	cfg := ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("FLOWGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("FLOWGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("FLOWGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("FLOWGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("FLOWGATE_OTEL_SERVICE_NAME", "flowgate"),
		OTelServiceVersion: getEnv("FLOWGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("FLOWGATE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("FLOWGATE_OTEL_SAMPLE_RATIO", 1.0),
	}

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Storage.S3Bucket != "" && c.Storage.S3Region == "" {
		return fmt.Errorf("S3 region is required when a bucket is configured")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Auth.APIKeyCacheSize <= 0 {
		return fmt.Errorf("API key cache size must be positive")
	}

	if c.Pipeline.CompletionTimeout <= 0 {
		return fmt.Errorf("completion timeout must be positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// parseInferencePolicy parses single, first or none
func parseInferencePolicy(policy string) tenant.InferencePolicy {
	switch strings.ToLower(policy) {
	case "first":
		return tenant.InferFirstMembership
	case "none", "off":
		return tenant.InferNone
	default:
		return tenant.InferSingleMembership
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

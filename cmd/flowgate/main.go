package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/flowgate/pkg/apierrors"
	"github.com/platinummonkey/flowgate/pkg/auth"
	"github.com/platinummonkey/flowgate/pkg/circuit"
	"github.com/platinummonkey/flowgate/pkg/config"
	"github.com/platinummonkey/flowgate/pkg/flows"
	"github.com/platinummonkey/flowgate/pkg/middleware"
	"github.com/platinummonkey/flowgate/pkg/observability"
	"github.com/platinummonkey/flowgate/pkg/ratelimit"
	"github.com/platinummonkey/flowgate/pkg/sharedstate"
	"github.com/platinummonkey/flowgate/pkg/storage"
	"github.com/platinummonkey/flowgate/pkg/storage/postgres"
	"github.com/platinummonkey/flowgate/pkg/tenant"
	"github.com/platinummonkey/flowgate/pkg/usage"
)

var version = "dev"

func main() {
	checkConfig := flag.Bool("check-config", false, "Validate configuration and the policy file, then exit")
	flag.Parse()

	boot := setupLogger(os.Getenv("FLOWGATE_LOG_LEVEL"))

	cfg, err := config.LoadConfig()
	if err != nil {
		boot.Fatalf("Failed to load configuration: %v", err)
	}
	policy, err := config.LoadPolicy(cfg.Pipeline.PolicyFile)
	if err != nil {
		boot.Fatalf("Failed to load policy: %v", err)
	}
	if *checkConfig {
		boot.Info("Configuration is valid")
		return
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "flowgate")
	boot.WithFields(logrus.Fields{
		"version":     version,
		"port":        cfg.Server.Port,
		"health_port": cfg.Server.HealthPort,
		"redis":       cfg.SharedState.UseRedis(),
		"policy_file": cfg.Pipeline.PolicyFile,
	}).Info("Starting flowgate")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)

	// Observability
	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		boot.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Stores
	db, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:     cfg.Storage.PostgresURL,
		ReplicaURLs:    cfg.Storage.PostgresReplicaURLs,
		MaintenanceURL: cfg.Storage.PostgresMaintenanceURL,
		MaxConns:       cfg.Storage.PostgresMaxConns,
		MinConns:       cfg.Storage.PostgresMinConns,
		Timeout:        cfg.Storage.PostgresTimeout,
	}, logger)
	if err != nil {
		boot.Fatalf("Failed to connect to postgres: %v", err)
	}
	shutdown.Register("postgres", func(context.Context) error { return db.Close() })
	db.StartHealthCheckRoutine(ctx, cfg.Jobs.ReplicaHealthInterval)
	if cfg.Storage.PostgresMaintenanceURL == "" {
		boot.Warn("FLOWGATE_POSTGRES_MAINTENANCE_URL is unset, report export and event purge run as the application role")
	}

	state, err := newSharedStore(cfg.SharedState)
	if err != nil {
		boot.Fatalf("Failed to open shared state store: %v", err)
	}
	shutdown.Register("shared state", func(context.Context) error { return state.Close() })

	objects, err := storage.NewObjectStore(ctx, cfg.Storage)
	if err != nil {
		boot.Fatalf("Failed to open report storage: %v", err)
	}

	if providers != nil {
		shutdown.Register("opentelemetry", providers.Shutdown)
	}

	sessions := postgres.NewSessionManager(db.Primary(), logger)
	usageStore := postgres.NewUsageStore(db, sessions)

	// Pipeline components
	classifier := apierrors.NewClassifier(logger, metrics)

	verifier, err := auth.NewJWTVerifier(auth.JWTConfig{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Audience: cfg.Auth.JWTAudience,
		Leeway:   cfg.Auth.JWTLeeway,
	})
	if err != nil {
		boot.Fatalf("Failed to configure JWT verification: %v", err)
	}
	keys := auth.NewTokenManager(postgres.NewAPIKeyStore(db), cfg.Auth.APIKeyCacheSize, cfg.Auth.APIKeyCacheTTL)

	resolverOpts := tenant.DefaultOptions()
	resolverOpts.Policy = cfg.Tenant.Inference

	limiter := ratelimit.NewLimiter(state, policy.RateLimit, ratelimit.WithMetrics(metrics))
	breaker := circuit.NewBreaker(state, policy.Circuits, circuit.WithLogger(logger), circuit.WithMetrics(metrics))
	meter := usage.NewMeter(
		postgres.NewSubscriptionStore(sessions),
		usageStore,
		usage.WithMetrics(metrics),
		usage.WithPlanCache(10000, cfg.Pipeline.PlanCacheTTL),
	)

	pipeline := middleware.New(middleware.Config{
		Classifier:        classifier,
		Authenticator:     auth.NewAuthenticator(verifier, keys, classifier, logger),
		Resolver:          tenant.NewResolver(postgres.NewMembershipStore(db), resolverOpts),
		Limiter:           limiter,
		Breaker:           breaker,
		Retry:             policy.Retry,
		Meter:             meter,
		Quota:             policy.Quota.Routes(),
		Metrics:           metrics,
		Logger:            logger,
		RequireTenant:     cfg.Tenant.RequireTenant,
		Stopping:          shutdown.Stopping(),
		CompletionTimeout: cfg.Pipeline.CompletionTimeout,
	})

	health := observability.NewHealthChecker(version,
		observability.Dependency{Name: "postgres", Critical: true, Check: db},
		observability.Dependency{Name: "shared_state", Critical: cfg.SharedState.UseRedis(), Check: state},
	)

	// Public API. The pipeline runs as router middleware so path variables
	// such as org_id are available to tenant resolution.
	router := mux.NewRouter()
	router.Use(pipeline.Handler)
	router.HandleFunc("/health", health.Liveness).Methods(http.MethodGet)
	flows.NewHandlers(postgres.NewFlowStore(sessions)).RegisterRoutes(router)
	usage.NewHandlers(meter).RegisterRoutes(router)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		classifier.Respond(w, r, apierrors.NotFound("route not found"), 0)
	})

	handler := observability.HTTPMetricsMiddleware(metrics, func(r *http.Request) string {
		return breaker.Table().Class(r.URL.Path)
	})(router)
	server.Handler = otelhttp.NewHandler(handler, "flowgate")

	// Health checks, metrics and circuit administration on the internal port
	admin := mux.NewRouter()
	admin.HandleFunc("/health/live", health.Liveness).Methods(http.MethodGet)
	admin.HandleFunc("/health/ready", health.Readiness).Methods(http.MethodGet)
	admin.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	circuit.NewHandlers(breaker).RegisterRoutes(admin)
	adminServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           admin,
		ReadHeaderTimeout: 5 * time.Second,
	}
	shutdown.Register("admin server", adminServer.Shutdown)

	// Background jobs
	background := jobs{logger: logger, limiter: limiter, usage: usageStore}
	if objects != nil {
		background.exporter = usage.NewExporter(meter, usageStore, objects).WithWorkers(cfg.Jobs.ReportWorkers)
	}
	scheduler := cron.New()
	scheduleJobs(ctx, scheduler, cfg.Jobs, background)
	scheduler.Start()
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if cfg.Pipeline.PolicyFile != "" && cfg.Pipeline.WatchPolicy {
		watcher, err := config.NewPolicyWatcher(cfg.Pipeline.PolicyFile, func(p config.Policy) {
			limiter.SetConfig(p.RateLimit)
			breaker.SetTable(p.Circuits)
			pipeline.SetRetryTable(p.Retry)
		}, logger)
		if err != nil {
			boot.Fatalf("Failed to watch policy file: %v", err)
		}
		go watcher.Run(ctx)
		shutdown.Register("policy watcher", func(context.Context) error { return watcher.Close() })
	}

	go serve(boot, adminServer, "admin")
	go serve(boot, server, "api")

	if err := shutdown.WaitForShutdown(); err != nil {
		boot.WithError(err).Error("Shutdown completed with errors")
		os.Exit(1)
	}
}

func serve(logger *logrus.Logger, srv *http.Server, name string) {
	logger.Infof("Serving %s on %s", name, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("%s server failed: %v", name, err)
	}
}

// newSharedStore opens Redis when configured and falls back to process memory
func newSharedStore(cfg config.SharedStateConfig) (sharedstate.Store, error) {
	if !cfg.UseRedis() {
		return sharedstate.NewMemoryStore(), nil
	}
	return sharedstate.NewRedisStore(cfg.Redis())
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/flowgate/pkg/apierrors"
	"github.com/platinummonkey/flowgate/pkg/async"
	"github.com/platinummonkey/flowgate/pkg/auth"
	"github.com/platinummonkey/flowgate/pkg/circuit"
	"github.com/platinummonkey/flowgate/pkg/contextkeys"
	"github.com/platinummonkey/flowgate/pkg/httputil"
	"github.com/platinummonkey/flowgate/pkg/observability"
	"github.com/platinummonkey/flowgate/pkg/ratelimit"
	"github.com/platinummonkey/flowgate/pkg/retry"
	"github.com/platinummonkey/flowgate/pkg/tenant"
	"github.com/platinummonkey/flowgate/pkg/usage"
)

// DefaultCompletionTimeout bounds circuit and usage recording after a response
const DefaultCompletionTimeout = 5 * time.Second

// Config holds the components of the request pipeline. Authenticator and
// Meter are optional.
type Config struct {
	Classifier    *apierrors.Classifier
	Authenticator *auth.Authenticator
	Resolver      *tenant.Resolver
	Limiter       *ratelimit.Limiter
	Breaker       *circuit.Breaker
	Retry         retry.Table
	Meter         *usage.Meter
	Quota         QuotaPolicy
	Metrics       *observability.Metrics
	Logger        *observability.Logger

	// RequireTenant rejects non-exempt routes that resolve no tenant
	RequireTenant bool
	// Stopping is closed when the process begins shutting down
	Stopping          <-chan struct{}
	CompletionTimeout time.Duration
}

// Pipeline runs every request through the interceptors in a fixed order:
// request id, recovery, authentication, tenant resolution, rate limiting,
// circuit admission, quota check, then the handler under the retry executor.
// Circuit outcomes and usage are recorded once the attempt completes and any
// failure is rendered by the classifier.
type Pipeline struct {
	cfg      Config
	executor *retry.Executor
}

// New creates a pipeline from cfg
func New(cfg Config) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if cfg.Classifier == nil {
		cfg.Classifier = apierrors.NewClassifier(cfg.Logger, cfg.Metrics)
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = DefaultCompletionTimeout
	}
	if cfg.Quota.Enforced == nil && cfg.Quota.Tracked == nil {
		cfg.Quota = DefaultQuotaPolicy()
	}

	p := &Pipeline{cfg: cfg}
	opts := []retry.Option{retry.WithMetrics(cfg.Metrics), retry.WithRecorder(p.complete)}
	if cfg.Breaker != nil {
		opts = append(opts, retry.WithBreaker(cfg.Breaker))
	}
	p.executor = retry.NewExecutor(cfg.Retry, opts...)
	return p
}

// SetRetryTable replaces the per-class retry settings
func (p *Pipeline) SetRetryTable(t retry.Table) {
	p.executor.SetTable(t)
}

// Handler wraps next with the full pipeline
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	chain := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.ExecutionTimeMiddleware,
		httputil.LoggingMiddleware(p.cfg.Logger),
		Recovery(p.cfg.Classifier),
		p.endpointClass,
	}
	if p.cfg.Authenticator != nil {
		chain = append(chain, p.cfg.Authenticator.Middleware)
	}
	chain = append(chain, tenant.Middleware(p.cfg.Resolver, p.cfg.Classifier, p.cfg.Metrics))
	if p.cfg.RequireTenant {
		chain = append(chain, p.requireTenant)
	}
	if p.cfg.Limiter != nil {
		chain = append(chain, ratelimit.Middleware(p.cfg.Limiter, p.cfg.Classifier))
	}
	if p.cfg.Breaker != nil {
		chain = append(chain, p.circuitAdmission)
	}
	if p.cfg.Meter != nil {
		chain = append(chain, p.quotaCheck)
	}
	chain = append(chain, p.resilient)

	return httputil.Chain(chain...)(next)
}

// endpointClass tags the request with its circuit class for the stages below and for logs
func (p *Pipeline) endpointClass(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := circuit.DefaultClass
		if p.cfg.Breaker != nil {
			class = p.cfg.Breaker.Table().Class(r.URL.Path)
		} else if t := p.executor.Table(); len(t.Classes) > 0 {
			class = longestPrefix(r.URL.Path, t.Classes)
		}
		next.ServeHTTP(w, r.WithContext(contextkeys.WithEndpointClass(r.Context(), class)))
	})
}

func (p *Pipeline) requireTenant(next http.Handler) http.Handler {
	require := tenant.Require(p.cfg.Classifier)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.cfg.Resolver.IsExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		require.ServeHTTP(w, r)
	})
}

func (p *Pipeline) circuitAdmission(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		class := contextkeys.GetEndpointClass(r.Context())

		adm, err := p.cfg.Breaker.Allow(r.Context(), class)
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("Circuit breaker failed open")
		}
		if !adm.Allowed {
			p.cfg.Classifier.Respond(w, r, adm.Err(class), 0)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// complete runs completion work detached from the client, skipping it only
// when the process is stopping
func (p *Pipeline) complete(ctx context.Context, name string, fn func(context.Context) error) error {
	return async.Complete(ctx, p.cfg.Stopping, p.cfg.CompletionTimeout, name, fn)
}

func longestPrefix[V any](path string, classes map[string]V) string {
	best := circuit.DefaultClass
	for prefix := range classes {
		if strings.HasPrefix(path, prefix) && (best == circuit.DefaultClass || len(prefix) > len(best)) {
			best = prefix
		}
	}
	return best
}

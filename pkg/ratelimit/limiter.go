package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/flowgate/pkg/observability"
	"github.com/platinummonkey/flowgate/pkg/sharedstate"
)

// Decision is the outcome of an admission check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfterSeconds is set on rejection, at least 1
	RetryAfterSeconds int
}

// Limiter is a sliding window rate limiter over a shared store. Windows are
// kept per client and endpoint class so limits hold across server processes.
type Limiter struct {
	store   sharedstate.Store
	config  atomic.Pointer[Config]
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithMetrics records decisions in metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter backed by store
func NewLimiter(store sharedstate.Store, config Config, opts ...Option) *Limiter {
	l := &Limiter{
		store: store,
		now:   time.Now,
	}
	l.config.Store(&config)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the active rate limit table
func (l *Limiter) Config() Config {
	return *l.config.Load()
}

// SetConfig replaces the rate limit table. Windows already in the store keep
// their entries and are judged against the new limits from the next request.
func (l *Limiter) SetConfig(config Config) {
	l.config.Store(&config)
}

// Admit records a request of clientID against the window of endpointClass.
// On store failure the request is admitted and the error returned so the
// caller can log it.
func (l *Limiter) Admit(ctx context.Context, clientID, endpointClass string) (Decision, error) {
	rule := l.Config().Lookup(endpointClass)
	now := l.now()

	res, err := l.store.SlidingWindow(ctx, windowKey(clientID, endpointClass), now, rule.Window, rule.Requests)
	if err != nil {
		l.metrics.RecordFailOpen("ratelimit")
		return Decision{
			Allowed:   true,
			Limit:     rule.Requests,
			Remaining: rule.Requests,
			ResetAt:   now.Add(rule.Window),
		}, fmt.Errorf("rate limit store unavailable: %w", err)
	}

	d := Decision{
		Allowed: res.Allowed,
		Limit:   rule.Requests,
		ResetAt: now.Add(rule.Window),
	}
	if !res.Oldest.IsZero() {
		d.ResetAt = res.Oldest.Add(rule.Window)
	}

	if res.Allowed {
		d.Remaining = max(0, rule.Requests-res.Count)
	} else {
		d.RetryAfterSeconds = max(1, int(math.Ceil(d.ResetAt.Sub(now).Seconds())))
	}

	l.metrics.RecordRateLimit(endpointClass, d.Allowed)
	return d, nil
}

// Compact drops windows idle for longer than the configured idle TTL
func (l *Limiter) Compact(ctx context.Context) (int, error) {
	idle := l.Config().IdleTTL
	if idle <= 0 {
		idle = time.Hour
	}
	return l.store.Compact(ctx, idle)
}

func windowKey(clientID, class string) string {
	return clientID + ":" + class
}

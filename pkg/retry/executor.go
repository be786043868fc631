package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/flowgate/pkg/apierrors"
	"github.com/platinummonkey/flowgate/pkg/circuit"
	"github.com/platinummonkey/flowgate/pkg/observability"
)

// MinDelay is the smallest delay between attempts
const MinDelay = 100 * time.Millisecond

// Func performs one attempt and returns the downstream status
type Func func(ctx context.Context) (int, error)

// Breaker is the circuit breaker consulted between attempts
type Breaker interface {
	Allow(ctx context.Context, class string) (circuit.Admission, error)
	RecordSuccess(ctx context.Context, class string) error
	RecordFailure(ctx context.Context, class string) error
}

// Result describes a finished execution
type Result struct {
	// Status of the last attempt, zero when it failed without a response
	Status   int
	Attempts int
	Elapsed  time.Duration
}

// Executor retries failed downstream calls with exponential backoff
type Executor struct {
	table   atomic.Pointer[Table]
	breaker Breaker
	metrics *observability.Metrics
	// record runs circuit outcome recording, detached from the request
	record func(ctx context.Context, name string, fn func(context.Context) error) error
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// Option configures an Executor
type Option func(*Executor)

// WithBreaker records attempt outcomes in b and consults it before retries
func WithBreaker(b Breaker) Option {
	return func(e *Executor) { e.breaker = b }
}

// WithMetrics counts attempts
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithRecorder sets how circuit outcomes are recorded, e.g. through async.Complete
func WithRecorder(fn func(ctx context.Context, name string, record func(context.Context) error) error) Option {
	return func(e *Executor) { e.record = fn }
}

// NewExecutor creates an executor with per-class settings
func NewExecutor(table Table, opts ...Option) *Executor {
	e := &Executor{
		record: func(ctx context.Context, name string, fn func(context.Context) error) error {
			return fn(ctx)
		},
		sleep: sleepContext,
		// #nosec G404 -- jitter is non-cryptographic timing variance
		jitter: rand.Float64,
	}
	e.table.Store(&table)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Table returns the configured retry settings
func (e *Executor) Table() Table {
	return *e.table.Load()
}

// SetTable replaces the per-class settings for requests that start afterwards
func (e *Executor) SetTable(table Table) {
	e.table.Store(&table)
}

// Do runs fn until it succeeds, fails with a non-retryable outcome or the
// class runs out of attempts. A status below 500 is success. The error of the
// last failed attempt is returned; a bare 5xx status becomes an
// *apierrors.StatusError.
func (e *Executor) Do(ctx context.Context, class string, fn Func) (Result, error) {
	cfg := e.Table().For(class)
	start := time.Now()
	logger := observability.FromContext(ctx)

	var res Result
	var lastErr error

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if !e.admitted(ctx, class) {
				break
			}
			delay := Delay(cfg, attempt-1, e.jitter())
			logger.WithFields(map[string]interface{}{
				"attempt": attempt + 1,
				"delay":   delay.String(),
				"error":   errorString(lastErr),
			}).Info("Retrying downstream call")
			if err := e.sleep(ctx, delay); err != nil {
				break
			}
		}

		res.Attempts = attempt + 1
		status, err := e.attempt(ctx, class, cfg, res.Attempts, fn)
		res.Status = status

		retryable, callerGone := classify(ctx, status, err)
		if callerGone {
			e.metrics.RecordRetryAttempt(class, "canceled")
			res.Elapsed = time.Since(start)
			return res, err
		}
		if !retryable {
			e.metrics.RecordRetryAttempt(class, "success")
			e.outcome(ctx, class, true)
			res.Elapsed = time.Since(start)
			return res, err
		}

		e.metrics.RecordRetryAttempt(class, "failure")
		e.outcome(ctx, class, false)
		lastErr = err
		if lastErr == nil {
			lastErr = &apierrors.StatusError{Status: status}
		}
	}

	res.Elapsed = time.Since(start)
	return res, lastErr
}

func (e *Executor) attempt(ctx context.Context, class string, cfg Config, n int, fn Func) (int, error) {
	ctx, span := observability.StartSpan(ctx, "retry.attempt",
		attribute.String("endpoint_class", class),
		attribute.Int("attempt", n),
	)
	attemptCtx, cancel := context.WithTimeout(ctx, cfg.AttemptTimeout)
	defer cancel()

	status, err := fn(attemptCtx)
	if err == nil && status >= http.StatusInternalServerError {
		observability.EndSpan(span, fmt.Errorf("downstream status %d", status))
	} else {
		observability.EndSpan(span, err)
	}
	return status, err
}

// classify reports whether an attempt outcome may be retried, and whether the
// caller itself went away
func classify(ctx context.Context, status int, err error) (retryable, callerGone bool) {
	if ctx.Err() != nil {
		return false, true
	}
	if err != nil {
		// Attempt timeouts and transport failures are retried, client errors are not
		if status > 0 && status < http.StatusInternalServerError {
			return false, false
		}
		return true, false
	}
	return status >= http.StatusInternalServerError, false
}

func (e *Executor) admitted(ctx context.Context, class string) bool {
	if e.breaker == nil {
		return true
	}
	adm, err := e.breaker.Allow(ctx, class)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Circuit check failed open")
	}
	return adm.Allowed
}

func (e *Executor) outcome(ctx context.Context, class string, success bool) {
	if e.breaker == nil {
		return
	}
	name := "record circuit failure"
	record := e.breaker.RecordFailure
	if success {
		name = "record circuit success"
		record = e.breaker.RecordSuccess
	}
	if err := e.record(ctx, name, func(ctx context.Context) error {
		return record(ctx, class)
	}); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Failed to record circuit outcome")
	}
}

// Delay returns the backoff before retry n (0-based). jitter in [0,1) maps to
// a uniform +/-25% spread around the exponential delay.
func Delay(cfg Config, n int, jitter float64) time.Duration {
	base := float64(cfg.InitialDelay) * math.Pow(cfg.Base, float64(n))
	if cfg.MaxDelay > 0 && base > float64(cfg.MaxDelay) {
		base = float64(cfg.MaxDelay)
	}
	delay := time.Duration(base + base*0.25*(2*jitter-1))
	if delay < MinDelay {
		delay = MinDelay
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

package circuit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/flowgate/pkg/apierrors"
	"github.com/platinummonkey/flowgate/pkg/observability"
	"github.com/platinummonkey/flowgate/pkg/sharedstate"
)

// ErrOpen is returned when an open circuit rejects a request
var ErrOpen = errors.New("circuit breaker is open")

// Admission is the outcome of Allow
type Admission struct {
	Allowed bool
	State   State
	// RetryAfterSeconds is the remaining recovery time of an open circuit
	RetryAfterSeconds int
}

// Err returns the rejection as a ServiceUnavailable error, or nil when admitted
func (a Admission) Err(class string) error {
	if a.Allowed {
		return nil
	}
	return &apierrors.Error{
		Kind:              apierrors.KindServiceUnavailable,
		Reason:            "circuit open for " + class,
		RetryAfterSeconds: a.RetryAfterSeconds,
		Err:               ErrOpen,
	}
}

// Breaker is a circuit breaker whose state lives in a shared store, so every
// server process sees the same state for an endpoint class.
type Breaker struct {
	store   sharedstate.Store
	table   atomic.Pointer[Table]
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures a Breaker
type Option func(*Breaker)

// WithLogger sets the logger for state changes
func WithLogger(l *observability.Logger) Option {
	return func(b *Breaker) { b.logger = l }
}

// WithMetrics exports state changes
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Breaker) { b.metrics = m }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// NewBreaker creates a breaker over store
func NewBreaker(store sharedstate.Store, table Table, opts ...Option) *Breaker {
	b := &Breaker{
		store: store,
		now:   time.Now,
	}
	b.table.Store(&table)
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return b
}

// Table returns the configured thresholds
func (b *Breaker) Table() Table {
	return *b.table.Load()
}

// SetTable replaces the thresholds. Stored records are kept and judged
// against the new thresholds on their next transition.
func (b *Breaker) SetTable(table Table) {
	b.table.Store(&table)
}

func recordKey(class string) string {
	return "circuit:" + class
}

// Allow decides whether a request of class may proceed. An open circuit whose
// recovery timeout elapsed moves to half-open and admits the request. Store
// failures admit the request and are returned for logging.
func (b *Breaker) Allow(ctx context.Context, class string) (Admission, error) {
	cfg := b.Table().For(class)

	data, err := b.store.Get(ctx, recordKey(class))
	if errors.Is(err, sharedstate.ErrNotFound) {
		return Admission{Allowed: true, State: StateClosed}, nil
	}
	if err != nil {
		return b.failOpen(fmt.Errorf("failed to read circuit %s: %w", class, err))
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return b.failOpen(err)
	}

	now := b.now()
	if rec.State != StateOpen {
		return Admission{Allowed: true, State: rec.State}, nil
	}
	if remaining := cfg.RecoveryTimeout - now.Sub(rec.LastFailureTime); remaining > 0 {
		return Admission{
			Allowed:           false,
			State:             StateOpen,
			RetryAfterSeconds: max(1, int(math.Ceil(remaining.Seconds()))),
		}, nil
	}

	var tr transition
	updated, err := b.store.Update(ctx, recordKey(class), cfg.recordTTL(), func(current []byte, exists bool) ([]byte, error) {
		tr = transition{}
		if !exists {
			return nil, nil
		}
		rec, err := decodeRecord(current)
		if err != nil {
			return nil, err
		}
		if rec.State == StateOpen && now.Sub(rec.LastFailureTime) >= cfg.RecoveryTimeout {
			tr = transition{from: StateOpen, to: StateHalfOpen}
			rec.State = StateHalfOpen
			rec.SuccessCount = 0
			rec.UpdatedAt = now
		}
		return rec.encode()
	})
	if err != nil {
		return b.failOpen(fmt.Errorf("failed to update circuit %s: %w", class, err))
	}
	b.observe(ctx, class, tr)

	state := StateClosed
	if updated != nil {
		if rec, err := decodeRecord(updated); err == nil {
			state = rec.State
		}
	}
	return Admission{Allowed: true, State: state}, nil
}

// RecordSuccess records a successful downstream outcome for class
func (b *Breaker) RecordSuccess(ctx context.Context, class string) error {
	// Successes only matter while probing, skip the write otherwise
	data, err := b.store.Get(ctx, recordKey(class))
	if errors.Is(err, sharedstate.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read circuit %s: %w", class, err)
	}
	if rec, err := decodeRecord(data); err == nil && rec.State != StateHalfOpen {
		return nil
	}

	cfg := b.Table().For(class)
	now := b.now()

	var tr transition
	_, err = b.store.Update(ctx, recordKey(class), cfg.recordTTL(), func(current []byte, exists bool) ([]byte, error) {
		tr = transition{}
		if !exists {
			return nil, nil
		}
		rec, err := decodeRecord(current)
		if err != nil {
			return nil, err
		}
		if rec.State != StateHalfOpen {
			return current, nil
		}

		rec.SuccessCount++
		rec.UpdatedAt = now
		if rec.SuccessCount >= cfg.SuccessThreshold {
			tr = transition{from: StateHalfOpen, to: StateClosed}
			// A closed circuit with no failures is the absent record
			return nil, nil
		}
		return rec.encode()
	})
	if err != nil {
		return fmt.Errorf("failed to update circuit %s: %w", class, err)
	}
	b.observe(ctx, class, tr)
	return nil
}

// RecordFailure records a failed downstream outcome for class
func (b *Breaker) RecordFailure(ctx context.Context, class string) error {
	cfg := b.Table().For(class)
	now := b.now()

	var tr transition
	var failures int
	_, err := b.store.Update(ctx, recordKey(class), cfg.recordTTL(), func(current []byte, exists bool) ([]byte, error) {
		tr = transition{}
		rec := Record{State: StateClosed}
		if exists {
			var err error
			if rec, err = decodeRecord(current); err != nil {
				return nil, err
			}
		}

		// Failures outside the monitoring window no longer count
		if rec.State == StateClosed && !rec.LastFailureTime.IsZero() && now.Sub(rec.LastFailureTime) >= cfg.MonitoringWindow {
			rec.FailureCount = 0
		}

		rec.FailureCount++
		rec.SuccessCount = 0
		rec.LastFailureTime = now
		rec.UpdatedAt = now

		switch rec.State {
		case StateHalfOpen:
			tr = transition{from: StateHalfOpen, to: StateOpen}
			rec.State = StateOpen
		case StateClosed:
			if rec.FailureCount >= cfg.FailureThreshold {
				tr = transition{from: StateClosed, to: StateOpen}
				rec.State = StateOpen
			}
		}
		failures = rec.FailureCount
		return rec.encode()
	})
	if err != nil {
		return fmt.Errorf("failed to update circuit %s: %w", class, err)
	}
	if tr.changed() {
		b.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"endpoint_class": class,
			"failure_count":  failures,
		}).Warnf("Circuit %s -> %s", tr.from, tr.to)
		b.metrics.SetCircuitState(class, int(tr.to))
		b.metrics.RecordCircuitTransition(class, tr.from.String(), tr.to.String())
	}
	return nil
}

// State returns the current record of class. Absent records are closed.
func (b *Breaker) State(ctx context.Context, class string) (Record, error) {
	data, err := b.store.Get(ctx, recordKey(class))
	if errors.Is(err, sharedstate.ErrNotFound) {
		return Record{State: StateClosed}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read circuit %s: %w", class, err)
	}
	return decodeRecord(data)
}

// Reset force-closes the circuit of class
func (b *Breaker) Reset(ctx context.Context, class string) error {
	rec, err := b.State(ctx, class)
	if err != nil {
		return err
	}
	if err := b.store.Delete(ctx, recordKey(class)); err != nil {
		return fmt.Errorf("failed to reset circuit %s: %w", class, err)
	}
	b.observe(ctx, class, transition{from: rec.State, to: StateClosed})
	return nil
}

// List returns the status of the default class and every configured class
func (b *Breaker) List(ctx context.Context) ([]Status, error) {
	table := b.Table()
	classes := make([]string, 0, len(table.Classes)+1)
	classes = append(classes, DefaultClass)
	for class := range table.Classes {
		classes = append(classes, class)
	}
	sort.Strings(classes[1:])

	statuses := make([]Status, 0, len(classes))
	for _, class := range classes {
		rec, err := b.State(ctx, class)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, Status{
			Class:           class,
			State:           rec.State,
			FailureCount:    rec.FailureCount,
			SuccessCount:    rec.SuccessCount,
			LastFailureTime: rec.LastFailureTime,
			Config:          table.For(class),
		})
	}
	return statuses, nil
}

func (b *Breaker) failOpen(err error) (Admission, error) {
	b.metrics.RecordFailOpen("circuit")
	return Admission{Allowed: true, State: StateClosed}, err
}

type transition struct {
	from, to State
}

func (t transition) changed() bool {
	return t.from != t.to
}

func (b *Breaker) observe(ctx context.Context, class string, tr transition) {
	if !tr.changed() {
		return
	}
	b.logger.WithContext(ctx).WithField("endpoint_class", class).Infof("Circuit %s -> %s", tr.from, tr.to)
	b.metrics.SetCircuitState(class, int(tr.to))
	b.metrics.RecordCircuitTransition(class, tr.from.String(), tr.to.String())
}

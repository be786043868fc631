package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/flowgate/pkg/apierrors"
	"github.com/platinummonkey/flowgate/pkg/observability"
	"github.com/platinummonkey/flowgate/pkg/storage/postgres"
)

var (
	// ErrQuotaExceeded is wrapped by errors returned for denied usage
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrDuplicateUsage means the idempotency key was already recorded.
	// Callers treat it as success.
	ErrDuplicateUsage = errors.New("usage already recorded")
)

// SubscriptionStore loads the active subscription of a tenant
type SubscriptionStore interface {
	ActiveSubscription(ctx context.Context, tenantID string) (*postgres.Subscription, error)
}

// CounterStore reads and records usage counters
type CounterStore interface {
	Used(ctx context.Context, tenantID, metric string, periodStart time.Time) (int64, error)
	UsedAll(ctx context.Context, tenantID string, periodStart time.Time) (map[string]int64, error)
	Record(ctx context.Context, event postgres.UsageEvent) error
}

// Enforcement decides what happens when a quota check denies usage
type Enforcement int

const (
	// EnforcementHard rejects the request
	EnforcementHard Enforcement = iota
	// EnforcementSoft meters the request and logs the overage
	EnforcementSoft
)

// QuotaInfo is the state of one metric quota in the current period
type QuotaInfo struct {
	MetricType string `json:"metric_type"`
	Used       int64  `json:"used"`
	Limit      int64  `json:"limit"`
	// Remaining is -1 for unlimited quotas
	Remaining   int64     `json:"remaining"`
	Unlimited   bool      `json:"unlimited"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
}

// Allows reports whether amount more units fit in the quota
func (q QuotaInfo) Allows(amount int64) bool {
	return q.Unlimited || q.Used+amount <= q.Limit
}

// UsageRecord is one consumption to meter
type UsageRecord struct {
	TenantID   string
	MetricType string
	Amount     int64
	// IdempotencyKey deduplicates retried recordings, generated when empty
	IdempotencyKey string
	Metadata       map[string]interface{}
}

// plan is the cached quota snapshot of a tenant
type plan struct {
	ID          string
	Limits      map[string]int64
	PeriodStart time.Time
	PeriodEnd   time.Time
}

func (p *plan) quota(metric string, used int64) QuotaInfo {
	limit := p.Limits[metric]
	info := QuotaInfo{
		MetricType:  metric,
		Used:        used,
		Limit:       limit,
		Unlimited:   limit == Unlimited,
		PeriodStart: p.PeriodStart,
		PeriodEnd:   p.PeriodEnd,
	}
	if info.Unlimited {
		info.Remaining = -1
	} else {
		info.Remaining = max(0, limit-used)
	}
	return info
}

// Meter checks quotas and records usage against tenant subscriptions
type Meter struct {
	subscriptions SubscriptionStore
	counters      CounterStore
	plans         *expirable.LRU[string, *plan]
	metrics       *observability.Metrics
	now           func() time.Time
}

// Option configures a Meter
type Option func(*Meter)

// WithMetrics records quota decisions and usage in metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(mt *Meter) { mt.metrics = m }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(mt *Meter) { mt.now = now }
}

// WithPlanCache sets the size and TTL of the subscription cache
func WithPlanCache(size int, ttl time.Duration) Option {
	return func(mt *Meter) { mt.plans = expirable.NewLRU[string, *plan](size, nil, ttl) }
}

// NewMeter creates a meter. Subscriptions are cached for a minute by default.
func NewMeter(subscriptions SubscriptionStore, counters CounterStore, opts ...Option) *Meter {
	m := &Meter{
		subscriptions: subscriptions,
		counters:      counters,
		plans:         expirable.NewLRU[string, *plan](10000, nil, time.Minute),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// plan returns the tenant's limits and billing period. Tenants without a
// subscription get the free plan over the current calendar month.
func (m *Meter) plan(ctx context.Context, tenantID string) (*plan, error) {
	if p, ok := m.plans.Get(tenantID); ok && m.now().Before(p.PeriodEnd) {
		return p, nil
	}

	sub, err := m.subscriptions.ActiveSubscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var p *plan
	if sub == nil || sub.PeriodEnd.IsZero() || !m.now().Before(sub.PeriodEnd) {
		start, end := CalendarMonth(m.now())
		p = &plan{ID: FreePlanID, Limits: FreePlanLimits(), PeriodStart: start, PeriodEnd: end}
		if sub != nil {
			p.ID = sub.PlanID
			p.Limits = sub.Limits
		}
	} else {
		p = &plan{ID: sub.PlanID, Limits: sub.Limits, PeriodStart: sub.PeriodStart, PeriodEnd: sub.PeriodEnd}
	}
	m.plans.Add(tenantID, p)
	return p, nil
}

// Invalidate drops the cached plan of tenantID, e.g. after a plan change
func (m *Meter) Invalidate(tenantID string) {
	m.plans.Remove(tenantID)
}

// CheckQuota reports whether amount more units of metric are within the
// tenant's quota. When the stores fail the usage is allowed and the error is
// returned for logging.
func (m *Meter) CheckQuota(ctx context.Context, tenantID, metric string, amount int64) (bool, QuotaInfo, error) {
	ctx, span := observability.StartSpan(ctx, "usage.check_quota",
		attribute.String("tenant_id", tenantID),
		attribute.String("metric", metric),
	)

	info, err := m.quota(ctx, tenantID, metric)
	if err != nil {
		observability.EndSpan(span, err)
		m.metrics.RecordFailOpen("quota")
		return true, QuotaInfo{MetricType: metric}, fmt.Errorf("quota check for %s failed: %w", tenantID, err)
	}
	observability.EndSpan(span, nil)

	allowed := info.Allows(amount)
	m.metrics.RecordQuotaDecision(metric, allowed)
	return allowed, info, nil
}

func (m *Meter) quota(ctx context.Context, tenantID, metric string) (QuotaInfo, error) {
	p, err := m.plan(ctx, tenantID)
	if err != nil {
		return QuotaInfo{}, err
	}
	used, err := m.counters.Used(ctx, tenantID, metric, p.PeriodStart)
	if err != nil {
		return QuotaInfo{}, err
	}
	return p.quota(metric, used), nil
}

// Enforce checks the quota and applies the enforcement policy. A hard denial
// returns a rate limit error wrapping ErrQuotaExceeded; a soft denial is
// logged and allowed.
func (m *Meter) Enforce(ctx context.Context, tenantID, metric string, amount int64, policy Enforcement) (QuotaInfo, error) {
	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"tenant_id": tenantID,
		"metric":    metric,
	})

	allowed, info, err := m.CheckQuota(ctx, tenantID, metric, amount)
	if err != nil {
		logger.WithError(err).Warn("Quota check failed open")
		return info, nil
	}
	if allowed {
		return info, nil
	}
	if policy == EnforcementSoft {
		logger.WithFields(map[string]interface{}{
			"used":  info.Used,
			"limit": info.Limit,
		}).Warn("Usage over quota")
		return info, nil
	}

	qerr := apierrors.Wrap(apierrors.KindRateLimit, ErrQuotaExceeded, fmt.Sprintf("%s quota exceeded", metric))
	qerr.RetryAfterSeconds = max(1, int(info.PeriodEnd.Sub(m.now()).Seconds()))
	return info, qerr
}

// RecordUsage adds a consumption to the tenant's counter for the current
// period. A repeated idempotency key returns ErrDuplicateUsage and does not
// count twice. Overage is recorded and logged.
func (m *Meter) RecordUsage(ctx context.Context, rec UsageRecord) error {
	if rec.TenantID == "" || rec.MetricType == "" {
		return errors.New("usage record requires a tenant and a metric")
	}
	if rec.IdempotencyKey == "" {
		rec.IdempotencyKey = uuid.NewString()
	}

	logger := observability.FromContext(ctx).WithFields(map[string]interface{}{
		"tenant_id": rec.TenantID,
		"metric":    rec.MetricType,
	})

	now := m.now()
	periodStart, _ := CalendarMonth(now)
	if p, err := m.plan(ctx, rec.TenantID); err != nil {
		logger.WithError(err).Warn("Failed to load plan, recording against the calendar month")
	} else {
		periodStart = p.PeriodStart
		if rec.Amount > 0 {
			if used, err := m.counters.Used(ctx, rec.TenantID, rec.MetricType, periodStart); err == nil {
				if info := p.quota(rec.MetricType, used); !info.Allows(rec.Amount) {
					logger.WithFields(map[string]interface{}{
						"used":   used,
						"limit":  info.Limit,
						"amount": rec.Amount,
					}).Warn("Recording usage over quota")
				}
			}
		}
	}

	err := m.counters.Record(ctx, postgres.UsageEvent{
		TenantID:       rec.TenantID,
		MetricType:     rec.MetricType,
		Amount:         rec.Amount,
		IdempotencyKey: rec.IdempotencyKey,
		Metadata:       rec.Metadata,
		PeriodStart:    periodStart,
		RecordedAt:     now.UTC(),
	})
	if errors.Is(err, postgres.ErrDuplicateEvent) {
		logger.WithField("idempotency_key", rec.IdempotencyKey).Debug("Usage already recorded")
		return ErrDuplicateUsage
	}
	if err != nil {
		return fmt.Errorf("failed to record %s usage: %w", rec.MetricType, err)
	}

	m.metrics.RecordUsage(rec.MetricType, rec.Amount)
	return nil
}

// TrackAPICall records one api call against endpoint
func (m *Meter) TrackAPICall(ctx context.Context, tenantID, endpoint, callerID, key string) error {
	return m.RecordUsage(ctx, UsageRecord{
		TenantID:       tenantID,
		MetricType:     MetricAPICalls,
		Amount:         1,
		IdempotencyKey: key,
		Metadata: map[string]interface{}{
			"endpoint": endpoint,
			"user_id":  callerID,
		},
	})
}

// TrackFlowExecution records a flow run and the compute minutes it used,
// at least one minute per run
func (m *Meter) TrackFlowExecution(ctx context.Context, tenantID, flowID string, elapsed time.Duration, key string) error {
	metadata := map[string]interface{}{
		"flow_id":           flowID,
		"execution_time_ms": elapsed.Milliseconds(),
	}
	if err := m.RecordUsage(ctx, UsageRecord{
		TenantID:       tenantID,
		MetricType:     MetricFlowExecutions,
		Amount:         1,
		IdempotencyKey: derivedKey(key, MetricFlowExecutions),
		Metadata:       metadata,
	}); err != nil && !errors.Is(err, ErrDuplicateUsage) {
		return err
	}
	return m.RecordUsage(ctx, UsageRecord{
		TenantID:       tenantID,
		MetricType:     MetricComputeMinutes,
		Amount:         ComputeMinutes(elapsed),
		IdempotencyKey: derivedKey(key, MetricComputeMinutes),
		Metadata:       metadata,
	})
}

// TrackStorage records sizeMB megabytes of stored files
func (m *Meter) TrackStorage(ctx context.Context, tenantID string, sizeMB int64, fileType, key string) error {
	return m.RecordUsage(ctx, UsageRecord{
		TenantID:       tenantID,
		MetricType:     MetricStorageMB,
		Amount:         sizeMB,
		IdempotencyKey: key,
		Metadata:       map[string]interface{}{"file_type": fileType, "size_mb": sizeMB},
	})
}

// TrackTeamMember adjusts the team member count by delta, +1 or -1
func (m *Meter) TrackTeamMember(ctx context.Context, tenantID, memberID string, delta int64, key string) error {
	if delta != 1 && delta != -1 {
		return fmt.Errorf("team member delta must be +1 or -1, got %d", delta)
	}
	action := "add"
	if delta < 0 {
		action = "remove"
	}
	return m.RecordUsage(ctx, UsageRecord{
		TenantID:       tenantID,
		MetricType:     MetricTeamMembers,
		Amount:         delta,
		IdempotencyKey: key,
		Metadata:       map[string]interface{}{"action": action, "member_user_id": memberID},
	})
}

// ComputeMinutes converts a run duration to billed minutes, at least one
func ComputeMinutes(elapsed time.Duration) int64 {
	return max(1, elapsed.Milliseconds()/60000)
}

func derivedKey(key, metric string) string {
	if key == "" {
		return ""
	}
	return key + ":" + metric
}

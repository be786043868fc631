package usage

import (
	"context"
	"fmt"
	"time"
)

// Alert thresholds as a percentage of the limit
const (
	WarningThreshold  = 80.0
	CriticalThreshold = 95.0
)

// Alert severities
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Summary is every metric quota of a tenant in its current period
type Summary struct {
	TenantID    string      `json:"organization_id"`
	PlanID      string      `json:"plan_id"`
	PeriodStart time.Time   `json:"period_start"`
	PeriodEnd   time.Time   `json:"period_end"`
	Metrics     []QuotaInfo `json:"metrics"`
}

// Alert flags a metric close to its limit
type Alert struct {
	MetricType      string  `json:"metric_type"`
	UsagePercentage float64 `json:"usage_percentage"`
	Used            int64   `json:"current_usage"`
	Limit           int64   `json:"limit"`
	Severity        string  `json:"severity"`
	Message         string  `json:"message"`
}

// Summary returns the tenant's quotas for all metrics
func (m *Meter) Summary(ctx context.Context, tenantID string) (Summary, error) {
	p, err := m.plan(ctx, tenantID)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load plan of %s: %w", tenantID, err)
	}
	used, err := m.counters.UsedAll(ctx, tenantID, p.PeriodStart)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load usage of %s: %w", tenantID, err)
	}

	s := Summary{
		TenantID:    tenantID,
		PlanID:      p.ID,
		PeriodStart: p.PeriodStart,
		PeriodEnd:   p.PeriodEnd,
		Metrics:     make([]QuotaInfo, 0, len(Metrics)),
	}
	for _, metric := range Metrics {
		s.Metrics = append(s.Metrics, p.quota(metric, used[metric]))
	}
	return s, nil
}

// Alerts returns an alert for every limited metric at or above the warning threshold
func (m *Meter) Alerts(ctx context.Context, tenantID string) ([]Alert, error) {
	return m.AlertsAt(ctx, tenantID, WarningThreshold)
}

// AlertsAt is Alerts with a custom warning threshold in percent. Metrics at
// or above CriticalThreshold are critical whatever the warning threshold.
func (m *Meter) AlertsAt(ctx context.Context, tenantID string, warning float64) ([]Alert, error) {
	s, err := m.Summary(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return alertsFor(s, warning), nil
}

func alertsFor(s Summary, warning float64) []Alert {
	alerts := []Alert{}
	for _, q := range s.Metrics {
		pct, ok := percentage(q)
		if !ok || pct < warning {
			continue
		}
		severity := SeverityWarning
		if pct >= CriticalThreshold {
			severity = SeverityCritical
		}
		alerts = append(alerts, Alert{
			MetricType:      q.MetricType,
			UsagePercentage: pct,
			Used:            q.Used,
			Limit:           q.Limit,
			Severity:        severity,
			Message:         fmt.Sprintf("%s usage is at %.1f%% of quota", q.MetricType, pct),
		})
	}
	return alerts
}

// percentage is undefined for unlimited and zero limits
func percentage(q QuotaInfo) (float64, bool) {
	if q.Unlimited || q.Limit <= 0 {
		return 0, false
	}
	return float64(q.Used) * 100 / float64(q.Limit), true
}

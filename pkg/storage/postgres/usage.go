package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateEvent is returned when a usage event with the same idempotency key was already recorded
var ErrDuplicateEvent = errors.New("usage event already recorded")

// UsageEvent is one metered consumption record
type UsageEvent struct {
	TenantID       string
	MetricType     string
	Amount         int64
	IdempotencyKey string
	Metadata       map[string]interface{}
	PeriodStart    time.Time
	RecordedAt     time.Time
}

// UsageStore persists usage counters and the event log backing them
type UsageStore struct {
	cm       *ConnectionManager
	sessions *SessionManager
}

// NewUsageStore creates a usage store
func NewUsageStore(cm *ConnectionManager, sessions *SessionManager) *UsageStore {
	return &UsageStore{cm: cm, sessions: sessions}
}

// Used returns the counter for one metric in the period starting at periodStart
func (s *UsageStore) Used(ctx context.Context, tenantID, metric string, periodStart time.Time) (int64, error) {
	var used int64
	err := s.sessions.WithTenant(ctx, tenantID, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT used FROM usage_counters
			WHERE organization_id = $1 AND metric_type = $2 AND period_start = $3
		`, tenantID, metric, periodStart).Scan(&used)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	return used, nil
}

// UsedAll returns every counter of the tenant for the period
func (s *UsageStore) UsedAll(ctx context.Context, tenantID string, periodStart time.Time) (map[string]int64, error) {
	used := make(map[string]int64)
	err := s.sessions.WithTenant(ctx, tenantID, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT metric_type, used FROM usage_counters
			WHERE organization_id = $1 AND period_start = $2
		`, tenantID, periodStart)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				metric string
				value  int64
			)
			if err := rows.Scan(&metric, &value); err != nil {
				return err
			}
			used[metric] = value
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}
	return used, nil
}

// Record appends the event and applies its amount to the period counter in
// one transaction. A repeated idempotency key leaves the counter untouched and
// returns ErrDuplicateEvent. Counters never drop below zero.
func (s *UsageStore) Record(ctx context.Context, event UsageEvent) error {
	if event.IdempotencyKey == "" {
		return errors.New("usage event requires an idempotency key")
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now().UTC()
	}

	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode usage metadata: %w", err)
	}

	return s.sessions.WithTenant(ctx, event.TenantID, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO usage_events
				(organization_id, metric_type, amount, idempotency_key, metadata, period_start, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (idempotency_key) DO NOTHING
		`, event.TenantID, event.MetricType, event.Amount, event.IdempotencyKey, metadata,
			event.PeriodStart, event.RecordedAt)
		if err != nil {
			return fmt.Errorf("failed to insert usage event: %w", err)
		}
		inserted, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if inserted == 0 {
			return ErrDuplicateEvent
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO usage_counters (organization_id, metric_type, period_start, used, updated_at)
			VALUES ($1, $2, $3, GREATEST($4::bigint, 0), $5)
			ON CONFLICT (organization_id, metric_type, period_start)
			DO UPDATE SET used = GREATEST(usage_counters.used + $4::bigint, 0), updated_at = $5
		`, event.TenantID, event.MetricType, event.PeriodStart, event.Amount, event.RecordedAt)
		if err != nil {
			return fmt.Errorf("failed to increment usage counter: %w", err)
		}
		return nil
	})
}

// TenantsWithUsage lists tenants with a counter in any period starting at or after since
func (s *UsageStore) TenantsWithUsage(ctx context.Context, since time.Time) ([]string, error) {
	var tenants []string
	err := WithoutRowSecurity(ctx, s.cm.Maintenance(), func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT DISTINCT organization_id FROM usage_counters
			WHERE period_start >= $1
			ORDER BY organization_id
		`, since)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var tenantID string
			if err := rows.Scan(&tenantID); err != nil {
				return err
			}
			tenants = append(tenants, tenantID)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants with usage: %w", err)
	}
	return tenants, nil
}

// PurgeEvents deletes events recorded before cutoff. Counters are kept.
func (s *UsageStore) PurgeEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := WithoutRowSecurity(ctx, s.cm.Maintenance(), func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM usage_events WHERE recorded_at < $1`, cutoff)
		if err != nil {
			return err
		}
		purged, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge usage events: %w", err)
	}
	return purged, nil
}

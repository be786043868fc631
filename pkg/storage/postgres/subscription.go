package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Subscription is a tenant's active plan and billing period
type Subscription struct {
	TenantID    string
	PlanID      string
	Status      string
	Limits      map[string]int64
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// SubscriptionStore reads tenant subscriptions
type SubscriptionStore struct {
	sessions *SessionManager
}

// NewSubscriptionStore creates a subscription store
func NewSubscriptionStore(sessions *SessionManager) *SubscriptionStore {
	return &SubscriptionStore{sessions: sessions}
}

// ActiveSubscription returns the tenant's current subscription, or nil when it has none
func (s *SubscriptionStore) ActiveSubscription(ctx context.Context, tenantID string) (*Subscription, error) {
	var sub *Subscription
	err := s.sessions.WithTenant(ctx, tenantID, func(tx *sql.Tx) error {
		var (
			found  Subscription
			limits []byte
		)
		err := tx.QueryRowContext(ctx, `
			SELECT s.plan_id, s.status, COALESCE(p.limits, '{}'::jsonb),
			       s.current_period_start, s.current_period_end
			FROM subscriptions s
			JOIN plans p ON p.id = s.plan_id
			WHERE s.organization_id = $1 AND s.status IN ('active', 'trialing')
			ORDER BY s.current_period_start DESC
			LIMIT 1
		`, tenantID).Scan(&found.PlanID, &found.Status, &limits, &found.PeriodStart, &found.PeriodEnd)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		found.TenantID = tenantID
		if err := json.Unmarshal(limits, &found.Limits); err != nil {
			return fmt.Errorf("invalid plan limits for %s: %w", found.PlanID, err)
		}
		sub = &found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return sub, nil
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// MembershipStore looks up which tenants a caller belongs to
type MembershipStore struct {
	cm *ConnectionManager
}

// NewMembershipStore creates a membership store
func NewMembershipStore(cm *ConnectionManager) *MembershipStore {
	return &MembershipStore{cm: cm}
}

// TenantsForCaller returns the active tenant memberships of callerID ordered
// by tenant id. The lookup runs before any tenant is known, so row security is
// suspended for its transaction only.
func (s *MembershipStore) TenantsForCaller(ctx context.Context, callerID string) ([]string, error) {
	var tenants []string
	err := WithoutRowSecurity(ctx, s.cm.Replica(), func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT organization_id
			FROM organization_members
			WHERE user_id = $1 AND is_active = true
			ORDER BY organization_id
		`, callerID)
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
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}
	return tenants, nil
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Flow is a tenant-owned workflow definition
type Flow struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"organization_id"`
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// FlowStore reads flows. Queries carry no tenant predicate: visibility is
// decided by the row security policy on the flows table.
type FlowStore struct {
	sessions *SessionManager
}

// NewFlowStore creates a flow store
func NewFlowStore(sessions *SessionManager) *FlowStore {
	return &FlowStore{sessions: sessions}
}

// GetFlow returns a flow visible to tenantID. A flow owned by another tenant
// is reported as not found (wrapping sql.ErrNoRows).
func (s *FlowStore) GetFlow(ctx context.Context, tenantID, flowID string) (*Flow, error) {
	var flow Flow
	err := s.sessions.WithTenant(ctx, tenantID, func(tx *sql.Tx) error {
		var data []byte
		err := tx.QueryRowContext(ctx, `
			SELECT id, organization_id, name, data, updated_at
			FROM flows
			WHERE id = $1
		`, flowID).Scan(&flow.ID, &flow.TenantID, &flow.Name, &data, &flow.UpdatedAt)
		if err != nil {
			return err
		}
		flow.Data = data
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("flow %s: %w", flowID, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load flow: %w", err)
	}
	return &flow, nil
}

// ListFlows returns up to limit flows visible to tenantID, most recently updated first
func (s *FlowStore) ListFlows(ctx context.Context, tenantID string, limit int) ([]Flow, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	var flows []Flow
	err := s.sessions.WithTenant(ctx, tenantID, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT id, organization_id, name, updated_at
			FROM flows
			ORDER BY updated_at DESC
			LIMIT $1
		`, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var flow Flow
			if err := rows.Scan(&flow.ID, &flow.TenantID, &flow.Name, &flow.UpdatedAt); err != nil {
				return err
			}
			flows = append(flows, flow)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	return flows, nil
}

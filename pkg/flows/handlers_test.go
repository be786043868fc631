package flows

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/flowgate/pkg/storage/postgres"
	"github.com/platinummonkey/flowgate/pkg/tenant"
)

// fakeStore mimics row security: only flows of the session tenant are visible
type fakeStore struct {
	flows   []postgres.Flow
	listErr error
}

func (s *fakeStore) GetFlow(ctx context.Context, tenantID, flowID string) (*postgres.Flow, error) {
	for _, f := range s.flows {
		if f.ID == flowID && f.TenantID == tenantID {
			return &f, nil
		}
	}
	return nil, fmt.Errorf("flow %s: %w", flowID, sql.ErrNoRows)
}

func (s *fakeStore) ListFlows(ctx context.Context, tenantID string, limit int) ([]postgres.Flow, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []postgres.Flow
	for _, f := range s.flows {
		if f.TenantID == tenantID {
			out = append(out, f)
		}
	}
	return out, nil
}

func serve(t *testing.T, store Store, tenantID, path string) *httptest.ResponseRecorder {
	t.Helper()
	router := mux.NewRouter()
	NewHandlers(store).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if tenantID != "" {
		req = req.WithContext(tenant.WithContext(req.Context(), &tenant.Context{TenantID: tenantID, CallerID: "user-1"}))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlers(t *testing.T) {
	store := &fakeStore{flows: []postgres.Flow{
		{ID: "flow-a", TenantID: "org-a", Name: "A"},
		{ID: "flow-b", TenantID: "org-b", Name: "B"},
	}}

	t.Run("own flow", func(t *testing.T) {
		rec := serve(t, store, "org-a", "/api/v1/flows/flow-a")
		require.Equal(t, http.StatusOK, rec.Code)

		var flow postgres.Flow
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flow))
		assert.Equal(t, "A", flow.Name)
	})

	t.Run("other tenant's flow is not found", func(t *testing.T) {
		rec := serve(t, store, "org-a", "/api/v1/flows/flow-b")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "not_found")
	})

	t.Run("list is tenant scoped", func(t *testing.T) {
		rec := serve(t, store, "org-b", "/api/v1/flows")
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Flows []postgres.Flow `json:"flows"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Flows, 1)
		assert.Equal(t, "flow-b", body.Flows[0].ID)
	})

	t.Run("empty list", func(t *testing.T) {
		rec := serve(t, store, "org-c", "/api/v1/flows")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"flows":[]}`, rec.Body.String())
	})

	t.Run("invalid limit", func(t *testing.T) {
		rec := serve(t, store, "org-a", "/api/v1/flows?limit=ten")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no tenant", func(t *testing.T) {
		rec := serve(t, store, "", "/api/v1/flows/flow-a")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("store failure", func(t *testing.T) {
		rec := serve(t, &fakeStore{listErr: errors.New("connection refused")}, "org-a", "/api/v1/flows")
		assert.GreaterOrEqual(t, rec.Code, http.StatusInternalServerError)
	})
}

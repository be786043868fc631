// Package flows serves read access to tenant flows. Every query runs in a
// tenant session, so a flow owned by another tenant is reported as not found.
package flows

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flowgate/pkg/apierrors"
	"github.com/platinummonkey/flowgate/pkg/httputil"
	"github.com/platinummonkey/flowgate/pkg/storage/postgres"
	"github.com/platinummonkey/flowgate/pkg/tenant"
)

// Store reads flows visible to a tenant
type Store interface {
	GetFlow(ctx context.Context, tenantID, flowID string) (*postgres.Flow, error)
	ListFlows(ctx context.Context, tenantID string, limit int) ([]postgres.Flow, error)
}

// Handlers serves the flow endpoints
type Handlers struct {
	store Store
}

// NewHandlers creates flow handlers
func NewHandlers(store Store) *Handlers {
	return &Handlers{store: store}
}

// RegisterRoutes registers the flow routes. They must run behind the tenant middleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/flows", h.list).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/flows/{flow_id}", h.get).Methods(http.MethodGet)
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	tc, err := tenant.RequireTenantContext(r.Context())
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		apierrors.WriteError(w, r, apierrors.Validation("limit must be an integer"))
		return
	}

	flows, err := h.store.ListFlows(r.Context(), tc.TenantID, limit)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	if flows == nil {
		flows = []postgres.Flow{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"flows": flows})
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	tc, err := tenant.RequireTenantContext(r.Context())
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	flowID := httputil.PathParam(r, "flow_id")

	flow, err := h.store.GetFlow(r.Context(), tc.TenantID, flowID)
	if errors.Is(err, sql.ErrNoRows) {
		apierrors.WriteError(w, r, apierrors.NotFound("flow not found"))
		return
	}
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, flow)
}

package usage

import (
	"net/http"
	"slices"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flowgate/pkg/apierrors"
	"github.com/platinummonkey/flowgate/pkg/httputil"
	"github.com/platinummonkey/flowgate/pkg/tenant"
)

// Handlers serves the tenant usage endpoints
type Handlers struct {
	meter *Meter
}

// NewHandlers creates usage handlers
func NewHandlers(m *Meter) *Handlers {
	return &Handlers{meter: m}
}

// RegisterRoutes registers the usage routes. They must run behind the tenant middleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/organizations/{org_id}/usage", h.summary).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/organizations/{org_id}/usage/alerts", h.alerts).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/organizations/{org_id}/usage/quota", h.quota).Methods(http.MethodGet)
}

func (h *Handlers) summary(w http.ResponseWriter, r *http.Request) {
	tenantID, err := requestTenant(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	s, err := h.meter.Summary(r.Context(), tenantID)
	if err != nil {
		apierrors.WriteError(w, r, apierrors.Wrap(apierrors.KindDatabase, err, "usage summary unavailable"))
		return
	}
	httputil.WriteSuccess(w, s)
}

func (h *Handlers) alerts(w http.ResponseWriter, r *http.Request) {
	tenantID, err := requestTenant(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	// warning_threshold is a fraction of the limit, e.g. 0.8
	threshold, err := httputil.ParseQueryFloat(r, "warning_threshold", WarningThreshold/100)
	if err != nil || threshold <= 0 || threshold > 1 {
		apierrors.WriteError(w, r, apierrors.Validation("warning_threshold must be a number in (0, 1]"))
		return
	}

	alerts, err := h.meter.AlertsAt(r.Context(), tenantID, threshold*100)
	if err != nil {
		apierrors.WriteError(w, r, apierrors.Wrap(apierrors.KindDatabase, err, "usage alerts unavailable"))
		return
	}
	critical := slices.ContainsFunc(alerts, func(a Alert) bool { return a.Severity == SeverityCritical })
	httputil.WriteSuccess(w, map[string]interface{}{
		"organization_id": tenantID,
		"alerts":          alerts,
		"alert_count":     len(alerts),
		"has_critical":    critical,
	})
}

func (h *Handlers) quota(w http.ResponseWriter, r *http.Request) {
	tenantID, err := requestTenant(r)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}
	metric := r.URL.Query().Get("metric_type")
	if !slices.Contains(Metrics, metric) {
		apierrors.WriteError(w, r, apierrors.Validation("metric_type must be one of the metered metrics"))
		return
	}
	amount, err := httputil.ParseQueryInt(r, "requested_amount", 1)
	if err != nil || amount <= 0 {
		apierrors.WriteError(w, r, apierrors.Validation("requested_amount must be a positive integer"))
		return
	}

	// CheckQuota fails open on store errors, report them here instead
	allowed, info, err := h.meter.CheckQuota(r.Context(), tenantID, metric, int64(amount))
	if err != nil {
		apierrors.WriteError(w, r, apierrors.Wrap(apierrors.KindDatabase, err, "quota unavailable"))
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"can_use": allowed, "quota_info": info})
}

// requestTenant returns the resolved tenant, which must be the one in the path
func requestTenant(r *http.Request) (string, error) {
	tc, err := tenant.RequireTenantContext(r.Context())
	if err != nil {
		return "", err
	}
	if orgID := mux.Vars(r)[tenant.ParamOrganizationID]; orgID != "" && orgID != tc.TenantID {
		return "", apierrors.Authorization("organization in path does not match request organization")
	}
	return tc.TenantID, nil
}

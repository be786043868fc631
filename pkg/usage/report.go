package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/flowgate/pkg/async"
	"github.com/platinummonkey/flowgate/pkg/observability"
	"github.com/platinummonkey/flowgate/pkg/storage"
)

// TenantLister lists tenants that metered anything since a point in time
type TenantLister interface {
	TenantsWithUsage(ctx context.Context, since time.Time) ([]string, error)
}

// Report is the exported usage document of one tenant period
type Report struct {
	Summary
	Alerts      []Alert   `json:"alerts"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ReportKey returns the object key of a tenant's report for the period starting at periodStart
func ReportKey(tenantID string, periodStart time.Time) string {
	return fmt.Sprintf("reports/%s/%s.json", tenantID, periodStart.UTC().Format("2006-01"))
}

// Exporter writes usage reports to object storage
type Exporter struct {
	meter   *Meter
	tenants TenantLister
	objects storage.ObjectStore
	workers int
	timeout time.Duration
}

// NewExporter creates an exporter writing to objects
func NewExporter(meter *Meter, tenants TenantLister, objects storage.ObjectStore) *Exporter {
	return &Exporter{
		meter:   meter,
		tenants: tenants,
		objects: objects,
		workers: 4,
		timeout: 30 * time.Second,
	}
}

// WithWorkers sets how many tenants are exported concurrently
func (e *Exporter) WithWorkers(n int) *Exporter {
	if n > 0 {
		e.workers = n
	}
	return e
}

// ExportTenant writes the current period report of tenantID
func (e *Exporter) ExportTenant(ctx context.Context, tenantID string) error {
	s, err := e.meter.Summary(ctx, tenantID)
	if err != nil {
		return err
	}
	report := Report{
		Summary:     s,
		Alerts:      alertsFor(s, WarningThreshold),
		GeneratedAt: e.meter.now().UTC(),
	}
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report of %s: %w", tenantID, err)
	}
	if err := e.objects.PutObject(ctx, ReportKey(tenantID, s.PeriodStart), body, "application/json"); err != nil {
		return fmt.Errorf("failed to upload report of %s: %w", tenantID, err)
	}
	return nil
}

// ExportAll refreshes the reports of every tenant with usage in the current or
// previous calendar month. It returns the number of reports written.
func (e *Exporter) ExportAll(ctx context.Context) (int, error) {
	start, _ := CalendarMonth(e.meter.now())
	tenants, err := e.tenants.TenantsWithUsage(ctx, start.AddDate(0, -1, 0))
	if err != nil {
		return 0, err
	}

	errs := async.Batch(ctx, tenants, e.workers, "usage report export", e.timeout, e.ExportTenant)
	for _, err := range errs {
		observability.FromContext(ctx).WithError(err).Warn("Usage report export failed")
	}
	return len(tenants) - len(errs), errors.Join(errs...)
}

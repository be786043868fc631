// Package usage meters tenant consumption against subscription quotas.
//
// Quotas are evaluated per metric over the tenant's billing period. Tenants
// without an active subscription fall back to the free plan over the current
// calendar month, and a limit of -1 means unlimited. Recording is
// at-least-once: every UsageRecord carries an idempotency key and a repeated
// key is reported as ErrDuplicateUsage without counting twice.
//
//	allowed, info, err := meter.CheckQuota(ctx, tenantID, usage.MetricAPICalls, 1)
//	...
//	err = meter.RecordUsage(ctx, usage.UsageRecord{
//		TenantID:       tenantID,
//		MetricType:     usage.MetricAPICalls,
//		Amount:         1,
//		IdempotencyKey: requestID,
//	})
//
// The Exporter writes a JSON report per tenant and period to object storage
// under reports/{tenant}/{yyyy-mm}.json.
package usage

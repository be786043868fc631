// Package async provides execution primitives for work that must not be tied
// to a client connection.
//
// # Key Functions
//
// Complete: Run request completion work (circuit outcomes, usage recording)
// synchronously on a detached context with a bounded timeout. The work is
// skipped only when the process is stopping.
//
//	err := async.Complete(r.Context(), shutdown.Stopping(), 5*time.Second, "record usage", func(ctx context.Context) error {
//		return meter.RecordUsage(ctx, record)
//	})
//
// WorkerPool: Managed pool of concurrent workers
//
//	pool := async.NewWorkerPool(ctx, 4, "usage report export", 30*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//		return exporter.ExportTenant(ctx, tenantID, period)
//	})
//
// Batch: Concurrent batch processing
//
//	errs := async.Batch(ctx, tenants, 4, "usage report export", 30*time.Second, func(ctx context.Context, tenantID string) error {
//		return exporter.ExportTenant(ctx, tenantID, period)
//	})
//
// # Features
//
// Panic Recovery: Captures panics with stack traces
// Timeout Enforcement: Per-task timeouts
// Graceful Shutdown: Worker draining
//
// # Related Packages
//
//   - pkg/middleware: Uses Complete for circuit and usage recording
//   - pkg/usage: Uses Batch for monthly report export
package async

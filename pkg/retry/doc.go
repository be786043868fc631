// Package retry re-runs failed downstream calls with exponential backoff.
//
// Each endpoint class has its own attempt budget and delay curve. The delay
// before retry n is InitialDelay * Base^n capped at MaxDelay, spread by a
// uniform +/-25% jitter and never shorter than MinDelay. Every attempt gets its
// own timeout, and the circuit breaker of the class is consulted before each
// retry so an opening circuit stops the loop early.
//
//	exec := retry.NewExecutor(retry.DefaultTable(), retry.WithBreaker(breaker))
//	res, err := exec.Do(ctx, "/api/v1/chat", func(ctx context.Context) (int, error) {
//		return callDownstream(ctx)
//	})
package retry

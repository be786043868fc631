package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/flowgate/pkg/observability"
)

// ErrStopping is returned by Complete when the process is shutting down
var ErrStopping = errors.New("async: process is stopping")

// Complete runs request completion work synchronously on a context that
// outlives the client connection. A client disconnect does not cancel fn; the
// timeout and process shutdown do. Panics are recovered and returned as errors.
//
// Example:
//
//	async.Complete(r.Context(), shutdown.Stopping(), 5*time.Second, "record usage", func(ctx context.Context) error {
//	    return meter.RecordUsage(ctx, record)
//	})
func Complete(parentCtx context.Context, stopping <-chan struct{}, timeout time.Duration, taskName string, fn func(context.Context) error) (err error) {
	select {
	case <-stopping:
		return ErrStopping
	default:
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
	defer cancel()

	if stopping != nil {
		go func() {
			select {
			case <-stopping:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			observability.FromContext(parentCtx).
				WithField("task", taskName).
				WithField("stack", string(debug.Stack())).
				Errorf("Panic in completion task: %v", r)
			err = fmt.Errorf("panic in %s: %v", taskName, r)
		}
	}()

	if err := fn(ctx); err != nil {
		return fmt.Errorf("%s: %w", taskName, err)
	}
	return nil
}

// WorkerPool manages a pool of workers that process tasks from a channel.
// Provides graceful shutdown and error collection.
type WorkerPool struct {
	workers      int
	taskName     string
	timeout      time.Duration
	logger       *observability.Logger
	workCh       chan func(context.Context) error
	doneCh       chan struct{}
	errCh        chan error
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// NewWorkerPool creates a new worker pool.
//
// Example:
//
//	pool := NewWorkerPool(ctx, 4, "usage report export", 30*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//	    return exporter.ExportTenant(ctx, tenantID, period)
//	})
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		logger:   observability.FromContext(ctx).WithField("task", taskName),
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, workers*10),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit adds a task to the worker pool.
// Returns error if pool is shut down.
func (p *WorkerPool) Submit(fn func(context.Context) error) (err error) {
	select {
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	default:
	}

	// Shutdown may close workCh between the check above and the send below
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker pool shut down")
		}
	}()

	select {
	case p.workCh <- fn:
		return nil
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	}
}

// Shutdown gracefully shuts down the worker pool.
// Waits up to timeout for workers to finish current tasks.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		close(p.workCh)

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})

	return shutdownErr
}

// Errors returns a channel that receives worker errors.
// Non-blocking, use select to check for errors.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) worker(id int) {
	defer observability.RecoverPanic(p.logger.WithField("worker", id), "worker pool")

	for {
		select {
		case <-p.ctx.Done():
			return

		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(fn)
		}
	}
}

func (p *WorkerPool) run(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.report(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.report(err)
	}
}

func (p *WorkerPool) report(err error) {
	select {
	case p.errCh <- err:
	default:
		p.logger.WithError(err).Warn("Worker pool error channel full, dropping error")
	}
}

// Batch processes a slice of items concurrently using a worker pool.
// Returns all errors encountered.
//
// Example:
//
//	errs := Batch(ctx, tenantIDs, 4, "usage report export", 30*time.Second, func(ctx context.Context, tenantID string) error {
//	    return exporter.ExportTenant(ctx, tenantID, period)
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) []error {

	pool := NewWorkerPool(ctx, workers, taskName, timeout)

	for _, item := range items {
		if err := pool.Submit(func(ctx context.Context) error {
			return fn(ctx, item)
		}); err != nil {
			pool.Shutdown(5 * time.Second)
			return []error{err}
		}
	}

	// Drain remaining tasks, then collect errors
	close(pool.workCh)
	<-pool.doneCh
	pool.shutdownOnce.Do(func() {})
	pool.cancel()

	var errs []error
	for {
		select {
		case err := <-pool.errCh:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}

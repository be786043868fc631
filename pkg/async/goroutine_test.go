package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestComplete_Success(t *testing.T) {
	executed := atomic.Bool{}

	err := Complete(context.Background(), nil, time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	if err != nil {
		t.Errorf("Complete() error = %v", err)
	}
	if !executed.Load() {
		t.Error("Complete did not execute function")
	}
}

func TestComplete_WithError(t *testing.T) {
	want := errors.New("test error")

	err := Complete(context.Background(), nil, time.Second, "test task", func(ctx context.Context) error {
		return want
	})

	if !errors.Is(err, want) {
		t.Errorf("Complete() error = %v, want wrapped %v", err, want)
	}
}

func TestComplete_SurvivesClientCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Complete(ctx, nil, time.Second, "test task", func(ctx context.Context) error {
		return ctx.Err()
	})

	if err != nil {
		t.Errorf("Complete() should run detached from the caller, got %v", err)
	}
}

func TestComplete_Timeout(t *testing.T) {
	completed := atomic.Bool{}

	err := Complete(context.Background(), nil, 50*time.Millisecond, "test task", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			completed.Store(true)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Complete() error = %v, want deadline exceeded", err)
	}
	if completed.Load() {
		t.Error("Function should have been canceled by timeout")
	}
}

func TestComplete_PanicRecovery(t *testing.T) {
	err := Complete(context.Background(), nil, time.Second, "test task", func(ctx context.Context) error {
		panic("test panic")
	})

	if err == nil {
		t.Error("Complete() should return an error for a panicking task")
	}
}

func TestComplete_Stopping(t *testing.T) {
	stopping := make(chan struct{})
	close(stopping)
	executed := atomic.Bool{}

	err := Complete(context.Background(), stopping, time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	if !errors.Is(err, ErrStopping) {
		t.Errorf("Complete() error = %v, want ErrStopping", err)
	}
	if executed.Load() {
		t.Error("Complete should skip work while stopping")
	}
}

func TestComplete_StopDuringWork(t *testing.T) {
	stopping := make(chan struct{})

	err := Complete(context.Background(), stopping, 5*time.Second, "test task", func(ctx context.Context) error {
		close(stopping)
		select {
		case <-time.After(time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Complete() error = %v, want canceled", err)
	}
}

func TestWorkerPool_Basic(t *testing.T) {
	ctx := context.Background()
	pool := NewWorkerPool(ctx, 2, "test pool", 1*time.Second)
	defer pool.Shutdown(1 * time.Second)

	executed := atomic.Int32{}
	for i := 0; i < 10; i++ {
		err := pool.Submit(func(ctx context.Context) error {
			executed.Add(1)
			return nil
		})
		if err != nil {
			t.Errorf("Failed to submit task: %v", err)
		}
	}

	// Wait for tasks to complete
	time.Sleep(200 * time.Millisecond)

	if executed.Load() != 10 {
		t.Errorf("Expected 10 executions, got %d", executed.Load())
	}
}

func TestWorkerPool_WithErrors(t *testing.T) {
	ctx := context.Background()
	pool := NewWorkerPool(ctx, 2, "test pool", 1*time.Second)
	defer pool.Shutdown(1 * time.Second)

	// Submit tasks that return errors
	for i := 0; i < 5; i++ {
		err := pool.Submit(func(ctx context.Context) error {
			return errors.New("test error")
		})
		if err != nil {
			t.Errorf("Failed to submit task: %v", err)
		}
	}

	// Wait for tasks to complete
	time.Sleep(200 * time.Millisecond)

	// Check errors channel
	errorCount := 0
	for {
		select {
		case <-pool.Errors():
			errorCount++
		default:
			goto done
		}
	}
done:

	if errorCount != 5 {
		t.Errorf("Expected 5 errors, got %d", errorCount)
	}
}

func TestWorkerPool_Shutdown(t *testing.T) {
	ctx := context.Background()
	pool := NewWorkerPool(ctx, 2, "test pool", 1*time.Second)

	executed := atomic.Int32{}
	for i := 0; i < 5; i++ {
		err := pool.Submit(func(ctx context.Context) error {
			time.Sleep(50 * time.Millisecond)
			executed.Add(1)
			return nil
		})
		if err != nil {
			t.Errorf("Failed to submit task: %v", err)
		}
	}

	// Shutdown and wait
	err := pool.Shutdown(1 * time.Second)
	if err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}

	// All tasks should have completed
	if executed.Load() != 5 {
		t.Errorf("Expected 5 executions, got %d", executed.Load())
	}

	// Submitting after shutdown should fail
	err = pool.Submit(func(ctx context.Context) error {
		return nil
	})
	if err == nil {
		t.Error("Expected error when submitting after shutdown")
	}
}

func TestWorkerPool_Timeout(t *testing.T) {
	ctx := context.Background()
	pool := NewWorkerPool(ctx, 1, "test pool", 50*time.Millisecond)
	defer pool.Shutdown(1 * time.Second)

	timedOut := atomic.Bool{}
	err := pool.Submit(func(ctx context.Context) error {
		select {
		case <-time.After(200 * time.Millisecond):
			return nil
		case <-ctx.Done():
			timedOut.Store(true)
			return ctx.Err()
		}
	})
	if err != nil {
		t.Errorf("Failed to submit task: %v", err)
	}

	// Wait for timeout
	time.Sleep(150 * time.Millisecond)

	if !timedOut.Load() {
		t.Error("Task should have timed out")
	}
}

func TestBatch(t *testing.T) {
	ctx := context.Background()
	items := []int{1, 2, 3, 4, 5}
	executed := atomic.Int32{}

	errs := Batch(ctx, items, 2, "test batch", 1*time.Second, func(ctx context.Context, item int) error {
		executed.Add(1)
		return nil
	})

	if len(errs) > 0 {
		t.Errorf("Expected no errors, got %d", len(errs))
	}

	if executed.Load() != 5 {
		t.Errorf("Expected 5 executions, got %d", executed.Load())
	}
}

func TestBatch_WithErrors(t *testing.T) {
	ctx := context.Background()
	items := []int{1, 2, 3, 4, 5}

	errs := Batch(ctx, items, 2, "test batch", 1*time.Second, func(ctx context.Context, item int) error {
		if item%2 == 0 {
			return errors.New("even number error")
		}
		return nil
	})

	// Should have 2 errors (items 2 and 4)
	if len(errs) != 2 {
		t.Errorf("Expected 2 errors, got %d", len(errs))
	}
}

func TestBatch_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	items := []int{1, 2, 3, 4, 5}
	executed := atomic.Int32{}

	// Cancel context immediately
	cancel()

	errs := Batch(ctx, items, 2, "test batch", 1*time.Second, func(ctx context.Context, item int) error {
		executed.Add(1)
		time.Sleep(100 * time.Millisecond)
		return nil
	})

	// Should fail to submit tasks or execute very few
	if executed.Load() == 5 {
		t.Error("All tasks executed despite context cancellation")
	}

	// Should have at least one error
	if len(errs) == 0 {
		t.Error("Expected errors due to context cancellation")
	}
}

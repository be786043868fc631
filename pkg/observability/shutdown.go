package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type shutdownHook struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager handles graceful shutdown of services.
// The HTTP server stops first so no new requests start. Hooks then run in
// reverse registration order, so stores registered early close last.
type ShutdownManager struct {
	logger          *Logger
	server          *http.Server
	hooks           []shutdownHook
	shutdownTimeout time.Duration
	mu              sync.Mutex

	// stopping is closed once shutdown begins
	stopping chan struct{}
	once     sync.Once
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:          logger,
		server:          server,
		shutdownTimeout: timeout,
		stopping:        make(chan struct{}),
	}
}

// Register adds a named hook to run during shutdown
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.hooks = append(sm.hooks, shutdownHook{name: name, fn: fn})
}

// Stopping returns a channel closed when shutdown begins. Long-running
// completion work watches it to tell a disconnected client from a terminating process.
func (sm *ShutdownManager) Stopping() <-chan struct{} {
	return sm.stopping
}

// WaitForShutdown blocks until SIGINT or SIGTERM and then shuts down
func (sm *ShutdownManager) WaitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	sm.logger.Infof("Received signal %s, starting graceful shutdown", sig)

	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()
	return sm.Shutdown(ctx)
}

// Shutdown stops the server and runs every hook, collecting their errors
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	sm.once.Do(func() { close(sm.stopping) })

	var errs []error
	if sm.server != nil {
		sm.logger.Info("Shutting down HTTP server")
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("HTTP server shutdown error")
			errs = append(errs, fmt.Errorf("HTTP server shutdown failed: %w", err))
		}
	}

	sm.mu.Lock()
	hooks := make([]shutdownHook, len(sm.hooks))
	copy(hooks, sm.hooks)
	sm.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]
		if err := ctx.Err(); err != nil {
			sm.logger.Warn("Shutdown timeout reached, skipping remaining hooks")
			errs = append(errs, fmt.Errorf("shutdown timeout reached before %s", hook.name))
			break
		}
		if err := hook.fn(ctx); err != nil {
			sm.logger.WithError(err).Errorf("Shutdown hook %s failed", hook.name)
			errs = append(errs, fmt.Errorf("%s: %w", hook.name, err))
			continue
		}
		sm.logger.Infof("Shutdown hook %s complete", hook.name)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	sm.logger.Info("Graceful shutdown complete")
	return nil
}

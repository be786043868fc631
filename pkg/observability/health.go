package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pinger is a dependency that can report its reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Dependency is a named health check target
type Dependency struct {
	Name string
	// Critical dependencies make the service unhealthy when down.
	// Non-critical ones only degrade it.
	Critical bool
	Check    Pinger
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	version      string
	dependencies []Dependency
	timeout      time.Duration
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string, deps ...Dependency) *HealthChecker {
	return &HealthChecker{
		version:      version,
		dependencies: deps,
		timeout:      5 * time.Second,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness reports liveness (always returns 200 if server is running)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness reports readiness (checks all dependencies)
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check pings every dependency concurrently
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(h.dependencies)),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, dep := range h.dependencies {
		dep := dep
		g.Go(func() error {
			depStatus := checkDependency(gctx, dep.Check)

			mu.Lock()
			defer mu.Unlock()
			status.Dependencies[dep.Name] = depStatus
			if depStatus.Status == StatusUnhealthy {
				if dep.Critical {
					status.Status = StatusUnhealthy
				} else if status.Status == StatusHealthy {
					status.Status = StatusDegraded
				}
			}
			// Failures are reported in the status, never through the group
			return nil
		})
	}
	g.Wait()

	return status
}

func checkDependency(ctx context.Context, p Pinger) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: start,
	}

	if err := p.Ping(ctx); err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}

	latency := time.Since(start)
	status.LatencyMS = latency.Milliseconds()
	if status.Status == StatusHealthy && latency > time.Second {
		status.Status = StatusDegraded
		status.Message = "slow response"
	}
	return status
}

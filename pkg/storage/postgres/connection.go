package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/platinummonkey/flowgate/pkg/observability"
)

// ConnectionManager manages PostgreSQL primary and read replica connections.
// Tenant-scoped sessions always use the primary. Read-only lookups that
// bypass row security may use a replica. Cross-tenant maintenance work uses
// the maintenance pool, which connects as a role with BYPASSRLS.
type ConnectionManager struct {
	primary     *sql.DB
	replicas    []*sql.DB
	maintenance *sql.DB
	current     uint32 // Atomic counter for round-robin selection
	mu          sync.RWMutex
	config      ConnectionConfig
	logger      *observability.Logger
}

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	PrimaryURL     string
	ReplicaURLs    []string
	// MaintenanceURL is optional. Without it maintenance work runs on the primary.
	MaintenanceURL string
	MaxConns       int
	MinConns       int
	Timeout        time.Duration
	MaxLifetime    time.Duration
	MaxIdleTime    time.Duration
}

// NewConnectionManager opens the primary and any replicas. Replicas that
// cannot be reached are skipped.
func NewConnectionManager(config ConnectionConfig, logger *observability.Logger) (*ConnectionManager, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	primary, err := open(config.PrimaryURL, config.MaxConns, config)
	if err != nil {
		return nil, fmt.Errorf("failed to ping primary: %w", err)
	}

	cm := NewConnectionManagerFromDB(primary, logger)
	cm.config = config

	// Replica pools are smaller than the primary
	replicaMaxConns := config.MaxConns / 2
	if replicaMaxConns < 2 {
		replicaMaxConns = 2
	}
	for i, replicaURL := range config.ReplicaURLs {
		replica, err := open(replicaURL, replicaMaxConns, config)
		if err != nil {
			logger.WithError(err).Warnf("Skipping replica %d", i)
			continue
		}
		cm.replicas = append(cm.replicas, replica)
	}

	if config.MaintenanceURL != "" {
		maintenance, err := open(config.MaintenanceURL, 2, config)
		if err != nil {
			cm.Close()
			return nil, fmt.Errorf("failed to ping maintenance database: %w", err)
		}
		cm.maintenance = maintenance
	}

	logger.WithFields(map[string]interface{}{
		"replicas":    len(cm.replicas),
		"maintenance": cm.maintenance != nil,
	}).Info("Connection manager initialized")
	return cm, nil
}

// NewConnectionManagerFromDB wraps already opened pools
func NewConnectionManagerFromDB(primary *sql.DB, logger *observability.Logger, replicas ...*sql.DB) *ConnectionManager {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &ConnectionManager{
		primary:  primary,
		replicas: append([]*sql.DB(nil), replicas...),
		logger:   logger,
	}
}

func open(url string, maxConns int, config ConnectionConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(config.MinConns)
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Primary returns the primary database connection (for writes)
func (cm *ConnectionManager) Primary() *sql.DB {
	return cm.primary
}

// WithMaintenance sets the pool used by Maintenance
func (cm *ConnectionManager) WithMaintenance(db *sql.DB) *ConnectionManager {
	cm.maintenance = db
	return cm
}

// Maintenance returns the pool for work that suspends row security across
// tenants. Falls back to primary when no maintenance pool is configured.
func (cm *ConnectionManager) Maintenance() *sql.DB {
	if cm.maintenance != nil {
		return cm.maintenance
	}
	return cm.primary
}

// Replica returns a read replica using round-robin selection.
// Falls back to primary if no replicas are available.
func (cm *ConnectionManager) Replica() *sql.DB {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if len(cm.replicas) == 0 {
		return cm.primary
	}
	index := atomic.AddUint32(&cm.current, 1)
	return cm.replicas[int(index%uint32(len(cm.replicas)))]
}

// Ping checks the primary. Replica failures only degrade reads, so they are
// reported when every replica is down.
func (cm *ConnectionManager) Ping(ctx context.Context) error {
	if err := cm.primary.PingContext(ctx); err != nil {
		return fmt.Errorf("primary unhealthy: %w", err)
	}

	cm.mu.RLock()
	replicas := append([]*sql.DB(nil), cm.replicas...)
	cm.mu.RUnlock()

	var unhealthy []string
	for i, replica := range replicas {
		if err := replica.PingContext(ctx); err != nil {
			unhealthy = append(unhealthy, fmt.Sprintf("replica-%d", i))
		}
	}
	if len(unhealthy) > 0 && len(unhealthy) == len(replicas) {
		return fmt.Errorf("all replicas unhealthy: %s", strings.Join(unhealthy, ", "))
	}
	return nil
}

// RemoveUnhealthyReplicas closes and drops replicas that fail a ping
func (cm *ConnectionManager) RemoveUnhealthyReplicas(ctx context.Context) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	healthy := make([]*sql.DB, 0, len(cm.replicas))
	removed := 0
	for _, replica := range cm.replicas {
		if err := replica.PingContext(ctx); err != nil {
			replica.Close()
			removed++
			continue
		}
		healthy = append(healthy, replica)
	}
	cm.replicas = healthy
	return removed
}

// StartHealthCheckRoutine prunes unhealthy replicas every interval until ctx is done
func (cm *ConnectionManager) StartHealthCheckRoutine(ctx context.Context, interval time.Duration) {
	if interval == 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		defer observability.RecoverPanic(cm.logger, "replica health check")

		for {
			select {
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				removed := cm.RemoveUnhealthyReplicas(checkCtx)
				cancel()

				if removed > 0 {
					cm.logger.WithField("removed", removed).Warn("Removed unhealthy replicas")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close closes all database connections
func (cm *ConnectionManager) Close() error {
	var errs []error
	if err := cm.primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("primary close error: %w", err))
	}

	if cm.maintenance != nil {
		if err := cm.maintenance.Close(); err != nil {
			errs = append(errs, fmt.Errorf("maintenance close error: %w", err))
		}
	}

	cm.mu.Lock()
	replicas := cm.replicas
	cm.replicas = nil
	cm.mu.Unlock()

	for i, replica := range replicas {
		if err := replica.Close(); err != nil {
			errs = append(errs, fmt.Errorf("replica-%d close error: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// ParseReplicaURLs parses a comma-separated list of replica URLs
func ParseReplicaURLs(replicaURLsStr string) []string {
	if replicaURLsStr == "" {
		return nil
	}

	urls := strings.Split(replicaURLsStr, ",")
	result := make([]string, 0, len(urls))
	for _, url := range urls {
		if trimmed := strings.TrimSpace(url); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

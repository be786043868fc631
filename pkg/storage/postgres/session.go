package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/flowgate/pkg/observability"
)

// TenantSetting is the session configuration value read by row-level
// security policies, e.g.
//
//	CREATE POLICY tenant_isolation ON flows
//	    USING (organization_id = current_setting('app.current_organization_id', true));
const TenantSetting = "app.current_organization_id"

// releaseTimeout bounds the commit/reset work done when a session is returned
const releaseTimeout = 5 * time.Second

var (
	// ErrNoTenant is returned when a scoped session is requested without a tenant
	ErrNoTenant = errors.New("tenant scoped session requires a tenant id")
	// ErrSessionReleased is returned when a released session is used again
	ErrSessionReleased = errors.New("session already released")
)

// SessionManager hands out database sessions scoped to a single tenant.
// Each session owns one pooled connection exclusively for its lifetime.
type SessionManager struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewSessionManager creates a session manager over db
func NewSessionManager(db *sql.DB, logger *observability.Logger) *SessionManager {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &SessionManager{db: db, logger: logger}
}

// Session is an exclusively owned connection with an open transaction whose
// tenant setting is transaction-local
type Session struct {
	conn     *sql.Conn
	tx       *sql.Tx
	tenantID string
	released bool
	logger   *observability.Logger
}

// TenantID returns the tenant the session is scoped to
func (s *Session) TenantID() string {
	return s.tenantID
}

// Tx returns the session transaction. All tenant-scoped queries must run on it.
func (s *Session) Tx() *sql.Tx {
	return s.tx
}

// Acquire takes a connection from the pool, begins a transaction and scopes it to tenantID.
// The caller must Release the session on every path.
func (m *SessionManager) Acquire(ctx context.Context, tenantID string) (*Session, error) {
	if tenantID == "" {
		return nil, ErrNoTenant
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// is_local=true: the value disappears at commit or rollback
	if _, err := tx.ExecContext(ctx, "SELECT set_config($1, $2, true)", TenantSetting, tenantID); err != nil {
		tx.Rollback()
		discard(conn)
		return nil, fmt.Errorf("failed to set tenant scope: %w", err)
	}

	return &Session{
		conn:     conn,
		tx:       tx,
		tenantID: tenantID,
		logger:   m.logger,
	}, nil
}

// Release ends the transaction (commit when commit is true), clears the tenant
// setting and returns the connection to the pool. A connection whose reset
// fails is discarded instead of being reused. Release is safe to call twice.
func (s *Session) Release(ctx context.Context, commit bool) error {
	if s.released {
		return ErrSessionReleased
	}
	s.released = true

	// Release must finish even when the request was cancelled
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	var txErr error
	if commit {
		txErr = s.tx.Commit()
	} else {
		txErr = s.tx.Rollback()
		if errors.Is(txErr, sql.ErrTxDone) {
			txErr = nil
		}
	}

	if _, err := s.conn.ExecContext(ctx, "SELECT set_config($1, '', false)", TenantSetting); err != nil {
		s.logger.WithError(err).WithField("tenant_id", s.tenantID).
			Error("Failed to reset tenant scope, discarding connection")
		discard(s.conn)
		return errors.Join(txErr, fmt.Errorf("failed to reset tenant scope: %w", err))
	}

	if err := s.conn.Close(); err != nil {
		return errors.Join(txErr, err)
	}
	if txErr != nil {
		return fmt.Errorf("failed to end transaction: %w", txErr)
	}
	return nil
}

// WithTenant runs fn inside a session scoped to tenantID. The transaction
// commits when fn succeeds and rolls back otherwise, including on panic.
func (m *SessionManager) WithTenant(ctx context.Context, tenantID string, fn func(tx *sql.Tx) error) (err error) {
	session, err := m.Acquire(ctx, tenantID)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			session.Release(ctx, false)
			panic(r)
		}
	}()

	fnErr := fn(session.Tx())
	releaseErr := session.Release(ctx, fnErr == nil)
	if fnErr != nil {
		return fnErr
	}
	return releaseErr
}

// WithoutRowSecurity runs fn in a transaction with row-level security
// suspended. The setting is transaction-local so it ends with the transaction,
// which commits when fn succeeds. Tables with row security policies reject the
// query unless the role has BYPASSRLS or owns the table, so cross-tenant reads
// of those tables go through ConnectionManager.Maintenance.
func WithoutRowSecurity(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SET LOCAL row_security = off"); err != nil {
		return fmt.Errorf("failed to suspend row security: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// discard closes conn and marks it unusable so the pool drops it
func discard(conn *sql.Conn) {
	conn.Raw(func(driverConn interface{}) error {
		return driver.ErrBadConn
	})
	conn.Close()
}

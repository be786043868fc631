package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/flowgate/pkg/auth"
)

func TestMembershipStore_TenantsForCaller(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL row_security = off").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT organization_id FROM organization_members").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"organization_id"}).AddRow("org-a").AddRow("org-b"))
	mock.ExpectCommit()

	store := NewMembershipStore(NewConnectionManagerFromDB(db, nil))
	tenants, err := store.TenantsForCaller(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"org-a", "org-b"}, tenants)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipStore_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL row_security = off").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT organization_id").WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	store := NewMembershipStore(NewConnectionManagerFromDB(db, nil))
	tenants, err := store.TenantsForCaller(context.Background(), "user-1")
	require.Error(t, err)
	assert.Nil(t, tenants)
	assert.Contains(t, err.Error(), "failed to load memberships")
}

func TestSubscriptionStore_ActiveSubscription(t *testing.T) {
	start := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	t.Run("found", func(t *testing.T) {
		_, mock, sessions := setupSessionTest(t)

		expectScope(mock, "org-1")
		mock.ExpectQuery("FROM subscriptions s").
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"plan_id", "status", "limits", "current_period_start", "current_period_end"}).
				AddRow("pro", "active", []byte(`{"api_calls": 100000, "team_members": -1}`), start, end))
		mock.ExpectCommit()
		expectReset(mock)

		sub, err := NewSubscriptionStore(sessions).ActiveSubscription(context.Background(), "org-1")
		require.NoError(t, err)
		require.NotNil(t, sub)
		assert.Equal(t, "org-1", sub.TenantID)
		assert.Equal(t, "pro", sub.PlanID)
		assert.Equal(t, int64(100000), sub.Limits["api_calls"])
		assert.Equal(t, int64(-1), sub.Limits["team_members"])
		assert.Equal(t, start, sub.PeriodStart)
		assert.Equal(t, end, sub.PeriodEnd)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("none", func(t *testing.T) {
		_, mock, sessions := setupSessionTest(t)

		expectScope(mock, "org-1")
		mock.ExpectQuery("FROM subscriptions s").
			WithArgs("org-1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectCommit()
		expectReset(mock)

		sub, err := NewSubscriptionStore(sessions).ActiveSubscription(context.Background(), "org-1")
		require.NoError(t, err)
		assert.Nil(t, sub)
	})
}

func TestUsageStore_Record(t *testing.T) {
	period := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	event := UsageEvent{
		TenantID:       "org-1",
		MetricType:     "api_calls",
		Amount:         1,
		IdempotencyKey: "req-1:api_calls",
		PeriodStart:    period,
	}

	t.Run("new event increments counter", func(t *testing.T) {
		_, mock, sessions := setupSessionTest(t)

		expectScope(mock, "org-1")
		mock.ExpectExec("INSERT INTO usage_events").
			WithArgs("org-1", "api_calls", int64(1), "req-1:api_calls", sqlmock.AnyArg(), period, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO usage_counters").
			WithArgs("org-1", "api_calls", period, int64(1), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		expectReset(mock)

		store := NewUsageStore(nil, sessions)
		require.NoError(t, store.Record(context.Background(), event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate key skips counter", func(t *testing.T) {
		_, mock, sessions := setupSessionTest(t)

		expectScope(mock, "org-1")
		mock.ExpectExec("INSERT INTO usage_events").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()
		expectReset(mock)

		store := NewUsageStore(nil, sessions)
		err := store.Record(context.Background(), event)
		assert.ErrorIs(t, err, ErrDuplicateEvent)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing key rejected", func(t *testing.T) {
		_, _, sessions := setupSessionTest(t)

		noKey := event
		noKey.IdempotencyKey = ""
		assert.Error(t, NewUsageStore(nil, sessions).Record(context.Background(), noKey))
	})
}

func TestUsageStore_Used(t *testing.T) {
	period := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	t.Run("existing counter", func(t *testing.T) {
		_, mock, sessions := setupSessionTest(t)

		expectScope(mock, "org-1")
		mock.ExpectQuery("SELECT used FROM usage_counters").
			WithArgs("org-1", "api_calls", period).
			WillReturnRows(sqlmock.NewRows([]string{"used"}).AddRow(int64(95)))
		mock.ExpectCommit()
		expectReset(mock)

		used, err := NewUsageStore(nil, sessions).Used(context.Background(), "org-1", "api_calls", period)
		require.NoError(t, err)
		assert.Equal(t, int64(95), used)
	})

	t.Run("no counter yet", func(t *testing.T) {
		_, mock, sessions := setupSessionTest(t)

		expectScope(mock, "org-1")
		mock.ExpectQuery("SELECT used FROM usage_counters").WillReturnError(sql.ErrNoRows)
		mock.ExpectCommit()
		expectReset(mock)

		used, err := NewUsageStore(nil, sessions).Used(context.Background(), "org-1", "api_calls", period)
		require.NoError(t, err)
		assert.Zero(t, used)
	})
}

func TestUsageStore_UsedAll(t *testing.T) {
	period := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	_, mock, sessions := setupSessionTest(t)

	expectScope(mock, "org-1")
	mock.ExpectQuery("SELECT metric_type, used FROM usage_counters").
		WithArgs("org-1", period).
		WillReturnRows(sqlmock.NewRows([]string{"metric_type", "used"}).
			AddRow("api_calls", int64(12)).
			AddRow("flow_executions", int64(3)))
	mock.ExpectCommit()
	expectReset(mock)

	used, err := NewUsageStore(nil, sessions).UsedAll(context.Background(), "org-1", period)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"api_calls": 12, "flow_executions": 3}, used)
}

func TestUsageStore_PurgeEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cutoff := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL row_security = off").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM usage_events").WithArgs(cutoff).WillReturnResult(sqlmock.NewResult(0, 42))
	mock.ExpectCommit()

	store := NewUsageStore(NewConnectionManagerFromDB(db, nil), nil)
	purged, err := store.PurgeEvents(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), purged)
}

func TestUsageStore_MaintenancePool(t *testing.T) {
	// The application pool has no expectations, so any query on it fails
	primary, _, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()
	maintenance, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer maintenance.Close()

	since := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL row_security = off").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT DISTINCT organization_id FROM usage_counters").
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"organization_id"}).AddRow("org-a").AddRow("org-b"))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL row_security = off").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM usage_events").WithArgs(since).WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectCommit()

	cm := NewConnectionManagerFromDB(primary, nil).WithMaintenance(maintenance)
	store := NewUsageStore(cm, nil)

	tenants, err := store.TenantsWithUsage(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, []string{"org-a", "org-b"}, tenants)

	purged, err := store.PurgeEvents(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, int64(7), purged)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFlowStore_GetFlow(t *testing.T) {
	updated := time.Date(2026, 10, 2, 12, 0, 0, 0, time.UTC)

	t.Run("visible flow", func(t *testing.T) {
		_, mock, sessions := setupSessionTest(t)

		expectScope(mock, "org-a")
		mock.ExpectQuery("FROM flows").
			WithArgs("flow-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "name", "data", "updated_at"}).
				AddRow("flow-1", "org-a", "summarize", []byte(`{"nodes":[]}`), updated))
		mock.ExpectCommit()
		expectReset(mock)

		flow, err := NewFlowStore(sessions).GetFlow(context.Background(), "org-a", "flow-1")
		require.NoError(t, err)
		assert.Equal(t, "summarize", flow.Name)
		assert.JSONEq(t, `{"nodes":[]}`, string(flow.Data))
	})

	t.Run("flow of another tenant is not found", func(t *testing.T) {
		_, mock, sessions := setupSessionTest(t)

		expectScope(mock, "org-b")
		mock.ExpectQuery("FROM flows").
			WithArgs("flow-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "name", "data", "updated_at"}))
		mock.ExpectRollback()
		expectReset(mock)

		flow, err := NewFlowStore(sessions).GetFlow(context.Background(), "org-b", "flow-1")
		assert.Nil(t, flow)
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}

func TestAPIKeyStore_LookupAPIKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	expires := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	columns := []string{"id", "user_id", "key_hash", "key_prefix", "expires_at", "revoked_at"}
	mock.ExpectQuery("FROM api_keys").
		WithArgs("hash-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("key-1", "user-1", "hash-1", "fg_abcdefghijklm", expires, nil))
	mock.ExpectQuery("FROM api_keys").
		WithArgs("hash-2").
		WillReturnRows(sqlmock.NewRows(columns))

	store := NewAPIKeyStore(NewConnectionManagerFromDB(db, nil))

	key, err := store.LookupAPIKey(context.Background(), "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", key.UserID)
	require.NotNil(t, key.ExpiresAt)
	assert.Equal(t, expires, *key.ExpiresAt)
	assert.Nil(t, key.RevokedAt)

	_, err = store.LookupAPIKey(context.Background(), "hash-2")
	assert.ErrorIs(t, err, auth.ErrKeyNotFound)
}

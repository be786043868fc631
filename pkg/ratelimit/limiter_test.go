package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/flowgate/pkg/apierrors"
	"github.com/platinummonkey/flowgate/pkg/auth"
	"github.com/platinummonkey/flowgate/pkg/sharedstate"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newMemoryLimiter(clock *fakeClock) *Limiter {
	store := sharedstate.NewMemoryStore(sharedstate.WithClock(clock.Now))
	return NewLimiter(store, DefaultConfig(), WithClock(clock.Now))
}

func TestConfig_Match(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		path     string
		want     string
		requests int
	}{
		{"/api/v1/login", "/api/v1/login", 5},
		{"/api/v1/register", "/api/v1/register", 3},
		{"/api/v1/files/upload/abc", "/api/v1/files/upload", 10},
		{"/api/v1/files/download/abc", "/api/v1/files/download", 20},
		{"/api/v1/flows/run", "/api/v1/flows", 30},
		{"/api/v1/projects", DefaultClass, 100},
		{"/", DefaultClass, 100},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rule := cfg.Match(tt.path)
			assert.Equal(t, tt.want, rule.Prefix)
			assert.Equal(t, tt.requests, rule.Requests)
		})
	}

	assert.True(t, cfg.Skipped("/health/ready"))
	assert.True(t, cfg.Skipped("/openapi.json"))
	assert.False(t, cfg.Skipped("/api/v1/chat"))
	assert.Equal(t, time.Hour, cfg.Lookup("/api/v1/register").Window)
	assert.NoError(t, cfg.Validate())

	cfg.Rules = append(cfg.Rules, Rule{Prefix: "/api/v1/broken", Requests: 0, Window: time.Minute})
	assert.Error(t, cfg.Validate())
}

func TestLimiter_RejectsAfterMaxAndResumes(t *testing.T) {
	clock := newClock()
	l := newMemoryLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.Admit(ctx, "user:alice", "/api/v1/login")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d should be admitted", i+1)
		assert.Equal(t, 5, d.Limit)
		assert.Equal(t, 4-i, d.Remaining)
		clock.Advance(time.Second)
	}

	d, err := l.Admit(ctx, "user:alice", "/api/v1/login")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)
	// Oldest event was 5s ago in a 60s window
	assert.Equal(t, 55, d.RetryAfterSeconds)

	// Another client is unaffected
	other, err := l.Admit(ctx, "user:bob", "/api/v1/login")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	clock.Advance(time.Duration(d.RetryAfterSeconds) * time.Second)
	d, err = l.Admit(ctx, "user:alice", "/api/v1/login")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_SetConfig(t *testing.T) {
	clock := newClock()
	l := newMemoryLimiter(clock)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Admit(ctx, "user:alice", "/api/v1/login")
		require.NoError(t, err)
	}
	d, err := l.Admit(ctx, "user:alice", "/api/v1/login")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	cfg := DefaultConfig()
	for i := range cfg.Rules {
		if cfg.Rules[i].Prefix == "/api/v1/login" {
			cfg.Rules[i].Requests = 10
		}
	}
	l.SetConfig(cfg)

	// Existing events count against the raised limit
	d, err = l.Admit(ctx, "user:alice", "/api/v1/login")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 10, d.Limit)
	assert.Equal(t, 10, l.Config().Lookup("/api/v1/login").Requests)
}

func TestLimiter_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := sharedstate.NewRedisStore(sharedstate.RedisConfig{URL: "redis://" + mr.Addr(), KeyPrefix: "flowgate"})
	require.NoError(t, err)
	defer store.Close()

	clock := newClock()
	cfg := DefaultConfig()
	cfg.Rules = []Rule{{Prefix: "/api/v1/chat", Requests: 2, Window: 10 * time.Second}}
	l := NewLimiter(store, cfg, WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := l.Admit(ctx, "ip:10.0.0.1", "/api/v1/chat")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := l.Admit(ctx, "ip:10.0.0.1", "/api/v1/chat")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 10, d.RetryAfterSeconds)
	assert.True(t, mr.Exists("flowgate:ip:10.0.0.1:/api/v1/chat"))

	clock.Advance(10*time.Second + time.Millisecond)
	d, err = l.Admit(ctx, "ip:10.0.0.1", "/api/v1/chat")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

type brokenStore struct {
	sharedstate.Store
}

func (brokenStore) SlidingWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (sharedstate.WindowResult, error) {
	return sharedstate.WindowResult{}, errors.New("connection refused")
}

func TestLimiter_FailsOpen(t *testing.T) {
	l := NewLimiter(brokenStore{}, DefaultConfig())

	d, err := l.Admit(context.Background(), "user:alice", "/api/v1/login")
	assert.Error(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.Limit)
}

func TestLimiter_Compact(t *testing.T) {
	clock := newClock()
	store := sharedstate.NewMemoryStore(sharedstate.WithClock(clock.Now))
	cfg := DefaultConfig()
	cfg.IdleTTL = time.Minute
	l := NewLimiter(store, cfg, WithClock(clock.Now))

	_, err := l.Admit(context.Background(), "user:alice", DefaultClass)
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	clock.Advance(2 * time.Minute)
	removed, err := l.Compact(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Zero(t, store.Len())
}

func TestClientID(t *testing.T) {
	tests := []struct {
		name     string
		identity *auth.Identity
		headers  map[string]string
		remote   string
		want     string
	}{
		{name: "user", identity: &auth.Identity{UserID: "u1", APIKeyPrefix: "fg_abcdefghijklm"}, remote: "1.2.3.4:5", want: "user:u1"},
		{name: "api key identity", identity: &auth.Identity{APIKeyPrefix: "fg_abcdefghijklm"}, want: "api:fg_abcdefghijklm"},
		{name: "api key header", headers: map[string]string{"X-API-Key": "fg_0123456789abcdefghij"}, want: "api:fg_0123456789abc"},
		{name: "forwarded first hop", headers: map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, remote: "10.0.0.1:443", want: "ip:203.0.113.7"},
		{name: "remote address", remote: "192.0.2.1:54321", want: "ip:192.0.2.1"},
		{name: "remote without port", remote: "192.0.2.1", want: "ip:192.0.2.1"},
		{name: "unknown", want: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/chat", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if tt.identity != nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), tt.identity))
			}
			assert.Equal(t, tt.want, ClientID(r))
		})
	}
}

func TestMiddleware(t *testing.T) {
	clock := newClock()
	l := newMemoryLimiter(clock)

	var calls int
	handler := Middleware(l, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	send := func(path string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, path, nil)
		r.RemoteAddr = "198.51.100.9:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return rec
	}

	for i := 0; i < 5; i++ {
		rec := send("/api/v1/login")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(4-i), rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	}

	rec := send("/api/v1/login")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, 5, calls)

	var env apierrors.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, apierrors.KindRateLimit, env.Kind)
	assert.Equal(t, "E429_RATE_LIMIT", env.Code)
	assert.Equal(t, 60, env.RetryAfterSeconds)

	// Skipped paths carry no headers and are never limited
	for i := 0; i < 10; i++ {
		rec = send("/health")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/flowgate/pkg/circuit"
	"github.com/platinummonkey/flowgate/pkg/usage"
)

const samplePolicy = `
rate_limit:
  default: {prefix: default, requests: 200, window: 1m}
  rules:
    - {prefix: /api/v1/chat, requests: 10, window: 30s}
  skip_paths: [/health]
  idle_ttl: 2h
circuits:
  classes:
    /api/v1/search:
      failure_threshold: 4
      recovery_timeout: 45s
      success_threshold: 2
      monitoring_window: 5m
retry:
  default:
    max_attempts: 2
    initial_delay: 250ms
    max_delay: 5s
    base: 2
    attempt_timeout: 10s
quota:
  enforcement: soft
  enforced: [/api/v1/chat]
`

func TestParsePolicy(t *testing.T) {
	policy, err := ParsePolicy([]byte(samplePolicy))
	require.NoError(t, err)

	assert.Equal(t, 200, policy.RateLimit.Default.Requests)
	require.Len(t, policy.RateLimit.Rules, 1)
	assert.Equal(t, 30*time.Second, policy.RateLimit.Rules[0].Window)
	assert.Equal(t, 2*time.Hour, policy.RateLimit.IdleTTL)

	// Classes merge over the built-in table
	assert.Equal(t, 4, policy.Circuits.For("/api/v1/search").FailureThreshold)
	assert.Equal(t, 10, policy.Circuits.For("/api/v1/chat").FailureThreshold)
	assert.Equal(t, circuit.DefaultConfig(), policy.Circuits.Default)

	assert.Equal(t, 2, policy.Retry.Default.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, policy.Retry.Default.InitialDelay)

	routes := policy.Quota.Routes()
	assert.Equal(t, usage.EnforcementSoft, routes.Enforcement)
	assert.Equal(t, []string{"/api/v1/chat"}, routes.Enforced)
	assert.NotEmpty(t, routes.Tracked, "unset quota lists keep their defaults")
}

func TestParsePolicy_Empty(t *testing.T) {
	policy, err := ParsePolicy(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy().RateLimit, policy.RateLimit)
	assert.Equal(t, usage.EnforcementHard, policy.Quota.Routes().Enforcement)
}

func TestParsePolicy_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown section", "ratelimit: {}\n"},
		{"malformed", "rate_limit: [\n"},
		{"zero requests", "rate_limit:\n  default: {prefix: default, requests: 0, window: 1m}\n"},
		{"partial circuit class", "circuits:\n  classes:\n    /api/v1/x: {failure_threshold: 3}\n"},
		{"bad enforcement", "quota:\n  enforcement: strict\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePolicy([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	policy, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy().Retry, policy.Retry)

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0o600))
	policy, err = LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 200, policy.RateLimit.Default.Requests)
}

func TestPolicyWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePolicy), 0o600))

	var (
		mu      sync.Mutex
		applied []Policy
	)
	w, err := NewPolicyWatcher(path, func(p Policy) {
		mu.Lock()
		defer mu.Unlock()
		applied = append(applied, p)
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	appliedCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(applied)
	}

	// An invalid revision is not applied
	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  default: {requests: -1}\n"), 0o600))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, appliedCount())

	updated := "rate_limit:\n  default: {prefix: default, requests: 7, window: 1m}\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	require.Eventually(t, func() bool { return appliedCount() > 0 }, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	last := applied[len(applied)-1]
	mu.Unlock()
	assert.Equal(t, 7, last.RateLimit.Default.Requests)
}

func TestNewPolicyWatcher_MissingFile(t *testing.T) {
	_, err := NewPolicyWatcher(filepath.Join(t.TempDir(), "missing.yaml"), func(Policy) {}, nil)
	assert.Error(t, err)
}

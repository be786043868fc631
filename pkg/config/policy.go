package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/flowgate/pkg/circuit"
	"github.com/platinummonkey/flowgate/pkg/middleware"
	"github.com/platinummonkey/flowgate/pkg/ratelimit"
	"github.com/platinummonkey/flowgate/pkg/retry"
	"github.com/platinummonkey/flowgate/pkg/usage"
)

// Policy holds the per-class tables of the request pipeline. Sections left
// out of the file keep their built-in defaults.
type Policy struct {
	RateLimit ratelimit.Config `yaml:"rate_limit"`
	Circuits  circuit.Table    `yaml:"circuits"`
	Retry     retry.Table      `yaml:"retry"`
	Quota     QuotaPolicy      `yaml:"quota"`
}

// QuotaPolicy is the file form of middleware.QuotaPolicy
type QuotaPolicy struct {
	middleware.QuotaPolicy `yaml:",inline"`
	// Enforcement is hard or soft
	Enforcement string `yaml:"enforcement"`
}

// Routes returns the quota routes with the parsed enforcement mode
func (q QuotaPolicy) Routes() middleware.QuotaPolicy {
	routes := q.QuotaPolicy
	routes.Enforcement = usage.EnforcementHard
	if strings.EqualFold(q.Enforcement, "soft") {
		routes.Enforcement = usage.EnforcementSoft
	}
	return routes
}

// DefaultPolicy returns the built-in tables
func DefaultPolicy() Policy {
	return Policy{
		RateLimit: ratelimit.DefaultConfig(),
		Circuits:  circuit.DefaultTable(),
		Retry:     retry.DefaultTable(),
		Quota: QuotaPolicy{
			QuotaPolicy: middleware.DefaultQuotaPolicy(),
			Enforcement: "hard",
		},
	}
}

// LoadPolicy reads a policy file. An empty path returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML policy over the defaults and validates it.
// Unknown keys are rejected. A class entry replaces the built-in entry of
// the same prefix, so it must set every field.
func ParsePolicy(data []byte) (Policy, error) {
	policy := DefaultPolicy()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&policy); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("failed to parse policy: %w", err)
	}

	if err := policy.Validate(); err != nil {
		return Policy{}, fmt.Errorf("invalid policy: %w", err)
	}
	return policy, nil
}

// Validate checks every table
func (p Policy) Validate() error {
	if err := p.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	if err := p.Circuits.Validate(); err != nil {
		return fmt.Errorf("circuits: %w", err)
	}
	if err := p.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	switch strings.ToLower(p.Quota.Enforcement) {
	case "", "hard", "soft":
	default:
		return fmt.Errorf("quota: enforcement must be hard or soft, got %q", p.Quota.Enforcement)
	}
	return nil
}

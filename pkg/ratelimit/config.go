package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// DefaultClass is the endpoint class of paths no rule matches
const DefaultClass = "default"

// Rule limits requests to paths starting with Prefix
type Rule struct {
	Prefix   string        `yaml:"prefix" json:"prefix"`
	Requests int           `yaml:"requests" json:"requests"`
	Window   time.Duration `yaml:"window" json:"window"`
}

// Config holds the rate limit table
type Config struct {
	Default Rule   `yaml:"default" json:"default"`
	Rules   []Rule `yaml:"rules" json:"rules"`
	// SkipPaths are never rate limited (prefix match)
	SkipPaths []string `yaml:"skip_paths" json:"skip_paths"`
	// IdleTTL is how long an untouched window is kept before compaction drops it
	IdleTTL time.Duration `yaml:"idle_ttl" json:"idle_ttl"`
}

// DefaultConfig returns the built-in rate limit table
func DefaultConfig() Config {
	return Config{
		Default: Rule{Prefix: DefaultClass, Requests: 100, Window: time.Minute},
		Rules: []Rule{
			{Prefix: "/api/v1/login", Requests: 5, Window: time.Minute},
			{Prefix: "/api/v1/register", Requests: 3, Window: time.Hour},
			{Prefix: "/api/v1/chat", Requests: 60, Window: time.Minute},
			{Prefix: "/api/v1/flows", Requests: 30, Window: time.Minute},
			{Prefix: "/api/v1/endpoints", Requests: 20, Window: time.Minute},
			{Prefix: "/api/v1/files/upload", Requests: 10, Window: time.Minute},
			{Prefix: "/api/v1/files/download", Requests: 20, Window: time.Minute},
			{Prefix: "/api/v1/admin", Requests: 5, Window: time.Minute},
		},
		SkipPaths: []string{"/health", "/docs", "/openapi.json", "/static"},
		IdleTTL:   time.Hour,
	}
}

// Validate checks the table for unusable rules
func (c Config) Validate() error {
	if err := c.Default.validate(); err != nil {
		return fmt.Errorf("default rule: %w", err)
	}
	for _, r := range c.Rules {
		if !strings.HasPrefix(r.Prefix, "/") {
			return fmt.Errorf("rule prefix %q must start with /", r.Prefix)
		}
		if err := r.validate(); err != nil {
			return fmt.Errorf("rule %s: %w", r.Prefix, err)
		}
	}
	return nil
}

func (r Rule) validate() error {
	if r.Requests <= 0 {
		return fmt.Errorf("requests must be positive, got %d", r.Requests)
	}
	if r.Window <= 0 {
		return fmt.Errorf("window must be positive, got %s", r.Window)
	}
	return nil
}

// Match returns the rule with the longest prefix matching path
func (c Config) Match(path string) Rule {
	best := c.Default
	bestLen := -1
	for _, r := range c.Rules {
		if strings.HasPrefix(path, r.Prefix) && len(r.Prefix) > bestLen {
			best, bestLen = r, len(r.Prefix)
		}
	}
	return best
}

// Lookup returns the rule for an endpoint class
func (c Config) Lookup(class string) Rule {
	for _, r := range c.Rules {
		if r.Prefix == class {
			return r
		}
	}
	return c.Default
}

// Skipped reports whether path bypasses rate limiting
func (c Config) Skipped(path string) bool {
	for _, p := range c.SkipPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

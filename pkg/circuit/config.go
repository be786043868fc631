package circuit

import (
	"fmt"
	"strings"
	"time"
)

// DefaultClass is the endpoint class of paths no configured prefix matches
const DefaultClass = "default"

// Config holds the thresholds of one endpoint class
type Config struct {
	// FailureThreshold is the number of failures within MonitoringWindow that opens the circuit
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// RecoveryTimeout is how long an open circuit rejects before probing
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`
	// SuccessThreshold is the consecutive half-open successes needed to close
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`
	// MonitoringWindow bounds failure counting
	MonitoringWindow time.Duration `yaml:"monitoring_window" json:"monitoring_window"`
}

// DefaultConfig returns the thresholds of the default class
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 3,
		MonitoringWindow: 300 * time.Second,
	}
}

// Table maps endpoint path prefixes to thresholds
type Table struct {
	Default Config            `yaml:"default" json:"default"`
	Classes map[string]Config `yaml:"classes" json:"classes"`
}

// DefaultTable returns the built-in per-class thresholds
func DefaultTable() Table {
	with := func(failures int, recovery time.Duration) Config {
		c := DefaultConfig()
		c.FailureThreshold = failures
		c.RecoveryTimeout = recovery
		return c
	}
	return Table{
		Default: DefaultConfig(),
		Classes: map[string]Config{
			"/api/v1/chat":    with(10, 30*time.Second),
			"/api/v1/flows":   with(5, 60*time.Second),
			"/api/v1/billing": with(3, 120*time.Second),
			"/api/v1/admin":   with(2, 300*time.Second),
		},
	}
}

// recordTTL outlives the recovery timeout so an open record is still
// present when it is due to move to half-open
func (c Config) recordTTL() time.Duration {
	return c.RecoveryTimeout + c.MonitoringWindow
}

// Class returns the configured prefix that best matches path
func (t Table) Class(path string) string {
	best := DefaultClass
	bestLen := -1
	for prefix := range t.Classes {
		if strings.HasPrefix(path, prefix) && len(prefix) > bestLen {
			best, bestLen = prefix, len(prefix)
		}
	}
	return best
}

// For returns the thresholds of class, falling back to the default
func (t Table) For(class string) Config {
	if c, ok := t.Classes[class]; ok {
		return c
	}
	return t.Default
}

// Validate checks every class for unusable thresholds
func (t Table) Validate() error {
	if err := t.Default.validate(); err != nil {
		return fmt.Errorf("default: %w", err)
	}
	for class, c := range t.Classes {
		if err := c.validate(); err != nil {
			return fmt.Errorf("%s: %w", class, err)
		}
	}
	return nil
}

func (c Config) validate() error {
	switch {
	case c.FailureThreshold <= 0:
		return fmt.Errorf("failure_threshold must be positive")
	case c.SuccessThreshold <= 0:
		return fmt.Errorf("success_threshold must be positive")
	case c.RecoveryTimeout <= 0:
		return fmt.Errorf("recovery_timeout must be positive")
	case c.MonitoringWindow <= 0:
		return fmt.Errorf("monitoring_window must be positive")
	}
	return nil
}

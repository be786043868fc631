package retry

import (
	"fmt"
	"time"
)

// Config controls retries of one endpoint class
type Config struct {
	// MaxAttempts includes the initial attempt
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	InitialDelay   time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay       time.Duration `yaml:"max_delay" json:"max_delay"`
	Base           float64       `yaml:"base" json:"base"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" json:"attempt_timeout"`
}

// DefaultConfig returns the retry settings of the default class
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Base:           2,
		AttemptTimeout: 30 * time.Second,
	}
}

// Table maps endpoint classes to retry settings
type Table struct {
	Default Config            `yaml:"default" json:"default"`
	Classes map[string]Config `yaml:"classes" json:"classes"`
}

// DefaultTable returns the built-in per-class retry settings
func DefaultTable() Table {
	with := func(attempts int, initial time.Duration) Config {
		c := DefaultConfig()
		c.MaxAttempts = attempts
		c.InitialDelay = initial
		return c
	}
	return Table{
		Default: DefaultConfig(),
		Classes: map[string]Config{
			"/api/v1/chat":    with(2, 100*time.Millisecond),
			"/api/v1/flows":   with(3, 500*time.Millisecond),
			"/api/v1/billing": with(3, time.Second),
		},
	}
}

// For returns the settings of class, falling back to the default
func (t Table) For(class string) Config {
	if c, ok := t.Classes[class]; ok {
		return c
	}
	return t.Default
}

// Validate checks every class for unusable settings
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
	case c.MaxAttempts <= 0:
		return fmt.Errorf("max_attempts must be positive")
	case c.InitialDelay < 0 || c.MaxDelay < 0:
		return fmt.Errorf("delays must not be negative")
	case c.Base < 1:
		return fmt.Errorf("base must be at least 1")
	case c.AttemptTimeout <= 0:
		return fmt.Errorf("attempt_timeout must be positive")
	}
	return nil
}

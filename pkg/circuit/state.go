package circuit

import (
	"encoding/json"
	"fmt"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed means requests flow normally
	StateClosed State = iota
	// StateOpen means requests are rejected
	StateOpen
	// StateHalfOpen admits trial requests to test whether the downstream recovered
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "closed":
		*s = StateClosed
	case "open":
		*s = StateOpen
	case "half_open":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("unknown circuit state %q", text)
	}
	return nil
}

// Record is the persisted state of one endpoint class
type Record struct {
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func decodeRecord(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("corrupt circuit record: %w", err)
	}
	return rec, nil
}

func (r Record) encode() ([]byte, error) {
	return json.Marshal(r)
}

// Status describes a class for the admin listing
type Status struct {
	Class           string    `json:"class"`
	State           State     `json:"state"`
	FailureCount    int       `json:"failure_count"`
	SuccessCount    int       `json:"success_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitempty"`
	Config          Config    `json:"config"`
}

package circuitbreaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// Manager manages the circuit breakers of external dependencies.
type Manager interface {
	// GetOrCreate returns the breaker for dependency, creating it with config
	// on first use. Later calls ignore config.
	GetOrCreate(dependency string, config Config) (CircuitBreaker, error)

	// Execute runs fn through the dependency's breaker.
	Execute(ctx context.Context, dependency string, fn func(ctx context.Context) (any, error)) (any, error)

	// State returns the current state, or StateUnknown for unregistered dependencies.
	State(dependency string) State

	// Snapshot returns a point-in-time view of one breaker.
	Snapshot(dependency string) (Snapshot, bool)

	// Snapshots returns a view of every registered breaker.
	Snapshots() map[string]Snapshot

	// IsHealthy reports whether the breaker is closed.
	IsHealthy(dependency string) bool

	// Reset closes the breaker and clears its counters and any forced state.
	Reset(dependency string)

	// ForceOpen holds the breaker open until Reset.
	ForceOpen(dependency string)

	// RegisterStateChangeListener registers a listener for state changes.
	RegisterStateChangeListener(listener StateChangeListener)
}

// CircuitBreaker is a single dependency's breaker.
type CircuitBreaker interface {
	Execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error)
	State() State
	Counts() Counts
}

// State represents circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
	StateUnknown  State = "unknown"
)

// Counts holds the request counters of the current generation.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Dependency          string        `json:"dependency"`
	State               State         `json:"state"`
	ConsecutiveFailures uint32        `json:"consecutiveFailures"`
	LastTransition      time.Time     `json:"lastTransition"`
	FailureThreshold    uint32        `json:"failureThreshold"`
	RecoveryTimeout     time.Duration `json:"recoveryTimeout"`
	Forced              bool          `json:"forced,omitempty"`
}

// StateChangeListener is notified when a breaker changes state.
//
// OnStateChange runs synchronously on the goroutine that caused the
// transition and must not call back into the Manager.
type StateChangeListener interface {
	OnStateChange(dependency string, from State, to State)
}

// StateChangeFunc adapts a function to StateChangeListener.
type StateChangeFunc func(dependency string, from State, to State)

// OnStateChange calls f.
func (f StateChangeFunc) OnStateChange(dependency string, from State, to State) {
	f(dependency, from, to)
}

func convertGobreakerState(state gobreaker.State) State {
	switch state {
	case gobreaker.StateClosed:
		return StateClosed
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateUnknown
	}
}

func convertCounts(counts gobreaker.Counts) Counts {
	return Counts{
		Requests:             counts.Requests,
		TotalSuccesses:       counts.TotalSuccesses,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
	}
}

package circuitbreaker

import (
	"errors"
	"fmt"
)

var (
	// ErrCircuitOpen is matched by every rejection from an open or half-open breaker.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrBreakerNotFound is returned by Execute for dependencies without a breaker.
	ErrBreakerNotFound = errors.New("circuit breaker not found")
)

// OpenError reports a call rejected without reaching the dependency.
type OpenError struct {
	Dependency string
	State      State
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("dependency %s is unavailable (circuit breaker %s)", e.Dependency, e.State)
}

// Unwrap returns ErrCircuitOpen.
func (e *OpenError) Unwrap() error { return ErrCircuitOpen }

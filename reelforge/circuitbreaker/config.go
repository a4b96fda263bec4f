package circuitbreaker

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by GetOrCreate for unusable configurations.
var ErrInvalidConfig = errors.New("invalid circuit breaker config")

// Config holds circuit breaker configuration.
type Config struct {
	FailureThreshold uint32        // Consecutive failures that open the breaker
	RecoveryTimeout  time.Duration // Time spent open before the half-open trial
}

// DefaultConfig suits remote generation providers.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// AssemblyConfig suits the local composition toolchain, which either works or
// is broken for a while.
func AssemblyConfig() Config {
	return Config{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
	}
}

// Validate checks that the breaker can trip and recover.
func (c Config) Validate() error {
	if c.FailureThreshold == 0 {
		return fmt.Errorf("%w: failure threshold must be positive", ErrInvalidConfig)
	}

	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("%w: recovery timeout must be positive", ErrInvalidConfig)
	}

	return nil
}

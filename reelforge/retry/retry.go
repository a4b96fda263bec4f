package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-reelforge/reelforge/backoff"
	"github.com/LerianStudio/lib-reelforge/reelforge/circuitbreaker"
	"github.com/LerianStudio/lib-reelforge/reelforge/failure"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
)

var (
	// ErrRetryExhausted is matched by every ExhaustedError.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
	// ErrInvalidPolicy is returned for policies that cannot run an attempt.
	ErrInvalidPolicy = errors.New("invalid retry policy")
)

// ExhaustedError is returned when every attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrRetryExhausted.Error(), e.Attempts, e.Last)
}

// Unwrap exposes both the sentinel and the last underlying error.
func (e *ExhaustedError) Unwrap() []error {
	return []error{ErrRetryExhausted, e.Last}
}

// Policy bounds one logical invocation.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy suits remote generation providers.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Validate checks the policy.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidPolicy)
	}

	if p.BaseDelay < 0 || p.MaxDelay < 0 {
		return fmt.Errorf("%w: delays must not be negative", ErrInvalidPolicy)
	}

	return nil
}

// Option customizes a retry loop.
type Option func(*options)

type options struct {
	logger    log.Logger
	operation string
	sleep     func(ctx context.Context, d time.Duration) error
	delay     func(base, maxDelay time.Duration, attempt int) time.Duration
	onAttempt func(attempt int, err error)
}

// WithLogger logs retries at debug level.
func WithLogger(logger log.Logger) Option {
	return func(o *options) { o.logger = log.OrNop(logger) }
}

// WithOperation names the operation in log entries.
func WithOperation(name string) Option {
	return func(o *options) { o.operation = name }
}

// WithSleep replaces the backoff sleep.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithDelayFunc replaces the delay computation.
func WithDelayFunc(delay func(base, maxDelay time.Duration, attempt int) time.Duration) Option {
	return func(o *options) {
		if delay != nil {
			o.delay = delay
		}
	}
}

// WithAttemptHook is called after every attempt with its 1-based number and
// outcome.
func WithAttemptHook(hook func(attempt int, err error)) Option {
	return func(o *options) { o.onAttempt = hook }
}

func buildOptions(opts []Option) *options {
	o := &options{
		logger: log.NewNop(),
		sleep:  backoff.SleepWithContext,
		delay:  backoff.Delay,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	return o
}

// Do runs op until it succeeds, fails permanently, the breaker rejects it,
// ctx is done, or policy.MaxAttempts calls have been made.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var zero T

	if err := policy.Validate(); err != nil {
		return zero, err
	}

	o := buildOptions(opts)

	var last error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if o.onAttempt != nil {
			o.onAttempt(attempt, err)
		}

		if err == nil {
			return result, nil
		}

		if !shouldRetry(err) {
			return zero, err
		}

		last = err

		if attempt == policy.MaxAttempts {
			break
		}

		wait := o.delay(policy.BaseDelay, policy.MaxDelay, attempt)

		o.logger.Log(ctx, log.LevelDebug, "retrying after transient failure",
			log.String("operation", o.operation),
			log.Int("attempt", attempt),
			log.Duration("delay", wait),
			log.String("category", string(failure.CategoryOf(err))),
			log.Err(err),
		)

		if err := o.sleep(ctx, wait); err != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Attempts: policy.MaxAttempts, Last: last}
}

func shouldRetry(err error) bool {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return false
	}

	return failure.IsTransient(err)
}

// Guarded is Do with every attempt passing through the dependency's breaker.
func Guarded[T any](
	ctx context.Context,
	breakers circuitbreaker.Manager,
	dependency string,
	policy Policy,
	op func(ctx context.Context) (T, error),
	opts ...Option,
) (T, error) {
	opts = append([]Option{WithOperation(dependency)}, opts...)

	return Do(ctx, policy, func(ctx context.Context) (T, error) {
		return circuitbreaker.Run(ctx, breakers, dependency, op)
	}, opts...)
}

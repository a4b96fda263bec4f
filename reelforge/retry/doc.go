// Package retry re-runs transient failures with exponential backoff and jitter.
//
// Do retries an operation up to Policy.MaxAttempts times. Permanent errors and
// cancellation return at once. Guarded runs every attempt through a circuit
// breaker and stops as soon as the breaker rejects a call, so an open breaker
// never costs a backoff delay.
package retry

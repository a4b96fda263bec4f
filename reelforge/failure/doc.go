// Package failure classifies collaborator errors as transient or permanent.
//
// Collaborators wrap their errors with Transient or Permanent. The retry loop
// retries transient errors only, and the circuit breaker ignores permanent ones
// when counting dependency failures. An error that carries no classification
// is treated as transient, except context cancellation, which is neither.
package failure

// Package assert checks runtime invariants without panicking.
//
// A failed check returns an *AssertionError, logs it, bumps the
// assertion_failed_total counter and marks the active span as failed. The
// pipeline uses it for job bookkeeping that must never go wrong, such as
// progress moving backwards or a terminal job changing status.
package assert

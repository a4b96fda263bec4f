// Package circuitbreaker isolates failing generation providers.
//
// A Manager owns one breaker per dependency for the whole process, so an
// outage seen by one job protects every other job using the same provider.
// Run calls through Manager.Execute: a closed breaker passes them through and
// counts consecutive failures, an open breaker rejects them with
// ErrCircuitOpen without calling the operation, and after the recovery timeout
// a single half-open trial decides whether the breaker closes or reopens.
//
// While closed, permanent errors (failure.Permanent) and caller
// cancellations count as successes: the provider answered, or the caller gave
// up, so they never trip the breaker and they reset the consecutive failure
// count. A half-open trial is stricter. Only a call without error closes the
// breaker; any error, permanent or canceled ones included, reopens it, since
// the trial did not show the provider produces results.
package circuitbreaker

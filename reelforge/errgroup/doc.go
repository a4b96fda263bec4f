// Package errgroup runs the per-scene work of a job as a group of goroutines
// that share one cancellation context.
//
// The first goroutine error cancels the group context and is returned by Wait.
// Recovered panics are converted into errors wrapping ErrPanicRecovered, so a
// misbehaving collaborator cannot take the process down.
package errgroup

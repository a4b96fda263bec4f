// Package resource bounds the memory, CPU and per-stage concurrency that
// generation work may hold at once.
//
// Acquire blocks until a request fits under the configured ceiling, the
// acquire timeout elapses or the context ends. A request that could never fit
// fails immediately with ErrResourceExhausted. Do wraps a function with an
// allocation that is released on every exit path.
package resource

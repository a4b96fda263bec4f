// Package runtime provides panic-safe goroutine launching and panic recovery
// with logging, span events, a panic counter and optional error reporting.
//
// Every goroutine the orchestrator starts goes through SafeGo so a panicking
// collaborator cannot take the process down with it.
package runtime

// Package backoff computes retry delays: exponential growth from a base,
// full or additive jitter, a hard cap, and a sleep that honours cancellation.
package backoff

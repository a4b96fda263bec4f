// Package health aggregates per-dependency call outcomes for operational
// queries.
//
// Monitor keeps the last Window calls of each dependency, drops calls older
// than MaxAge, and computes p50/p95 latency when a snapshot is taken. It also
// listens to circuit breaker transitions. Recording never fails and holds a
// mutex only for a slice append.
package health

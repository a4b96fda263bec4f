// Package stage wraps each external generation collaborator behind one
// contract, Service.Generate.
//
// Voice, Visual and Overlay run once per scene. Each holds a resource
// allocation for its workload class and calls its collaborator through retry
// and the dependency's circuit breaker. When the collaborator cannot deliver,
// the service substitutes a locally synthesized placeholder and reports the
// result as a fallback. Only ErrResourceExhausted and cancellation escape as
// errors. Assembly runs once per job over every per-scene result and has no
// fallback: any failure is returned to the caller.
package stage

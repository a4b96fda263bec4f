package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/LerianStudio/lib-reelforge/reelforge/circuitbreaker"
	"github.com/LerianStudio/lib-reelforge/reelforge/health"
	"github.com/LerianStudio/lib-reelforge/reelforge/resource"
)

const (
	statusAvailable = "available"
	statusDegraded  = "degraded"
)

// HealthSources are the components reported by the health route. Any may be
// nil.
type HealthSources struct {
	Breakers  circuitbreaker.Manager
	Health    *health.Monitor
	Resources *resource.Manager
}

// DependencyStatus is the health of one dependency.
type DependencyStatus struct {
	Healthy bool                     `json:"healthy"`
	Breaker *circuitbreaker.Snapshot `json:"breaker,omitempty"`
	Calls   *health.Record           `json:"calls,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
	Resources    *resource.Stats             `json:"resources,omitempty"`
}

// BuildHealth collects the current health report. It is degraded when any
// breaker is not closed.
func BuildHealth(src HealthSources) HealthResponse {
	resp := HealthResponse{Status: statusAvailable, Dependencies: make(map[string]DependencyStatus)}

	if src.Breakers != nil {
		for name, snapshot := range src.Breakers.Snapshots() {
			healthy := snapshot.State == circuitbreaker.StateClosed
			if !healthy {
				resp.Status = statusDegraded
			}

			resp.Dependencies[name] = DependencyStatus{Healthy: healthy, Breaker: &snapshot}
		}
	}

	if src.Health != nil {
		for name, record := range src.Health.Snapshot() {
			dep, ok := resp.Dependencies[name]
			if !ok {
				dep.Healthy = true
			}

			dep.Calls = &record
			resp.Dependencies[name] = dep
		}
	}

	if src.Resources != nil {
		stats := src.Resources.Stats()
		resp.Resources = &stats
	}

	return resp
}

// HealthHandler serves GET /health: 200 when available, 503 when degraded.
func HealthHandler(src HealthSources) fiber.Handler {
	return func(c *fiber.Ctx) error {
		resp := BuildHealth(src)

		if resp.Status != statusAvailable {
			return JSONResponse(c, fiber.StatusServiceUnavailable, resp)
		}

		return OK(c, resp)
	}
}

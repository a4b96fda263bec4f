// Package http exposes the orchestrator and its health over Fiber.
//
// Routes registered by RegisterRoutes:
//
//	POST   /v1/jobs      submit a job, 202 with the job id
//	GET    /v1/jobs/:id  job status, 404 when unknown
//	DELETE /v1/jobs/:id  cancel a job, 202 or 404
//	GET    /health       breakers, dependency health and resource usage;
//	                     200 when available, 503 when degraded
package http

package http

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
)

// AppConfig configures the middleware of NewApp.
type AppConfig struct {
	CORS CORSConfig
	// SubmitLimit caps job submissions per client per SubmitWindow; zero
	// disables the limit.
	SubmitLimit    int
	SubmitWindow   time.Duration
	LimiterStorage fiber.Storage
}

// RegisterRoutes mounts the job and health routes on router. submitGuards
// run before the submit handler only.
func RegisterRoutes(router fiber.Router, jobs *JobHandler, src HealthSources, submitGuards ...fiber.Handler) {
	router.Get("/health", HealthHandler(src))

	v1 := router.Group("/v1")
	v1.Post("/jobs", append(submitGuards, jobs.Submit)...)
	v1.Get("/jobs/:id", jobs.Get)
	v1.Delete("/jobs/:id", jobs.Cancel)
}

// NewApp returns a Fiber app with the error handler, CORS, request logging
// and every route mounted.
func NewApp(jobs *JobHandler, src HealthSources, cfg AppConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          FiberErrorHandler(jobs.Logger),
	})

	app.Use(WithCORS(cfg.CORS))
	app.Use(WithHTTPLogging(jobs.Logger))

	var guards []fiber.Handler
	if cfg.SubmitLimit > 0 {
		guards = append(guards, WithSubmitLimit(cfg.SubmitLimit, cfg.SubmitWindow, cfg.LimiterStorage))
	}

	RegisterRoutes(app, jobs, src, guards...)

	return app
}

func asFiberError(err error, target **fiber.Error) bool {
	return errors.As(err, target)
}

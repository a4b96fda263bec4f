package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

const (
	defaultAccessControlAllowOrigin   = "*"
	defaultAccessControlAllowMethods  = "POST, GET, OPTIONS, DELETE"
	defaultAccessControlAllowHeaders  = "Accept, Content-Type, Content-Length, Accept-Encoding, X-Request-Id"
	defaultAccessControlExposeHeaders = "X-Request-Id, X-Job-Id, Location"
)

// CORSConfig lists the allowed origins, methods and headers as
// comma-separated values. Empty fields take the defaults.
type CORSConfig struct {
	AllowOrigins  string
	AllowMethods  string
	AllowHeaders  string
	ExposeHeaders string
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}

// WithCORS returns the CORS middleware. Credentials are never allowed, so a
// wildcard origin is safe.
func WithCORS(cfg CORSConfig) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:  orDefault(cfg.AllowOrigins, defaultAccessControlAllowOrigin),
		AllowMethods:  orDefault(cfg.AllowMethods, defaultAccessControlAllowMethods),
		AllowHeaders:  orDefault(cfg.AllowHeaders, defaultAccessControlAllowHeaders),
		ExposeHeaders: orDefault(cfg.ExposeHeaders, defaultAccessControlExposeHeaders),
	})
}

package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// DefaultSubmitWindow is the submission rate window when none is set.
const DefaultSubmitWindow = time.Minute

// WithSubmitLimit caps requests per client IP to limit per window. storage
// shares the counters between instances; nil keeps them in memory.
func WithSubmitLimit(limit int, window time.Duration, storage fiber.Storage) fiber.Handler {
	if window <= 0 {
		window = DefaultSubmitWindow
	}

	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "submit:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return WriteError(c, fiber.StatusTooManyRequests, "rate_limited", "too many job submissions, retry later")
		},
	})
}

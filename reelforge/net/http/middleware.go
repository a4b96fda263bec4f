package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	constant "github.com/LerianStudio/lib-reelforge/reelforge/constants"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/runtime"
)

// WithHTTPLogging logs one line per request and makes sure every request
// carries a request id header. Health checks are not logged.
func WithHTTPLogging(logger log.Logger) fiber.Handler {
	logger = log.OrNop(logger)

	return func(c *fiber.Ctx) error {
		requestID := c.Get(constant.HeaderID)
		if requestID == "" {
			requestID = uuid.NewString()
			c.Request().Header.Set(constant.HeaderID, requestID)
		}

		c.Set(constant.HeaderID, requestID)

		if c.Path() == "/health" {
			return c.Next()
		}

		start := time.Now()
		err := c.Next()

		logger.Log(c.UserContext(), log.LevelInfo, "http request",
			log.String(constant.HeaderID, requestID),
			log.String("method", c.Method()),
			log.String("path", c.Path()),
			log.Int("status", c.Response().StatusCode()),
			log.Duration("duration", time.Since(start)),
		)

		return err
	}
}

// FiberErrorHandler renders errors that escaped the handlers.
func FiberErrorHandler(logger log.Logger) fiber.ErrorHandler {
	logger = log.OrNop(logger)

	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if asFiberError(err, &fe) {
			return WriteError(c, fe.Code, "request_error", fe.Message)
		}

		log.SafeError(logger, c.UserContext(), "handler error", err, runtime.IsProductionMode(),
			log.String("method", c.Method()),
			log.String("path", c.Path()),
		)

		return InternalServerError(c)
	}
}

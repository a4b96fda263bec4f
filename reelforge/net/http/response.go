package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// JSONResponse sends a custom status code and body as a JSON response.
func JSONResponse(c *fiber.Ctx, status int, s any) error {
	return c.Status(status).JSON(s)
}

// WriteError writes a structured error response.
func WriteError(c *fiber.Ctx, status int, title, message string) error {
	return JSONResponse(c, status, ErrorResponse{
		Code:    strconv.Itoa(status),
		Title:   title,
		Message: message,
	})
}

// OK sends an HTTP 200 OK response with a custom body.
func OK(c *fiber.Ctx, s any) error {
	return JSONResponse(c, fiber.StatusOK, s)
}

// Accepted sends an HTTP 202 Accepted response with a custom body.
func Accepted(c *fiber.Ctx, s any) error {
	return JSONResponse(c, fiber.StatusAccepted, s)
}

// BadRequestError writes a 400 Bad Request error response.
func BadRequestError(c *fiber.Ctx, title, message string) error {
	return WriteError(c, fiber.StatusBadRequest, title, message)
}

// NotFoundError writes a 404 Not Found error response.
func NotFoundError(c *fiber.Ctx, title, message string) error {
	return WriteError(c, fiber.StatusNotFound, title, message)
}

// ConflictError writes a 409 Conflict error response.
func ConflictError(c *fiber.Ctx, title, message string) error {
	return WriteError(c, fiber.StatusConflict, title, message)
}

// UnsupportedMediaTypeError writes a 415 Unsupported Media Type error response.
func UnsupportedMediaTypeError(c *fiber.Ctx, title, message string) error {
	return WriteError(c, fiber.StatusUnsupportedMediaType, title, message)
}

// ServiceUnavailableError writes a 503 Service Unavailable response. The
// message stays generic.
func ServiceUnavailableError(c *fiber.Ctx, title string) error {
	return WriteError(c, fiber.StatusServiceUnavailable, title, "service unavailable")
}

// InternalServerError writes a 500 response with a generic message.
func InternalServerError(c *fiber.Ctx) error {
	return WriteError(c, fiber.StatusInternalServerError, "internal_error", "internal server error")
}

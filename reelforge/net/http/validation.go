package http

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/LerianStudio/lib-reelforge/reelforge/stage"
)

var (
	ErrUnsupportedContentType = errors.New("content type must be application/json")
	ErrBodyParseFailed        = errors.New("failed to parse request body")
	ErrValidationFailed       = errors.New("validation failed")
	ErrFieldRequired          = errors.New("field is required")
	ErrFieldOutOfRange        = errors.New("field out of range")
)

var validationErrorFormatters = map[string]func(field, param string) error{
	"required": func(field, _ string) error {
		return fmt.Errorf("%w: '%s'", ErrFieldRequired, field)
	},
	"min": func(field, param string) error {
		return fmt.Errorf("%w: '%s' must have at least %s items", ErrFieldOutOfRange, field, param)
	},
	"max": func(field, param string) error {
		return fmt.Errorf("%w: '%s' must be at most %s", ErrFieldOutOfRange, field, param)
	},
	"gt": func(field, param string) error {
		return fmt.Errorf("%w: '%s' must be greater than %s", ErrFieldOutOfRange, field, param)
	},
	"gte": func(field, param string) error {
		return fmt.Errorf("%w: '%s' must be at least %s", ErrFieldOutOfRange, field, param)
	},
	"lte": func(field, param string) error {
		return fmt.Errorf("%w: '%s' must be at most %s", ErrFieldOutOfRange, field, param)
	},
}

// ValidateStruct validates payload and reports the first failing field.
func ValidateStruct(payload any) error {
	err := stage.Validator().Struct(payload)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
		return formatValidationError(validationErrors[0])
	}

	return fmt.Errorf("%w: %w", ErrValidationFailed, err)
}

func formatValidationError(fe validator.FieldError) error {
	field := toSnakeCase(fe.Field())

	if formatter, ok := validationErrorFormatters[fe.Tag()]; ok {
		return formatter(field, fe.Param())
	}

	return fmt.Errorf("%w: '%s' failed '%s' check", ErrValidationFailed, field, fe.Tag())
}

// toSnakeCase converts a PascalCase or camelCase string to snake_case.
func toSnakeCase(s string) string {
	var result strings.Builder

	for i, r := range s {
		if i > 0 && r >= 'A' && r <= 'Z' {
			result.WriteByte('_')
		}

		result.WriteRune(r)
	}

	return strings.ToLower(result.String())
}

// ParseBodyAndValidate parses the JSON request body into payload and
// validates it.
func ParseBodyAndValidate(c *fiber.Ctx, payload any) error {
	ct := c.Get(fiber.HeaderContentType)
	if ct != "" && !strings.HasPrefix(ct, fiber.MIMEApplicationJSON) {
		return ErrUnsupportedContentType
	}

	if err := c.BodyParser(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrBodyParseFailed, err)
	}

	return ValidateStruct(payload)
}

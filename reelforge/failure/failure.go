package failure

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Category names the reason behind a classified error.
type Category string

// Transient categories.
const (
	CategoryTimeout     Category = "timeout"
	CategoryRateLimit   Category = "rate_limit"
	CategoryUnavailable Category = "unavailable"
)

// Permanent categories.
const (
	CategoryInvalidInput   Category = "invalid_input"
	CategoryPolicyRejected Category = "policy_rejected"
	CategoryDenied         Category = "denied"
)

var (
	// ErrTransient matches every TransientError with errors.Is.
	ErrTransient = errors.New("transient failure")
	// ErrPermanent matches every PermanentError with errors.Is.
	ErrPermanent = errors.New("permanent failure")
)

// TransientError is a failure that may succeed if retried.
type TransientError struct {
	Category Category
	Err      error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transient %s failure", e.Category)
	}

	return fmt.Sprintf("transient %s failure: %v", e.Category, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransient) hold.
func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// PermanentError is a failure that retrying cannot fix.
type PermanentError struct {
	Category Category
	Err      error
}

func (e *PermanentError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("permanent %s failure", e.Category)
	}

	return fmt.Sprintf("permanent %s failure: %v", e.Category, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrPermanent) hold.
func (e *PermanentError) Is(target error) bool { return target == ErrPermanent }

// Transient wraps err as a TransientError of category.
func Transient(category Category, err error) error {
	return &TransientError{Category: category, Err: err}
}

// Permanent wraps err as a PermanentError of category.
func Permanent(category Category, err error) error {
	return &PermanentError{Category: category, Err: err}
}

// IsCanceled reports whether err stems from context cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// IsPermanent reports whether err carries a permanent classification.
func IsPermanent(err error) bool {
	var permanent *PermanentError

	return errors.As(err, &permanent)
}

// IsTransient reports whether err should be retried. Unclassified errors and
// deadline expiries are transient; cancellation and permanent errors are not.
func IsTransient(err error) bool {
	if err == nil || IsCanceled(err) {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}

	return !IsPermanent(err)
}

// CategoryOf returns the category of a classified error. Deadline expiries map
// to CategoryTimeout and other unclassified errors to CategoryUnavailable.
func CategoryOf(err error) Category {
	var (
		transient *TransientError
		permanent *PermanentError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &transient):
		return transient.Category
	case errors.As(err, &permanent):
		return permanent.Category
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	default:
		return CategoryUnavailable
	}
}

// Summary renders err for job status and health records, where only the
// outermost message matters.
func Summary(err error) string {
	if err == nil {
		return ""
	}

	const maxSummaryLen = 256

	msg := err.Error()
	if len(msg) <= maxSummaryLen {
		return msg
	}

	// Cut on a rune boundary.
	cut := maxSummaryLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}

	return msg[:cut] + "..."
}

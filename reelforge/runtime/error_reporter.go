package runtime

import (
	"context"
	"fmt"
	"sync/atomic"
)

// ErrorReporter forwards recovered panics to an external error tracker.
// Implementations must be safe for concurrent use and must not panic.
type ErrorReporter interface {
	CaptureException(ctx context.Context, err error, tags map[string]string)
}

type reporterBox struct{ reporter ErrorReporter }

var (
	currentReporter atomic.Pointer[reporterBox]
	productionMode  atomic.Bool
)

const (
	redactedPanicMsg = "panic recovered (details redacted)"
	maxReportedStack = 4096
)

// SetErrorReporter installs the process-wide error reporter. Pass nil to
// disable reporting.
func SetErrorReporter(reporter ErrorReporter) {
	if reporter == nil {
		currentReporter.Store(nil)
		return
	}

	currentReporter.Store(&reporterBox{reporter: reporter})
}

// GetErrorReporter returns the installed error reporter, or nil.
func GetErrorReporter() ErrorReporter {
	if box := currentReporter.Load(); box != nil {
		return box.reporter
	}

	return nil
}

// SetProductionMode toggles redaction of panic values and stacks. Panic
// values can carry scene narration or prompts, so production deployments
// should enable it.
func SetProductionMode(enabled bool) {
	productionMode.Store(enabled)
}

// IsProductionMode reports whether production mode is enabled.
func IsProductionMode() bool {
	return productionMode.Load()
}

func reportPanicToErrorService(ctx context.Context, panicValue any, stack []byte, component, goroutineName string) {
	reporter := GetErrorReporter()
	if reporter == nil {
		return
	}

	redact := IsProductionMode()

	tags := map[string]string{
		"component":      component,
		"goroutine_name": goroutineName,
		"panic_type":     "recovered",
	}

	if !redact && len(stack) > 0 {
		tags["stack_trace"] = truncateStack(stack)
	}

	reporter.CaptureException(ctx, toPanicError(panicValue, redact), tags)
}

func truncateStack(stack []byte) string {
	if len(stack) <= maxReportedStack {
		return string(stack)
	}

	return string(stack[:maxReportedStack]) + "\n...[truncated]"
}

type panicError struct {
	message string
}

func (e *panicError) Error() string {
	return e.message
}

func toPanicError(panicValue any, redact bool) error {
	if redact {
		return &panicError{message: redactedPanicMsg}
	}

	if err, ok := panicValue.(error); ok {
		return err
	}

	return &panicError{message: formatPanicValue(panicValue)}
}

func formatPanicValue(panicValue any) string {
	switch v := panicValue.(type) {
	case nil:
		return "<nil>"
	case string:
		return v
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

package assert

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	constant "github.com/LerianStudio/lib-reelforge/reelforge/constants"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/runtime"
)

// Logger is the subset of log.Logger used by assertions.
type Logger interface {
	Log(ctx context.Context, level log.Level, msg string, fields ...log.Field)
}

// Asserter evaluates invariants for one component/operation pair.
type Asserter struct {
	logger    Logger
	component string
	operation string
}

// ErrAssertionFailed is the sentinel error for failed assertions.
var ErrAssertionFailed = errors.New("assertion failed")

// AssertionError describes one failed assertion.
type AssertionError struct {
	Assertion string
	Message   string
	Component string
	Operation string
	Details   string
}

// Error returns the formatted assertion failure message.
func (entry *AssertionError) Error() string {
	if entry == nil {
		return ErrAssertionFailed.Error()
	}

	if entry.Details == "" {
		return "assertion failed: " + entry.Message
	}

	return "assertion failed: " + entry.Message + " (" + entry.Details + ")"
}

// Unwrap returns ErrAssertionFailed.
func (entry *AssertionError) Unwrap() error {
	return ErrAssertionFailed
}

// New creates an Asserter. component and operation label telemetry.
func New(logger Logger, component, operation string) *Asserter {
	return &Asserter{
		logger:    logger,
		component: component,
		operation: operation,
	}
}

// That returns an error if ok is false.
func (asserter *Asserter) That(ctx context.Context, ok bool, msg string, kv ...any) error {
	if ok {
		return nil
	}

	return asserter.fail(ctx, "That", msg, kv...)
}

// NotNil returns an error if v is nil, including typed nils.
func (asserter *Asserter) NotNil(ctx context.Context, v any, msg string, kv ...any) error {
	if !isNil(v) {
		return nil
	}

	return asserter.fail(ctx, "NotNil", msg, kv...)
}

// NotEmpty returns an error if s is empty.
func (asserter *Asserter) NotEmpty(ctx context.Context, s, msg string, kv ...any) error {
	if s != "" {
		return nil
	}

	return asserter.fail(ctx, "NotEmpty", msg, kv...)
}

// InRange returns an error unless lo <= v <= hi.
//
//	if err := asserter.InRange(ctx, job.Progress, 0, 1, "progress out of range"); err != nil {
//		return err
//	}
func (asserter *Asserter) InRange(ctx context.Context, v, lo, hi float64, msg string, kv ...any) error {
	if v >= lo && v <= hi {
		return nil
	}

	kv = append([]any{"value", v, "min", lo, "max", hi}, kv...)

	return asserter.fail(ctx, "InRange", msg, kv...)
}

// Never always returns an error. Use it on unreachable branches.
func (asserter *Asserter) Never(ctx context.Context, msg string, kv ...any) error {
	return asserter.fail(ctx, "Never", msg, kv...)
}

const maxValueLength = 200

func truncateValue(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) <= maxValueLength {
		return s
	}

	return s[:maxValueLength] + "... (truncated " + strconv.Itoa(len(s)-maxValueLength) + " chars)"
}

func (asserter *Asserter) fail(ctx context.Context, assertion, msg string, kv ...any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		logger               Logger
		component, operation string
	)

	if asserter != nil {
		logger, component, operation = asserter.logger, asserter.component, asserter.operation
	}

	details := formatKeyValues(kv)

	var stack []byte
	if !runtime.IsProductionMode() {
		stack = debug.Stack()
	}

	if logger != nil {
		fields := []log.Field{
			log.String("assertion", assertion),
			log.String("component", component),
			log.String("operation", operation),
		}
		if details != "" {
			fields = append(fields, log.String("details", details))
		}

		if len(stack) > 0 {
			fields = append(fields, log.String("stack_trace", string(stack)))
		}

		logger.Log(ctx, log.LevelError, "assertion failed: "+msg, fields...)
	}

	recordAssertionMetric(ctx, component, operation, assertion)
	recordAssertionToSpan(ctx, assertion, msg, stack, component, operation)

	return &AssertionError{
		Assertion: assertion,
		Message:   msg,
		Component: component,
		Operation: operation,
		Details:   details,
	}
}

func formatKeyValues(kv []any) string {
	if len(kv) == 0 {
		return ""
	}

	parts := make([]string, 0, (len(kv)+1)/2)

	for i := 0; i < len(kv); i += 2 {
		var value any = "MISSING_VALUE"
		if i+1 < len(kv) {
			value = kv[i+1]
		}

		parts = append(parts, fmt.Sprintf("%v=%s", kv[i], truncateValue(value)))
	}

	return strings.Join(parts, " ")
}

func isNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}

// AssertionSpanEventName is the span event emitted on assertion failures.
const AssertionSpanEventName = constant.EventAssertionFailed

func recordAssertionToSpan(ctx context.Context, assertion, message string, stack []byte, component, operation string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(constant.AttrPrefixAssertion+"name", assertion),
		attribute.String(constant.AttrPrefixAssertion+"message", message),
	}

	if component != "" {
		attrs = append(attrs, attribute.String(constant.AttrPrefixAssertion+"component", component))
	}

	if operation != "" {
		attrs = append(attrs, attribute.String(constant.AttrPrefixAssertion+"operation", operation))
	}

	if len(stack) > 0 {
		attrs = append(attrs, attribute.String(constant.AttrPrefixAssertion+"stack", string(stack)))
	}

	span.AddEvent(AssertionSpanEventName, trace.WithAttributes(attrs...))
	span.RecordError(fmt.Errorf("%w: %s", ErrAssertionFailed, message))
	span.SetStatus(codes.Error, "assertion failed in "+strings.Trim(component+"/"+operation, "/"))
}

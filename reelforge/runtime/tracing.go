package runtime

import (
	"context"
	"errors"

	constant "github.com/LerianStudio/lib-reelforge/reelforge/constants"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrPanic is recorded on spans that observed a recovered panic.
var ErrPanic = errors.New("panic")

// PanicSpanEventName is the span event emitted for recovered panics.
const PanicSpanEventName = constant.EventPanicRecovered

const maxSpanStackLen = 4096

// RecordPanicToSpanWithComponent adds a panic event to the active span in ctx
// and marks the span as failed. It is a no-op without a recording span.
func RecordPanicToSpanWithComponent(ctx context.Context, panicValue any, stack []byte, component, name string) {
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	stackStr := string(stack)
	if len(stackStr) > maxSpanStackLen {
		stackStr = stackStr[:maxSpanStackLen] + "\n...[truncated]"
	}

	attrs := []attribute.KeyValue{
		attribute.String(constant.AttrPrefixPanic+"value", formatPanicValue(panicValue)),
		attribute.String(constant.AttrPrefixPanic+"stack", stackStr),
		attribute.String(constant.AttrPrefixPanic+"goroutine_name", name),
	}

	if component != "" {
		attrs = append(attrs, attribute.String(constant.AttrPrefixPanic+"component", component))
	}

	span.AddEvent(PanicSpanEventName, trace.WithAttributes(attrs...))
	span.RecordError(ErrPanic)
	span.SetStatus(codes.Error, "panic recovered in "+name)
}

//go:build unit

package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRecordPanicToSpanWithComponent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	ctx, span := provider.Tracer("test").Start(context.Background(), "scene")
	RecordPanicToSpanWithComponent(ctx, "bad frame", []byte("stack"), "pipeline", "visual")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "panic recovered in visual", spans[0].Status().Description)

	var found bool

	for _, event := range spans[0].Events() {
		if event.Name != PanicSpanEventName {
			continue
		}

		found = true

		attrs := map[string]string{}
		for _, attr := range event.Attributes {
			attrs[string(attr.Key)] = attr.Value.AsString()
		}

		assert.Equal(t, "bad frame", attrs["panic.value"])
		assert.Equal(t, "pipeline", attrs["panic.component"])
	}

	assert.True(t, found)
}

func TestRecordPanicToSpan_NoActiveSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordPanicToSpanWithComponent(context.Background(), "x", nil, "c", "n")
	})
}

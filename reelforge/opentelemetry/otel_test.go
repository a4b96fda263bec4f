//go:build unit

package opentelemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/opentelemetry/metrics"
)

func TestInitializeTelemetryWithError_NilConfig(t *testing.T) {
	_, err := InitializeTelemetryWithError(nil)
	require.ErrorIs(t, err, ErrNilTelemetryConfig)
}

func TestInitializeTelemetryWithError_MissingEndpoint(t *testing.T) {
	_, err := InitializeTelemetryWithError(&TelemetryConfig{
		LibraryName:     "reelforge",
		EnableTelemetry: true,
	})
	require.ErrorIs(t, err, ErrMissingCollectorEndpoint)
}

func TestInitializeTelemetryWithError_Disabled(t *testing.T) {
	tl, err := InitializeTelemetryWithError(&TelemetryConfig{
		LibraryName: "reelforge",
		ServiceName: "reelforge-test",
		Logger:      log.NewNop(),
	})
	require.NoError(t, err)
	require.NotNil(t, tl.MetricsFactory)
	require.NotNil(t, tl.TracerProvider)

	ctx := context.Background()

	counter, err := tl.MetricsFactory.Counter(metrics.Metric{Name: "telemetry_test_total"})
	require.NoError(t, err)
	require.NoError(t, counter.AddOne(ctx))

	spanCtx, span := tl.Tracer().Start(ctx, "pipeline.job")
	assert.NotEmpty(t, GetTraceIDFromContext(spanCtx))
	span.End()

	require.NoError(t, tl.ShutdownTelemetry(ctx))
}

func TestShutdownTelemetry_NilSafe(t *testing.T) {
	var tl *Telemetry

	assert.NoError(t, tl.ShutdownTelemetry(context.Background()))
}

func TestQueueTraceContext_RoundTrip(t *testing.T) {
	_, err := InitializeTelemetryWithError(&TelemetryConfig{LibraryName: "reelforge"})
	require.NoError(t, err)

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "publish")
	defer span.End()

	headers := PrepareQueueHeaders(ctx, map[string]any{"x-job-id": "job-1"})

	assert.Equal(t, "job-1", headers["x-job-id"])
	require.Contains(t, headers, "traceparent")

	extracted := ExtractTraceContextFromQueueHeaders(context.Background(), headers)

	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceIDFromContext(extracted))
}

func TestQueueTraceContext_NoSpan(t *testing.T) {
	assert.Empty(t, InjectQueueTraceContext(context.Background()))
	assert.Empty(t, GetTraceIDFromContext(context.Background()))

	ctx := context.Background()
	assert.Equal(t, ctx, ExtractQueueTraceContext(ctx, nil))
}

func TestHandleSpanError(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, span := tp.Tracer("test").Start(context.Background(), "stage")
	HandleSpanError(span, "voice failed", errors.New("boom"))
	HandleSpanEvent(span, "fallback")
	HandleSpanError(nil, "ignored", errors.New("boom"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "voice failed: boom", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 2)
	assert.Equal(t, "fallback", ended[0].Events()[1].Name)
}

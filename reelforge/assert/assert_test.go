//go:build unit

package assert

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	constant "github.com/LerianStudio/lib-reelforge/reelforge/constants"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/opentelemetry/metrics"
)

type recordingLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *recordingLogger) Log(_ context.Context, _ log.Level, msg string, _ ...log.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)
}

func TestAsserter_PassingChecksReturnNil(t *testing.T) {
	t.Parallel()

	logger := &recordingLogger{}
	asserter := New(logger, "pipeline", "progress")
	ctx := context.Background()

	assert.NoError(t, asserter.That(ctx, true, "ok"))
	assert.NoError(t, asserter.NotNil(ctx, &struct{}{}, "ok"))
	assert.NoError(t, asserter.NotEmpty(ctx, "job-1", "ok"))
	assert.NoError(t, asserter.InRange(ctx, 0.5, 0, 1, "ok"))
	assert.Empty(t, logger.messages)
}

func TestAsserter_FailuresReturnAssertionError(t *testing.T) {
	t.Parallel()

	logger := &recordingLogger{}
	asserter := New(logger, "pipeline", "progress")
	ctx := context.Background()

	var typedNil *struct{}

	errs := []error{
		asserter.That(ctx, false, "scene count mismatch", "expected", 3, "got", 2),
		asserter.NotNil(ctx, typedNil, "job missing"),
		asserter.NotEmpty(ctx, "", "job id empty"),
		asserter.InRange(ctx, 1.5, 0, 1, "progress out of range"),
		asserter.Never(ctx, "unknown status"),
	}

	for _, err := range errs {
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAssertionFailed)
	}

	var assertionErr *AssertionError
	require.True(t, errors.As(errs[0], &assertionErr))
	assert.Equal(t, "That", assertionErr.Assertion)
	assert.Equal(t, "pipeline", assertionErr.Component)
	assert.Equal(t, "expected=3 got=2", assertionErr.Details)
	assert.Len(t, logger.messages, len(errs))
}

func TestAsserter_NilReceiver(t *testing.T) {
	t.Parallel()

	var asserter *Asserter

	err := asserter.Never(context.Background(), "still reported")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still reported")
}

func TestAssertionError_NilError(t *testing.T) {
	t.Parallel()

	var err *AssertionError

	assert.Equal(t, "assertion failed", err.Error())
}

func TestFormatKeyValues_OddCountAndTruncation(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "k=MISSING_VALUE", formatKeyValues([]any{"k"}))

	long := make([]byte, maxValueLength+10)
	for i := range long {
		long[i] = 'a'
	}

	assert.Contains(t, formatKeyValues([]any{"k", string(long)}), "truncated 10 chars")
}

func TestAsserter_RecordsSpanEvent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	ctx, span := provider.Tracer("test").Start(context.Background(), "job")
	_ = New(nil, "pipeline", "status").Never(ctx, "terminal status changed")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, AssertionSpanEventName, spans[0].Events()[0].Name)
	assert.Equal(t, "assertion failed in pipeline/status", spans[0].Status().Description)
}

func TestAsserter_IncrementsCounter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	factory, err := metrics.NewMetricsFactory(provider.Meter("test"), nil)
	require.NoError(t, err)

	ResetAssertionMetrics()
	InitAssertionMetrics(factory)
	t.Cleanup(ResetAssertionMetrics)

	asserter := New(nil, "pipeline", "progress")
	_ = asserter.That(context.Background(), false, "first")
	_ = asserter.That(context.Background(), false, "second")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64

	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != constant.MetricAssertionFailedTotal {
				continue
			}

			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)

			for _, point := range sum.DataPoints {
				total += point.Value
			}
		}
	}

	assert.Equal(t, int64(2), total)
}

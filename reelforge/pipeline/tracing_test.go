//go:build unit

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/LerianStudio/lib-reelforge/reelforge/failure"
	"github.com/LerianStudio/lib-reelforge/reelforge/stage"
)

func spanAttr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}

	return attribute.Value{}
}

func TestOrchestrator_TracesJobAndStages(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	var (
		mu         sync.Mutex
		sinkTraces []trace.TraceID
	)

	sink := EventSinkFunc(func(ctx context.Context, _ Event) error {
		mu.Lock()
		defer mu.Unlock()

		sinkTraces = append(sinkTraces, trace.SpanContextFromContext(ctx).TraceID())

		return nil
	})

	h := newHarness(t, healthyProviders(), Config{}, WithTracer(tp.Tracer("test")), WithEventSink(sink))
	job := h.run(t, "job-traced", threeScenes(), stage.Settings{})
	require.Equal(t, StatusCompleted, job.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, h.orch.Close(ctx))

	ended := recorder.Ended()
	byName := make(map[string][]sdktrace.ReadOnlySpan)

	for _, span := range ended {
		byName[span.Name()] = append(byName[span.Name()], span)
	}

	require.Len(t, byName["pipeline.job"], 1)
	assert.Len(t, byName["pipeline.stage.voice"], 3)
	assert.Len(t, byName["pipeline.stage.visual"], 3)
	assert.Len(t, byName["pipeline.stage.overlay"], 3)
	require.Len(t, byName["pipeline.stage.assembly"], 1)

	jobSpan := byName["pipeline.job"][0]
	assert.Equal(t, "completed", spanAttr(jobSpan, "job.status").AsString())
	assert.Equal(t, "job-traced", spanAttr(jobSpan, "job.id").AsString())

	traceID := jobSpan.SpanContext().TraceID()

	for _, span := range ended {
		assert.Equal(t, traceID, span.SpanContext().TraceID(), span.Name())
	}

	assert.Equal(t, "ok", spanAttr(byName["pipeline.stage.assembly"][0], "stage.status").AsString())

	mu.Lock()
	defer mu.Unlock()

	// The queued event is emitted before the job span starts.
	require.Len(t, sinkTraces, 13)
	assert.False(t, sinkTraces[0].IsValid())

	for _, id := range sinkTraces[1:] {
		assert.Equal(t, traceID, id)
	}
}

func TestOrchestrator_FailedJobSpanRecordsError(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	p := healthyProviders()
	p.assembler = assembleFunc(func(context.Context, []stage.Scene, []stage.Result) (stage.Artifact, error) {
		return stage.Artifact{}, failure.Permanent(failure.CategoryInvalidInput, errors.New("unsupported codec"))
	})

	h := newHarness(t, p, Config{}, WithTracer(tp.Tracer("test")))
	job := h.run(t, "job-traced-failure", threeScenes(), stage.Settings{})
	require.Equal(t, StatusFailed, job.Status)

	require.Eventually(t, func() bool {
		for _, span := range recorder.Ended() {
			if span.Name() == "pipeline.job" {
				return true
			}
		}

		return false
	}, time.Second, 5*time.Millisecond)

	for _, span := range recorder.Ended() {
		if span.Name() == "pipeline.job" {
			assert.Equal(t, "failed", spanAttr(span, "job.status").AsString())
			assert.Equal(t, codes.Error, span.Status().Code)
		}
	}
}

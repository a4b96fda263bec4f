package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/opentelemetry/metrics"
	"github.com/LerianStudio/lib-reelforge/reelforge/runtime"
)

// DefaultSinkQueueSize bounds the events waiting for the sinks.
const DefaultSinkQueueSize = 1024

// queuedEvent keeps the span of the emitting job so sinks can propagate it.
type queuedEvent struct {
	event Event
	span  trace.SpanContext
}

// sinkQueue delivers events to the sinks from a single worker, in the order
// they were queued. Jobs never wait on a sink: when the queue is full the
// event is dropped and counted.
type sinkQueue struct {
	sinks   []EventSink
	timeout time.Duration
	logger  log.Logger
	metrics *metrics.MetricsFactory

	mu      sync.RWMutex
	closed  bool
	events  chan queuedEvent
	done    chan struct{}
	dropped atomic.Uint64
}

func newSinkQueue(sinks []EventSink, size int, timeout time.Duration, logger log.Logger, factory *metrics.MetricsFactory) *sinkQueue {
	q := &sinkQueue{
		sinks:   sinks,
		timeout: timeout,
		logger:  logger,
		metrics: factory,
		events:  make(chan queuedEvent, size),
		done:    make(chan struct{}),
	}

	runtime.SafeGo(logger, "event_sinks", runtime.KeepRunning, q.drain)

	return q
}

// enqueue never blocks. It reports whether the event was queued.
func (q *sinkQueue) enqueue(ctx context.Context, event Event) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}

	select {
	case q.events <- queuedEvent{event: event, span: trace.SpanContextFromContext(ctx)}:
		return true
	default:
	}

	total := q.dropped.Add(1)

	q.logger.Log(ctx, log.LevelWarn, "event sink queue full, event dropped",
		log.JobID(event.JobID),
		log.Stage(event.Stage),
		log.String("status", event.Status),
		log.Any("dropped_total", total),
	)

	if q.metrics != nil {
		_ = q.metrics.RecordEventsDropped(ctx, "sink", 1)
	}

	return false
}

func (q *sinkQueue) drain() {
	defer close(q.done)

	for item := range q.events {
		for _, sink := range q.sinks {
			q.publish(sink, item)
		}
	}
}

func (q *sinkQueue) publish(sink EventSink, item queuedEvent) {
	ctx, cancel := context.WithTimeout(trace.ContextWithSpanContext(context.Background(), item.span), q.timeout)
	defer cancel()

	event := item.event

	defer runtime.RecoverWithPolicyAndContext(ctx, q.logger, component, "event_sink", runtime.KeepRunning)

	if err := sink.Publish(ctx, event); err != nil {
		q.logger.Log(ctx, log.LevelWarn, "publishing event failed",
			log.JobID(event.JobID),
			log.Stage(event.Stage),
			log.Err(err),
		)
	}
}

// close stops accepting events and waits until the queued ones were
// delivered or ctx ends.
func (q *sinkQueue) close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.events)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *sinkQueue) droppedTotal() uint64 {
	return q.dropped.Load()
}

package pipeline

import (
	"context"
	"sync"
	"time"
)

// JobStage is the Stage of events reporting job transitions.
const JobStage = "job"

// Event reports one stage completion or one job transition.
type Event struct {
	JobID     string    `json:"job_id"`
	SceneID   string    `json:"scene_id,omitempty"`
	Stage     string    `json:"stage"`
	Status    string    `json:"status"`
	Progress  float64   `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the event ends its job.
func (e Event) Terminal() bool {
	return e.Stage == JobStage && Status(e.Status).Terminal()
}

// EventSink receives every event the orchestrator emits.
type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, event Event) error

// Publish calls f.
func (f EventSinkFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// broadcaster fans events out to in-process subscribers. A subscriber whose
// buffer is full misses the event.
type broadcaster struct {
	mu     sync.RWMutex
	next   int
	subs   map[int]chan Event
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}

	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once

	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// publish returns the number of subscribers that missed the event.
func (b *broadcaster) publish(event Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := 0

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			dropped++
		}
	}

	return dropped
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

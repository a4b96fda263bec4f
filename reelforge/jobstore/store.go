package jobstore

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned by Load when no record exists for the ID.
	ErrNotFound = errors.New("jobstore: record not found")
	// ErrEmptyID is returned when an operation is given an empty ID.
	ErrEmptyID = errors.New("jobstore: empty id")
	// ErrNilStore is returned when a store receiver is nil.
	ErrNilStore = errors.New("jobstore: store is nil")
)

// Store saves and loads records of type T.
type Store[T any] interface {
	Save(ctx context.Context, id string, value T) error
	Load(ctx context.Context, id string) (T, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is a process-local Store. Records expire after the TTL and
// the oldest saved record is evicted once MaxEntries is reached; both are
// off by default.
type MemoryStore[T any] struct {
	opts memoryOptions

	mu      sync.Mutex
	records map[string]*list.Element
	// order holds *memoryRecord from the oldest save to the newest.
	order *list.List
}

type memoryRecord struct {
	id      string
	data    []byte
	savedAt time.Time
}

type memoryOptions struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*memoryOptions)

// WithTTL expires records ttl after they were last saved.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(o *memoryOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithMaxEntries evicts the oldest saved record beyond n records.
func WithMaxEntries(n int) MemoryOption {
	return func(o *memoryOptions) {
		if n > 0 {
			o.maxEntries = n
		}
	}
}

// WithClock replaces time.Now for expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore[T any](opts ...MemoryOption) *MemoryStore[T] {
	o := memoryOptions{now: time.Now}

	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	return &MemoryStore[T]{
		opts:    o,
		records: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (s *MemoryStore[T]) expired(rec *memoryRecord, now time.Time) bool {
	return s.opts.ttl > 0 && now.Sub(rec.savedAt) >= s.opts.ttl
}

// removeLocked drops elem. Callers hold s.mu.
func (s *MemoryStore[T]) removeLocked(elem *list.Element) {
	rec, _ := s.order.Remove(elem).(*memoryRecord)
	if rec != nil {
		delete(s.records, rec.id)
	}
}

// evictLocked drops expired records and the oldest ones beyond maxEntries.
// Callers hold s.mu.
func (s *MemoryStore[T]) evictLocked(now time.Time) {
	for elem := s.order.Front(); elem != nil; elem = s.order.Front() {
		rec, _ := elem.Value.(*memoryRecord)

		overCapacity := s.opts.maxEntries > 0 && s.order.Len() > s.opts.maxEntries
		if !overCapacity && (rec == nil || !s.expired(rec, now)) {
			return
		}

		s.removeLocked(elem)
	}
}

// Save stores value under id, replacing any previous record.
func (s *MemoryStore[T]) Save(ctx context.Context, id string, value T) error {
	if s == nil {
		return ErrNilStore
	}

	if id == "" {
		return ErrEmptyID
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("jobstore: encode %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()

	if elem, ok := s.records[id]; ok {
		s.removeLocked(elem)
	}

	s.records[id] = s.order.PushBack(&memoryRecord{id: id, data: data, savedAt: now})
	s.evictLocked(now)

	return nil
}

// Load returns the record saved under id.
func (s *MemoryStore[T]) Load(ctx context.Context, id string) (T, error) {
	var value T

	if s == nil {
		return value, ErrNilStore
	}

	if err := ctx.Err(); err != nil {
		return value, err
	}

	s.mu.Lock()

	var data []byte

	elem, ok := s.records[id]
	if ok {
		rec, _ := elem.Value.(*memoryRecord)
		if rec == nil || s.expired(rec, s.opts.now()) {
			s.removeLocked(elem)

			ok = false
		} else {
			data = rec.data
		}
	}

	s.mu.Unlock()

	if !ok {
		return value, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := json.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("jobstore: decode %s: %w", id, err)
	}

	return value, nil
}

// Delete removes the record saved under id. Deleting a missing record is not
// an error.
func (s *MemoryStore[T]) Delete(ctx context.Context, id string) error {
	if s == nil {
		return ErrNilStore
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if elem, ok := s.records[id]; ok {
		s.removeLocked(elem)
	}
	s.mu.Unlock()

	return nil
}

// Len returns the number of records held, expired ones excluded.
func (s *MemoryStore[T]) Len() int {
	if s == nil {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(s.opts.now())

	return len(s.records)
}

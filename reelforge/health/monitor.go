package health

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/LerianStudio/lib-reelforge/reelforge/circuitbreaker"
	"github.com/LerianStudio/lib-reelforge/reelforge/failure"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/opentelemetry/metrics"
)

// Outcome is the result of one collaborator call.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	// OutcomeRejected is a call an open breaker refused.
	OutcomeRejected Outcome = "rejected"
)

// Defaults applied when Config leaves a field at zero.
const (
	DefaultWindow = 200
	DefaultMaxAge = 15 * time.Minute
)

// Config bounds the rolling window.
type Config struct {
	Window int
	MaxAge time.Duration
}

// Record is the aggregated view of one dependency.
type Record struct {
	Dependency     string               `json:"dependency"`
	Attempts       int                  `json:"attempts"`
	Successes      int                  `json:"successes"`
	Failures       int                  `json:"failures"`
	Rejections     int                  `json:"rejections"`
	P50            time.Duration        `json:"p50"`
	P95            time.Duration        `json:"p95"`
	LastError      string               `json:"lastError,omitempty"`
	LastErrorAt    time.Time            `json:"lastErrorAt,omitempty"`
	BreakerState   circuitbreaker.State `json:"breakerState,omitempty"`
	Transitions    int                  `json:"transitions"`
	LastTransition time.Time            `json:"lastTransition,omitempty"`
}

type event struct {
	at      time.Time
	outcome Outcome
	latency time.Duration
}

type series struct {
	events []event
	next   int

	lastError      string
	lastErrorAt    time.Time
	breakerState   circuitbreaker.State
	transitions    int
	lastTransition time.Time
}

func (s *series) add(e event, window int) {
	if len(s.events) < window {
		s.events = append(s.events, e)
		return
	}

	s.events[s.next] = e
	s.next = (s.next + 1) % window
}

// Monitor is safe for concurrent use.
type Monitor struct {
	mu     sync.Mutex
	window int
	maxAge time.Duration
	deps   map[string]*series

	logger  log.Logger
	metrics *metrics.MetricsFactory
	now     func() time.Time
}

// Option customizes a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger used for breaker transitions.
func WithLogger(logger log.Logger) Option {
	return func(m *Monitor) { m.logger = log.OrNop(logger) }
}

// WithMetrics exports call counters, latency and breaker transitions.
func WithMetrics(factory *metrics.MetricsFactory) Option {
	return func(m *Monitor) { m.metrics = factory }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg Config, opts ...Option) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}

	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}

	m := &Monitor{
		window: cfg.Window,
		maxAge: cfg.MaxAge,
		deps:   make(map[string]*series),
		logger: log.NewNop(),
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

func (m *Monitor) seriesFor(dependency string) *series {
	s, ok := m.deps[dependency]
	if !ok {
		s = &series{}
		m.deps[dependency] = s
	}

	return s
}

// Record appends one call outcome. err may be nil.
func (m *Monitor) Record(dependency string, outcome Outcome, latency time.Duration, err error) {
	if m == nil {
		return
	}

	now := m.now()

	m.mu.Lock()
	s := m.seriesFor(dependency)
	s.add(event{at: now, outcome: outcome, latency: latency}, m.window)

	if err != nil && outcome != OutcomeSuccess {
		s.lastError = failure.Summary(err)
		s.lastErrorAt = now
	}
	m.mu.Unlock()

	if m.metrics != nil {
		_ = m.metrics.RecordStageCall(context.Background(), dependency, string(outcome), latency)
	}
}

// OnStateChange implements circuitbreaker.StateChangeListener.
func (m *Monitor) OnStateChange(dependency string, from circuitbreaker.State, to circuitbreaker.State) {
	if m == nil {
		return
	}

	m.mu.Lock()
	s := m.seriesFor(dependency)
	s.breakerState = to
	s.transitions++
	s.lastTransition = m.now()
	m.mu.Unlock()

	m.logger.Log(context.Background(), log.LevelInfo, "dependency breaker transition recorded",
		log.Dependency(dependency),
		log.String("from", string(from)),
		log.String("to", string(to)),
	)

	if m.metrics != nil {
		_ = m.metrics.RecordBreakerTransition(context.Background(), dependency, string(to))
	}
}

// Snapshot returns one Record per dependency seen so far.
func (m *Monitor) Snapshot() map[string]Record {
	if m == nil {
		return map[string]Record{}
	}

	cutoff := m.now().Add(-m.maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	records := make(map[string]Record, len(m.deps))

	for dependency, s := range m.deps {
		records[dependency] = s.record(dependency, cutoff)
	}

	return records
}

// Get returns the Record of one dependency.
func (m *Monitor) Get(dependency string) (Record, bool) {
	if m == nil {
		return Record{}, false
	}

	cutoff := m.now().Add(-m.maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.deps[dependency]
	if !ok {
		return Record{}, false
	}

	return s.record(dependency, cutoff), true
}

// record must be called with the monitor lock held.
func (s *series) record(dependency string, cutoff time.Time) Record {
	rec := Record{
		Dependency:     dependency,
		LastError:      s.lastError,
		LastErrorAt:    s.lastErrorAt,
		BreakerState:   s.breakerState,
		Transitions:    s.transitions,
		LastTransition: s.lastTransition,
	}

	latencies := make([]time.Duration, 0, len(s.events))

	for _, e := range s.events {
		if e.at.Before(cutoff) {
			continue
		}

		rec.Attempts++

		switch e.outcome {
		case OutcomeSuccess:
			rec.Successes++
		case OutcomeFailure:
			rec.Failures++
		case OutcomeRejected:
			rec.Rejections++
			continue
		}

		latencies = append(latencies, e.latency)
	}

	slices.Sort(latencies)
	rec.P50 = percentile(latencies, 0.50)
	rec.P95 = percentile(latencies, 0.95)

	return rec
}

// percentile uses the nearest-rank method on sorted values.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}

	return sorted[rank]
}

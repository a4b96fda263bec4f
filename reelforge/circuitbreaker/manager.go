package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/LerianStudio/lib-reelforge/reelforge/failure"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/runtime"
)

type entry struct {
	breaker *gobreaker.CircuitBreaker
	config  Config
}

type meta struct {
	lastTransition time.Time
	forced         bool
}

type manager struct {
	mu        sync.RWMutex
	breakers  map[string]*entry
	listeners []StateChangeListener

	// metaMu is separate from mu because gobreaker calls OnStateChange while
	// holding its own lock, possibly under State() from a reader of mu.
	metaMu sync.Mutex
	meta   map[string]*meta

	logger log.Logger
	now    func() time.Time
}

// NewManager creates a circuit breaker manager.
func NewManager(logger log.Logger) Manager {
	return &manager{
		breakers: make(map[string]*entry),
		meta:     make(map[string]*meta),
		logger:   log.OrNop(logger),
		now:      time.Now,
	}
}

func (m *manager) newBreaker(dependency string, config Config) *gobreaker.CircuitBreaker {
	threshold := config.FailureThreshold

	// Set from OnStateChange, which gobreaker runs under the same lock as
	// IsSuccessful.
	var halfOpen atomic.Bool

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        dependency,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     config.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return isSuccessful(err, halfOpen.Load())
		},
		OnStateChange: func(_ string, from gobreaker.State, to gobreaker.State) {
			halfOpen.Store(to == gobreaker.StateHalfOpen)
			m.handleStateChange(dependency, convertGobreakerState(from), convertGobreakerState(to))
		},
	})
}

// isSuccessful decides whether a call counts against the dependency. While
// closed, a permanent rejection or a caller cancellation says nothing about
// provider health and does not count as a failure. A half-open trial closes
// the breaker only when it returns no error.
func isSuccessful(err error, halfOpen bool) bool {
	if err == nil {
		return true
	}

	if halfOpen {
		return false
	}

	return failure.IsPermanent(err) || failure.IsCanceled(err)
}

func (m *manager) GetOrCreate(dependency string, config Config) (CircuitBreaker, error) {
	m.mu.RLock()
	existing, exists := m.breakers[dependency]
	m.mu.RUnlock()

	if exists {
		return &circuitBreaker{manager: m, dependency: dependency, entry: existing}, nil
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("dependency %s: %w", dependency, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists = m.breakers[dependency]; exists {
		return &circuitBreaker{manager: m, dependency: dependency, entry: existing}, nil
	}

	created := &entry{breaker: m.newBreaker(dependency, config), config: config}
	m.breakers[dependency] = created

	m.metaMu.Lock()
	m.meta[dependency] = &meta{lastTransition: m.now()}
	m.metaMu.Unlock()

	m.logger.Log(context.Background(), log.LevelInfo, "created circuit breaker",
		log.Dependency(dependency),
		log.Int("failure_threshold", int(config.FailureThreshold)),
		log.Duration("recovery_timeout", config.RecoveryTimeout),
	)

	return &circuitBreaker{manager: m, dependency: dependency, entry: created}, nil
}

func (m *manager) lookup(dependency string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.breakers[dependency]

	return e, ok
}

func (m *manager) Execute(ctx context.Context, dependency string, fn func(ctx context.Context) (any, error)) (any, error) {
	e, exists := m.lookup(dependency)
	if !exists {
		return nil, fmt.Errorf("%w: %s (call GetOrCreate first)", ErrBreakerNotFound, dependency)
	}

	return m.execute(ctx, dependency, e, fn)
}

func (m *manager) execute(ctx context.Context, dependency string, e *entry, fn func(ctx context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if m.isForced(dependency) {
		return nil, &OpenError{Dependency: dependency, State: StateOpen}
	}

	result, err := e.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState):
			m.logger.Log(ctx, log.LevelDebug, "circuit breaker open, request rejected",
				log.Dependency(dependency))

			return nil, &OpenError{Dependency: dependency, State: StateOpen}
		case errors.Is(err, gobreaker.ErrTooManyRequests):
			m.logger.Log(ctx, log.LevelDebug, "circuit breaker half-open trial in flight, request rejected",
				log.Dependency(dependency))

			return nil, &OpenError{Dependency: dependency, State: StateHalfOpen}
		}
	}

	return result, err
}

func (m *manager) isForced(dependency string) bool {
	m.metaMu.Lock()
	defer m.metaMu.Unlock()

	md, ok := m.meta[dependency]

	return ok && md.forced
}

func (m *manager) stateOf(dependency string, e *entry) State {
	if m.isForced(dependency) {
		return StateOpen
	}

	return convertGobreakerState(e.breaker.State())
}

func (m *manager) State(dependency string) State {
	e, exists := m.lookup(dependency)
	if !exists {
		return StateUnknown
	}

	return m.stateOf(dependency, e)
}

func (m *manager) Snapshot(dependency string) (Snapshot, bool) {
	e, exists := m.lookup(dependency)
	if !exists {
		return Snapshot{}, false
	}

	// State first: it may move open to half-open and stamp a new transition.
	state := m.stateOf(dependency, e)
	counts := e.breaker.Counts()

	snapshot := Snapshot{
		Dependency:          dependency,
		State:               state,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		FailureThreshold:    e.config.FailureThreshold,
		RecoveryTimeout:     e.config.RecoveryTimeout,
	}

	m.metaMu.Lock()
	if md, ok := m.meta[dependency]; ok {
		snapshot.LastTransition = md.lastTransition
		snapshot.Forced = md.forced
	}
	m.metaMu.Unlock()

	return snapshot, true
}

func (m *manager) Snapshots() map[string]Snapshot {
	m.mu.RLock()
	names := make([]string, 0, len(m.breakers))

	for name := range m.breakers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	snapshots := make(map[string]Snapshot, len(names))

	for _, name := range names {
		if snapshot, ok := m.Snapshot(name); ok {
			snapshots[name] = snapshot
		}
	}

	return snapshots
}

func (m *manager) IsHealthy(dependency string) bool {
	return m.State(dependency) == StateClosed
}

func (m *manager) Reset(dependency string) {
	e, exists := m.lookup(dependency)
	if !exists {
		return
	}

	from := m.stateOf(dependency, e)

	m.mu.Lock()
	m.breakers[dependency] = &entry{breaker: m.newBreaker(dependency, e.config), config: e.config}
	m.mu.Unlock()

	m.metaMu.Lock()
	if md, ok := m.meta[dependency]; ok {
		md.forced = false
	}
	m.metaMu.Unlock()

	m.logger.Log(context.Background(), log.LevelInfo, "circuit breaker reset", log.Dependency(dependency))

	if from != StateClosed {
		m.handleStateChange(dependency, from, StateClosed)
	}
}

func (m *manager) ForceOpen(dependency string) {
	e, exists := m.lookup(dependency)
	if !exists {
		return
	}

	from := m.stateOf(dependency, e)

	m.metaMu.Lock()
	md, ok := m.meta[dependency]
	if !ok {
		md = &meta{}
		m.meta[dependency] = md
	}

	md.forced = true
	m.metaMu.Unlock()

	m.logger.Log(context.Background(), log.LevelWarn, "circuit breaker forced open", log.Dependency(dependency))

	if from != StateOpen {
		m.handleStateChange(dependency, from, StateOpen)
	}
}

func (m *manager) RegisterStateChangeListener(listener StateChangeListener) {
	if listener == nil {
		m.logger.Log(context.Background(), log.LevelWarn, "attempted to register a nil state change listener")

		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, listener)
}

func (m *manager) handleStateChange(dependency string, from State, to State) {
	m.metaMu.Lock()
	if md, ok := m.meta[dependency]; ok {
		md.lastTransition = m.now()
	}
	m.metaMu.Unlock()

	level := log.LevelInfo
	if to == StateOpen {
		level = log.LevelWarn
	}

	m.logger.Log(context.Background(), level, "circuit breaker state changed",
		log.Dependency(dependency),
		log.String("from", string(from)),
		log.String("to", string(to)),
	)

	m.mu.RLock()
	listeners := make([]StateChangeListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, listener := range listeners {
		m.notify(listener, dependency, from, to)
	}
}

func (m *manager) notify(listener StateChangeListener, dependency string, from, to State) {
	defer func() {
		if recovered := recover(); recovered != nil {
			runtime.HandlePanicValue(context.Background(), m.logger, recovered, "circuitbreaker", "state_change_listener")
		}
	}()

	listener.OnStateChange(dependency, from, to)
}

type circuitBreaker struct {
	manager    *manager
	dependency string
	entry      *entry
}

func (cb *circuitBreaker) current() *entry {
	if e, ok := cb.manager.lookup(cb.dependency); ok {
		return e
	}

	return cb.entry
}

func (cb *circuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	return cb.manager.execute(ctx, cb.dependency, cb.current(), fn)
}

func (cb *circuitBreaker) State() State {
	return cb.manager.stateOf(cb.dependency, cb.current())
}

func (cb *circuitBreaker) Counts() Counts {
	return convertCounts(cb.current().breaker.Counts())
}

// Run executes fn through the dependency's breaker with a typed result.
func Run[T any](ctx context.Context, m Manager, dependency string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	result, err := m.Execute(ctx, dependency, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if typed, ok := result.(T); ok {
			return typed, err
		}

		return zero, err
	}

	typed, ok := result.(T)
	if !ok {
		return zero, nil
	}

	return typed, nil
}

package resource

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/opentelemetry/metrics"
)

// Class is a workload class. A class with a reserved Budget draws only from
// that budget, so a slow stage cannot starve the others.
type Class string

const (
	ClassVoice    Class = "voice"
	ClassVisual   Class = "visual"
	ClassOverlay  Class = "overlay"
	ClassAssembly Class = "assembly"
)

var (
	// ErrResourceExhausted is matched by every ExhaustedError.
	ErrResourceExhausted = errors.New("resource request exceeds total capacity")
	// ErrAcquireTimeout is returned when capacity did not free up in time.
	ErrAcquireTimeout = errors.New("timed out waiting for resources")
	// ErrInvalidRequest is returned for negative unit requests.
	ErrInvalidRequest = errors.New("invalid resource request")
	// ErrOvercommitted is returned by Capacity.Validate when the reserved
	// budgets add up to more than the total.
	ErrOvercommitted = errors.New("reserved budgets exceed total capacity")
)

// ExhaustedError reports a request that can never be satisfied.
type ExhaustedError struct {
	Request  Request
	Capacity Capacity
	Reason   string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %s (requester %s)", ErrResourceExhausted.Error(), e.Reason, e.Request.Requester)
}

// Unwrap returns ErrResourceExhausted.
func (e *ExhaustedError) Unwrap() error { return ErrResourceExhausted }

// Budget is an amount of memory and cpu.
type Budget struct {
	MemoryUnits int64 `json:"memoryUnits"`
	CPUUnits    int64 `json:"cpuUnits"`
}

func (b Budget) add(o Budget) Budget {
	return Budget{MemoryUnits: b.MemoryUnits + o.MemoryUnits, CPUUnits: b.CPUUnits + o.CPUUnits}
}

func (b Budget) covers(o Budget) bool {
	return o.MemoryUnits <= b.MemoryUnits && o.CPUUnits <= b.CPUUnits
}

// Capacity is the total the manager may grant. A class missing from Slots has
// no concurrency ceiling of its own. A class listed in Reserved is held to its
// budget and never touches the shared pool; the other classes share what is
// left of the total once every reservation is set aside.
type Capacity struct {
	MemoryUnits int64            `json:"memoryUnits"`
	CPUUnits    int64            `json:"cpuUnits"`
	Slots       map[Class]int    `json:"slots,omitempty"`
	Reserved    map[Class]Budget `json:"reserved,omitempty"`
}

func (c Capacity) clone() Capacity {
	c.Slots = maps.Clone(c.Slots)
	c.Reserved = maps.Clone(c.Reserved)

	return c
}

func (c Capacity) total() Budget {
	return Budget{MemoryUnits: c.MemoryUnits, CPUUnits: c.CPUUnits}
}

func (c Capacity) reservedTotal() Budget {
	var sum Budget
	for _, b := range c.Reserved {
		sum = sum.add(b)
	}

	return sum
}

// Shared returns the part of the total not reserved for any class.
func (c Capacity) Shared() Budget {
	reserved := c.reservedTotal()

	return Budget{
		MemoryUnits: max(c.MemoryUnits-reserved.MemoryUnits, 0),
		CPUUnits:    max(c.CPUUnits-reserved.CPUUnits, 0),
	}
}

// Validate rejects negative values and reservations that do not fit in the
// total.
func (c Capacity) Validate() error {
	if c.MemoryUnits < 0 || c.CPUUnits < 0 {
		return fmt.Errorf("%w: negative total", ErrInvalidRequest)
	}

	for class, b := range c.Reserved {
		if b.MemoryUnits < 0 || b.CPUUnits < 0 {
			return fmt.Errorf("%w: negative budget for class %s", ErrInvalidRequest, class)
		}
	}

	if reserved := c.reservedTotal(); !c.total().covers(reserved) {
		return fmt.Errorf("%w: reserved %d memory / %d cpu, total %d memory / %d cpu",
			ErrOvercommitted, reserved.MemoryUnits, reserved.CPUUnits, c.MemoryUnits, c.CPUUnits)
	}

	return nil
}

// pool returns the budget req draws from.
func (c Capacity) pool(class Class) Budget {
	if b, ok := c.Reserved[class]; ok {
		return b
	}

	return c.Shared()
}

// Request asks for a reservation.
type Request struct {
	Requester   string
	Class       Class
	MemoryUnits int64
	CPUUnits    int64
}

// Config configures a Manager.
type Config struct {
	Capacity       Capacity
	AcquireTimeout time.Duration // 0 waits until ctx ends
}

// Stats is a point-in-time utilization view.
type Stats struct {
	Capacity    Capacity      `json:"capacity"`
	MemoryInUse int64            `json:"memoryInUse"`
	CPUInUse    int64            `json:"cpuInUse"`
	SlotsInUse  map[Class]int    `json:"slotsInUse"`
	ClassInUse  map[Class]Budget `json:"classInUse"`
	Active      int           `json:"active"`
	Waiting     int           `json:"waiting"`
	Granted     uint64        `json:"granted"`
	TimedOut    uint64        `json:"timedOut"`
}

// Allocation is a granted reservation. Release is idempotent.
type Allocation struct {
	Requester   string
	Class       Class
	MemoryUnits int64
	CPUUnits    int64
	AcquiredAt  time.Time

	manager  *Manager
	released atomic.Bool
}

// Release returns the reservation to the manager.
func (a *Allocation) Release() {
	if a == nil || !a.released.CompareAndSwap(false, true) {
		return
	}

	a.manager.release(a)
}

// Manager grants allocations under a fixed ceiling.
type Manager struct {
	mu       sync.Mutex
	capacity Capacity
	timeout  time.Duration

	memoryInUse int64
	cpuInUse    int64
	slotsInUse  map[Class]int
	// pooled is what each reserved class holds; shared is what the
	// unreserved classes hold together.
	pooled map[Class]Budget
	shared Budget
	active      int
	waiting     int
	granted     uint64
	timedOut    uint64

	// changed is closed and replaced on every release so waiters re-check.
	changed chan struct{}

	logger  log.Logger
	metrics *metrics.MetricsFactory
	now     func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(m *Manager) { m.logger = log.OrNop(logger) }
}

// WithMetrics exports utilization gauges and acquire wait latency.
func WithMetrics(factory *metrics.MetricsFactory) Option {
	return func(m *Manager) { m.metrics = factory }
}

// NewManager creates a Manager with cfg.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		capacity:   cfg.Capacity.clone(),
		timeout:    cfg.AcquireTimeout,
		slotsInUse: make(map[Class]int),
		pooled:     make(map[Class]Budget),
		changed:    make(chan struct{}),
		logger:     log.NewNop(),
		now:        time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Acquire blocks until req fits, the acquire timeout elapses or ctx ends.
func (m *Manager) Acquire(ctx context.Context, req Request) (*Allocation, error) {
	if err := m.check(req); err != nil {
		return nil, err
	}

	start := m.now()

	var deadline <-chan time.Time

	if m.timeout > 0 {
		timer := time.NewTimer(m.timeout)
		defer timer.Stop()

		deadline = timer.C
	}

	m.mu.Lock()
	m.waiting++

	for {
		if m.fits(req) {
			allocation := m.grant(req)
			m.waiting--
			memInUse, cpuInUse := m.memoryInUse, m.cpuInUse
			m.mu.Unlock()

			m.observeGrant(ctx, req, m.now().Sub(start), memInUse, cpuInUse)

			return allocation, nil
		}

		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			m.leaveQueue(false)

			return nil, ctx.Err()
		case <-deadline:
			m.leaveQueue(true)

			m.logger.Log(ctx, log.LevelWarn, "resource acquire timed out",
				log.String("requester", req.Requester),
				log.String("class", string(req.Class)),
				log.Duration("timeout", m.timeout),
			)

			return nil, fmt.Errorf("%w after %s (requester %s)", ErrAcquireTimeout, m.timeout, req.Requester)
		}

		m.mu.Lock()
	}
}

func (m *Manager) leaveQueue(timedOut bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.waiting--
	if timedOut {
		m.timedOut++
	}
}

func (m *Manager) check(req Request) error {
	if req.MemoryUnits < 0 || req.CPUUnits < 0 {
		return fmt.Errorf("%w: negative units requested by %s", ErrInvalidRequest, req.Requester)
	}

	pool := m.capacity.pool(req.Class)

	switch slots, bounded := m.capacity.Slots[req.Class]; {
	case req.MemoryUnits > m.capacity.MemoryUnits:
		return &ExhaustedError{Request: req, Capacity: m.capacity.clone(), Reason: "memory request above total memory"}
	case req.CPUUnits > m.capacity.CPUUnits:
		return &ExhaustedError{Request: req, Capacity: m.capacity.clone(), Reason: "cpu request above total cpu"}
	case req.MemoryUnits > pool.MemoryUnits:
		return &ExhaustedError{Request: req, Capacity: m.capacity.clone(), Reason: "memory request above the budget of class " + string(req.Class)}
	case req.CPUUnits > pool.CPUUnits:
		return &ExhaustedError{Request: req, Capacity: m.capacity.clone(), Reason: "cpu request above the budget of class " + string(req.Class)}
	case bounded && slots <= 0:
		return &ExhaustedError{Request: req, Capacity: m.capacity.clone(), Reason: "class " + string(req.Class) + " has no slots"}
	}

	return nil
}

// fits must be called with mu held.
func (m *Manager) fits(req Request) bool {
	if m.memoryInUse+req.MemoryUnits > m.capacity.MemoryUnits {
		return false
	}

	if m.cpuInUse+req.CPUUnits > m.capacity.CPUUnits {
		return false
	}

	if slots, bounded := m.capacity.Slots[req.Class]; bounded && m.slotsInUse[req.Class] >= slots {
		return false
	}

	want := Budget{MemoryUnits: req.MemoryUnits, CPUUnits: req.CPUUnits}

	if _, reserved := m.capacity.Reserved[req.Class]; reserved {
		return m.capacity.pool(req.Class).covers(m.pooled[req.Class].add(want))
	}

	return m.capacity.Shared().covers(m.shared.add(want))
}

// charge must be called with mu held. sign is 1 on grant and -1 on release.
func (m *Manager) charge(class Class, memoryUnits, cpuUnits, sign int64) {
	delta := Budget{MemoryUnits: sign * memoryUnits, CPUUnits: sign * cpuUnits}

	m.memoryInUse += delta.MemoryUnits
	m.cpuInUse += delta.CPUUnits

	if _, reserved := m.capacity.Reserved[class]; reserved {
		m.pooled[class] = m.pooled[class].add(delta)
		return
	}

	m.shared = m.shared.add(delta)
}

// grant must be called with mu held.
func (m *Manager) grant(req Request) *Allocation {
	m.charge(req.Class, req.MemoryUnits, req.CPUUnits, 1)
	m.slotsInUse[req.Class]++
	m.active++
	m.granted++

	return &Allocation{
		Requester:   req.Requester,
		Class:       req.Class,
		MemoryUnits: req.MemoryUnits,
		CPUUnits:    req.CPUUnits,
		AcquiredAt:  m.now(),
		manager:     m,
	}
}

func (m *Manager) release(a *Allocation) {
	m.mu.Lock()
	m.charge(a.Class, a.MemoryUnits, a.CPUUnits, -1)
	m.slotsInUse[a.Class]--
	m.active--

	close(m.changed)
	m.changed = make(chan struct{})

	memInUse, cpuInUse := m.memoryInUse, m.cpuInUse
	m.mu.Unlock()

	if m.metrics != nil {
		_ = m.metrics.RecordResourceUsage(context.Background(), memInUse, cpuInUse)
	}
}

func (m *Manager) observeGrant(ctx context.Context, req Request, wait time.Duration, memInUse, cpuInUse int64) {
	m.logger.Log(ctx, log.LevelDebug, "resources granted",
		log.String("requester", req.Requester),
		log.String("class", string(req.Class)),
		log.Duration("wait", wait),
	)

	if m.metrics == nil {
		return
	}

	_ = m.metrics.RecordAcquireWait(ctx, string(req.Class), wait)
	_ = m.metrics.RecordResourceUsage(ctx, memInUse, cpuInUse)
}

// Do runs fn while holding an allocation for req.
func (m *Manager) Do(ctx context.Context, req Request, fn func(ctx context.Context) error) error {
	allocation, err := m.Acquire(ctx, req)
	if err != nil {
		return err
	}
	defer allocation.Release()

	return fn(ctx)
}

// Stats returns the current utilization.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	slots := make(map[Class]int, len(m.slotsInUse))

	for class, n := range m.slotsInUse {
		if n > 0 {
			slots[class] = n
		}
	}

	pooled := make(map[Class]Budget, len(m.pooled))

	for class, b := range m.pooled {
		if b != (Budget{}) {
			pooled[class] = b
		}
	}

	return Stats{
		Capacity:    m.capacity.clone(),
		MemoryInUse: m.memoryInUse,
		CPUInUse:    m.cpuInUse,
		SlotsInUse:  slots,
		ClassInUse:  pooled,
		Active:      m.active,
		Waiting:     m.waiting,
		Granted:     m.granted,
		TimedOut:    m.timedOut,
	}
}

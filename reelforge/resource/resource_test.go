//go:build unit

package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	constant "github.com/LerianStudio/lib-reelforge/reelforge/constants"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/opentelemetry/metrics"
)

func newManager(capacity Capacity, timeout time.Duration) *Manager {
	return NewManager(Config{Capacity: capacity, AcquireTimeout: timeout}, WithLogger(log.NewNop()))
}

func TestAcquire_GrantsAndReleases(t *testing.T) {
	t.Parallel()

	m := newManager(Capacity{MemoryUnits: 100, CPUUnits: 10}, time.Second)

	allocation, err := m.Acquire(context.Background(), Request{Requester: "job-1/scene-1/voice", Class: ClassVoice, MemoryUnits: 60, CPUUnits: 4})
	require.NoError(t, err)
	assert.Equal(t, "job-1/scene-1/voice", allocation.Requester)
	assert.False(t, allocation.AcquiredAt.IsZero())

	stats := m.Stats()
	assert.Equal(t, int64(60), stats.MemoryInUse)
	assert.Equal(t, int64(4), stats.CPUInUse)
	assert.Equal(t, 1, stats.SlotsInUse[ClassVoice])
	assert.Equal(t, 1, stats.Active)

	allocation.Release()
	allocation.Release()

	stats = m.Stats()
	assert.Zero(t, stats.MemoryInUse)
	assert.Zero(t, stats.CPUInUse)
	assert.Zero(t, stats.Active)
	assert.Equal(t, uint64(1), stats.Granted)
}

func TestAcquire_RequestAboveCapacityFailsImmediately(t *testing.T) {
	t.Parallel()

	m := newManager(Capacity{MemoryUnits: 100, CPUUnits: 10, Slots: map[Class]int{ClassAssembly: 0}}, time.Hour)

	tests := []Request{
		{Requester: "mem", Class: ClassVisual, MemoryUnits: 101},
		{Requester: "cpu", Class: ClassVisual, CPUUnits: 11},
		{Requester: "slots", Class: ClassAssembly},
	}

	for _, req := range tests {
		start := time.Now()
		_, err := m.Acquire(context.Background(), req)

		require.ErrorIs(t, err, ErrResourceExhausted, req.Requester)

		var exhausted *ExhaustedError
		require.True(t, errors.As(err, &exhausted))
		assert.Equal(t, req.Requester, exhausted.Request.Requester)
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	}
}

func TestAcquire_InvalidRequest(t *testing.T) {
	t.Parallel()

	_, err := newManager(Capacity{MemoryUnits: 1, CPUUnits: 1}, 0).Acquire(context.Background(), Request{MemoryUnits: -1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAcquire_BlocksUntilRelease(t *testing.T) {
	t.Parallel()

	m := newManager(Capacity{MemoryUnits: 10, CPUUnits: 10}, 2*time.Second)

	first, err := m.Acquire(context.Background(), Request{Requester: "a", Class: ClassVisual, MemoryUnits: 8})
	require.NoError(t, err)

	granted := make(chan *Allocation, 1)

	go func() {
		second, acquireErr := m.Acquire(context.Background(), Request{Requester: "b", Class: ClassVisual, MemoryUnits: 5})
		assert.NoError(t, acquireErr)
		granted <- second
	}()

	require.Eventually(t, func() bool { return m.Stats().Waiting == 1 }, time.Second, 5*time.Millisecond)

	select {
	case <-granted:
		t.Fatal("second allocation granted while capacity was held")
	default:
	}

	first.Release()

	select {
	case second := <-granted:
		assert.Equal(t, "b", second.Requester)
		second.Release()
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestAcquire_Timeout(t *testing.T) {
	t.Parallel()

	m := newManager(Capacity{MemoryUnits: 10, CPUUnits: 10}, 30*time.Millisecond)

	held, err := m.Acquire(context.Background(), Request{Requester: "a", MemoryUnits: 10})
	require.NoError(t, err)
	defer held.Release()

	_, err = m.Acquire(context.Background(), Request{Requester: "b", MemoryUnits: 1})
	require.ErrorIs(t, err, ErrAcquireTimeout)

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.TimedOut)
	assert.Zero(t, stats.Waiting)
}

func TestAcquire_ContextCancellation(t *testing.T) {
	t.Parallel()

	m := newManager(Capacity{MemoryUnits: 10, CPUUnits: 10}, 0)

	held, err := m.Acquire(context.Background(), Request{Requester: "a", MemoryUnits: 10})
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = m.Acquire(ctx, Request{Requester: "b", MemoryUnits: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, m.Stats().Waiting)
}

func TestAcquire_SlotsAreIndependentPerClass(t *testing.T) {
	t.Parallel()

	m := newManager(Capacity{MemoryUnits: 100, CPUUnits: 100, Slots: map[Class]int{ClassVisual: 1, ClassVoice: 2}}, 30*time.Millisecond)
	ctx := context.Background()

	visual, err := m.Acquire(ctx, Request{Requester: "v1", Class: ClassVisual})
	require.NoError(t, err)

	_, err = m.Acquire(ctx, Request{Requester: "v2", Class: ClassVisual})
	require.ErrorIs(t, err, ErrAcquireTimeout)

	for i := range 2 {
		voice, voiceErr := m.Acquire(ctx, Request{Requester: fmt.Sprintf("voice-%d", i), Class: ClassVoice})
		require.NoError(t, voiceErr)
		defer voice.Release()
	}

	visual.Release()
}

func TestAcquire_ReservedBudgetIsolatesClasses(t *testing.T) {
	t.Parallel()

	m := newManager(Capacity{
		MemoryUnits: 2048,
		CPUUnits:    2000,
		Reserved: map[Class]Budget{
			ClassVisual: {MemoryUnits: 1024, CPUUnits: 1000},
			ClassVoice:  {MemoryUnits: 256, CPUUnits: 250},
		},
	}, 30*time.Millisecond)
	ctx := context.Background()

	// Visual fills its own budget; the next visual request waits.
	var held []*Allocation
	for i := range 4 {
		a, err := m.Acquire(ctx, Request{Requester: fmt.Sprintf("visual-%d", i), Class: ClassVisual, MemoryUnits: 256, CPUUnits: 250})
		require.NoError(t, err)
		held = append(held, a)
	}

	_, err := m.Acquire(ctx, Request{Requester: "visual-extra", Class: ClassVisual, MemoryUnits: 256, CPUUnits: 250})
	require.ErrorIs(t, err, ErrAcquireTimeout)

	voice, err := m.Acquire(ctx, Request{Requester: "voice", Class: ClassVoice, MemoryUnits: 256, CPUUnits: 250})
	require.NoError(t, err)

	// Overlay has no reservation and uses the shared remainder.
	overlay, err := m.Acquire(ctx, Request{Requester: "overlay", Class: ClassOverlay, MemoryUnits: 768, CPUUnits: 750})
	require.NoError(t, err)

	_, err = m.Acquire(ctx, Request{Requester: "overlay-extra", Class: ClassOverlay, MemoryUnits: 1})
	require.ErrorIs(t, err, ErrAcquireTimeout)

	stats := m.Stats()
	assert.Equal(t, Budget{MemoryUnits: 1024, CPUUnits: 1000}, stats.ClassInUse[ClassVisual])
	assert.Equal(t, Budget{MemoryUnits: 256, CPUUnits: 250}, stats.ClassInUse[ClassVoice])
	assert.Equal(t, int64(2048), stats.MemoryInUse)

	voice.Release()
	overlay.Release()

	for _, a := range held {
		a.Release()
	}

	assert.Empty(t, m.Stats().ClassInUse)
	assert.Zero(t, m.Stats().MemoryInUse)
}

func TestAcquire_RequestAboveClassBudgetIsExhausted(t *testing.T) {
	t.Parallel()

	m := newManager(Capacity{
		MemoryUnits: 4096,
		CPUUnits:    4000,
		Reserved:    map[Class]Budget{ClassVoice: {MemoryUnits: 256, CPUUnits: 500}},
	}, time.Hour)

	_, err := m.Acquire(context.Background(), Request{Requester: "voice", Class: ClassVoice, MemoryUnits: 512})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, err, ErrResourceExhausted)
	assert.Contains(t, exhausted.Reason, "class voice")
}

func TestCapacity_Validate(t *testing.T) {
	t.Parallel()

	ok := Capacity{
		MemoryUnits: 1024,
		CPUUnits:    1000,
		Reserved: map[Class]Budget{
			ClassVoice:  {MemoryUnits: 512, CPUUnits: 500},
			ClassVisual: {MemoryUnits: 512, CPUUnits: 500},
		},
	}
	require.NoError(t, ok.Validate())
	assert.Equal(t, Budget{}, ok.Shared())

	over := ok.clone()
	over.Reserved[ClassOverlay] = Budget{MemoryUnits: 1}
	assert.ErrorIs(t, over.Validate(), ErrOvercommitted)

	negative := Capacity{MemoryUnits: 10, CPUUnits: 10, Reserved: map[Class]Budget{ClassVoice: {CPUUnits: -1}}}
	assert.ErrorIs(t, negative.Validate(), ErrInvalidRequest)
}

func TestDo_ReleasesOnErrorAndPanic(t *testing.T) {
	t.Parallel()

	m := newManager(Capacity{MemoryUnits: 10, CPUUnits: 10}, time.Second)
	req := Request{Requester: "scoped", Class: ClassOverlay, MemoryUnits: 5, CPUUnits: 5}
	boom := errors.New("overlay failed")

	err := m.Do(context.Background(), req, func(_ context.Context) error {
		assert.Equal(t, int64(5), m.Stats().MemoryInUse)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, m.Stats().MemoryInUse)

	assert.Panics(t, func() {
		_ = m.Do(context.Background(), req, func(_ context.Context) error {
			panic("collaborator bug")
		})
	})
	assert.Zero(t, m.Stats().MemoryInUse)
	assert.Zero(t, m.Stats().Active)
}

func TestManager_NeverExceedsCapacityUnderContention(t *testing.T) {
	t.Parallel()

	capacity := Capacity{
		MemoryUnits: 64,
		CPUUnits:    16,
		Slots:       map[Class]int{ClassVoice: 3, ClassVisual: 2, ClassOverlay: 4},
	}
	m := newManager(capacity, 0)
	classes := []Class{ClassVoice, ClassVisual, ClassOverlay}

	var (
		memory, cpu atomic.Int64
		slots       sync.Map
		violations  atomic.Int32
		wg          sync.WaitGroup
	)

	for _, class := range classes {
		counter := &atomic.Int64{}
		slots.Store(class, counter)
	}

	for worker := range 48 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			class := classes[worker%len(classes)]
			req := Request{
				Requester:   fmt.Sprintf("worker-%d", worker),
				Class:       class,
				MemoryUnits: int64(worker%7 + 4),
				CPUUnits:    int64(worker%3 + 1),
			}

			for range 20 {
				err := m.Do(context.Background(), req, func(_ context.Context) error {
					value, _ := slots.Load(class)
					slotCounter := value.(*atomic.Int64)

					usedMem := memory.Add(req.MemoryUnits)
					usedCPU := cpu.Add(req.CPUUnits)
					usedSlots := slotCounter.Add(1)

					if usedMem > capacity.MemoryUnits || usedCPU > capacity.CPUUnits || usedSlots > int64(capacity.Slots[class]) {
						violations.Add(1)
					}

					stats := m.Stats()
					if stats.MemoryInUse > capacity.MemoryUnits || stats.CPUInUse > capacity.CPUUnits {
						violations.Add(1)
					}

					time.Sleep(time.Millisecond)

					slotCounter.Add(-1)
					cpu.Add(-req.CPUUnits)
					memory.Add(-req.MemoryUnits)

					return nil
				})
				assert.NoError(t, err)
			}
		}()
	}

	wg.Wait()

	assert.Zero(t, violations.Load())

	stats := m.Stats()
	assert.Zero(t, stats.MemoryInUse)
	assert.Zero(t, stats.CPUInUse)
	assert.Zero(t, stats.Active)
	assert.Equal(t, uint64(48*20), stats.Granted)
}

func TestManager_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	factory, err := metrics.NewMetricsFactory(provider.Meter("resource-test"), nil)
	require.NoError(t, err)

	m := NewManager(Config{Capacity: Capacity{MemoryUnits: 10, CPUUnits: 10}}, WithMetrics(factory))

	allocation, err := m.Acquire(context.Background(), Request{Requester: "a", Class: ClassVisual, MemoryUnits: 7, CPUUnits: 3})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]metricdata.Aggregation{}

	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			names[metric.Name] = metric.Data
		}
	}

	require.Contains(t, names, constant.MetricResourceMemoryInUse)
	require.Contains(t, names, constant.MetricResourceAcquireWaitLatency)

	gauge, ok := names[constant.MetricResourceMemoryInUse].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(7), gauge.DataPoints[0].Value)

	allocation.Release()
}

func TestResolve_KeepsExplicitCapacity(t *testing.T) {
	t.Parallel()

	explicit := Capacity{MemoryUnits: 512, CPUUnits: 2000}

	resolved, err := Resolve(explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, resolved)
}

func TestHostCapacity(t *testing.T) {
	t.Parallel()

	capacity, err := HostCapacity()
	if err != nil {
		t.Skipf("host metrics unavailable: %v", err)
	}

	assert.Positive(t, capacity.MemoryUnits)
	assert.GreaterOrEqual(t, capacity.CPUUnits, int64(CPUUnitsPerCore))

	resolved, err := Resolve(Capacity{CPUUnits: 500})
	require.NoError(t, err)
	assert.Equal(t, capacity.MemoryUnits, resolved.MemoryUnits)
	assert.Equal(t, int64(500), resolved.CPUUnits)
}

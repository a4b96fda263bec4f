//go:build unit

package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/lib-reelforge/reelforge/failure"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
)

var errProvider = errors.New("provider 503")

type transitionRecorder struct {
	mu          sync.Mutex
	transitions []string
}

func (r *transitionRecorder) OnStateChange(dependency string, from State, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transitions = append(r.transitions, dependency+":"+string(from)+"->"+string(to))
}

func (r *transitionRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.transitions...)
}

func newTestManager(t *testing.T, config Config) Manager {
	t.Helper()

	manager := NewManager(log.NewNop())
	_, err := manager.GetOrCreate("visual", config)
	require.NoError(t, err)

	return manager
}

func fail(_ context.Context) (any, error) { return nil, errProvider }

func TestCircuitBreaker_InitialState(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, DefaultConfig())

	assert.Equal(t, StateClosed, manager.State("visual"))
	assert.True(t, manager.IsHealthy("visual"))
	assert.Equal(t, StateUnknown, manager.State("missing"))
}

func TestCircuitBreaker_GetOrCreateRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	manager := NewManager(nil)

	_, err := manager.GetOrCreate("voice", Config{FailureThreshold: 0, RecoveryTimeout: time.Second})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = manager.GetOrCreate("voice", Config{FailureThreshold: 1})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCircuitBreaker_ExecuteUnknownDependency(t *testing.T) {
	t.Parallel()

	_, err := NewManager(nil).Execute(context.Background(), "nope", fail)
	assert.ErrorIs(t, err, ErrBreakerNotFound)
}

func TestCircuitBreaker_OpensAfterThresholdAndFailsFast(t *testing.T) {
	t.Parallel()

	const threshold = 3

	manager := newTestManager(t, Config{FailureThreshold: threshold, RecoveryTimeout: time.Minute})

	for i := 0; i < threshold; i++ {
		_, err := manager.Execute(context.Background(), "visual", fail)
		require.ErrorIs(t, err, errProvider)
	}

	assert.Equal(t, StateOpen, manager.State("visual"))

	var calls atomic.Int32

	_, err := manager.Execute(context.Background(), "visual", func(_ context.Context) (any, error) {
		calls.Add(1)
		return "never", nil
	})

	require.ErrorIs(t, err, ErrCircuitOpen)

	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "visual", openErr.Dependency)
	assert.Zero(t, calls.Load())
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, Config{FailureThreshold: 3, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	for range 2 {
		_, _ = manager.Execute(ctx, "visual", fail)
	}

	_, err := manager.Execute(ctx, "visual", func(_ context.Context) (any, error) { return "frame", nil })
	require.NoError(t, err)

	for range 2 {
		_, _ = manager.Execute(ctx, "visual", fail)
	}

	assert.Equal(t, StateClosed, manager.State("visual"))

	snapshot, ok := manager.Snapshot("visual")
	require.True(t, ok)
	assert.Equal(t, uint32(2), snapshot.ConsecutiveFailures)
}

func TestCircuitBreaker_PermanentAndCanceledErrorsDoNotTrip(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, Config{FailureThreshold: 2, RecoveryTimeout: time.Minute})
	ctx := context.Background()

	for range 5 {
		_, err := manager.Execute(ctx, "visual", func(_ context.Context) (any, error) {
			return nil, failure.Permanent(failure.CategoryPolicyRejected, errProvider)
		})
		require.Error(t, err)

		_, err = manager.Execute(ctx, "visual", func(_ context.Context) (any, error) {
			return nil, context.Canceled
		})
		require.Error(t, err)
	}

	assert.Equal(t, StateClosed, manager.State("visual"))
}

func TestCircuitBreaker_HalfOpenAllowsExactlyOneTrial(t *testing.T) {
	t.Parallel()

	recovery := 50 * time.Millisecond
	manager := newTestManager(t, Config{FailureThreshold: 1, RecoveryTimeout: recovery})
	ctx := context.Background()

	_, _ = manager.Execute(ctx, "visual", fail)
	require.Equal(t, StateOpen, manager.State("visual"))

	time.Sleep(recovery + 20*time.Millisecond)

	var (
		calls    atomic.Int32
		rejected atomic.Int32
		release  = make(chan struct{})
		started  = make(chan struct{})
		wg       sync.WaitGroup
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		_, err := manager.Execute(ctx, "visual", func(_ context.Context) (any, error) {
			calls.Add(1)
			close(started)
			<-release

			return "frame", nil
		})
		assert.NoError(t, err)
	}()

	<-started
	assert.Equal(t, StateHalfOpen, manager.State("visual"))

	var contenders sync.WaitGroup

	for range 5 {
		contenders.Add(1)

		go func() {
			defer contenders.Done()

			_, err := manager.Execute(ctx, "visual", func(_ context.Context) (any, error) {
				calls.Add(1)
				return nil, nil
			})
			if errors.Is(err, ErrCircuitOpen) {
				rejected.Add(1)
			}
		}()
	}

	contenders.Wait()
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(5), rejected.Load())
	assert.Equal(t, StateClosed, manager.State("visual"))
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	recovery := 40 * time.Millisecond
	manager := newTestManager(t, Config{FailureThreshold: 1, RecoveryTimeout: recovery})
	ctx := context.Background()

	_, _ = manager.Execute(ctx, "visual", fail)
	time.Sleep(recovery + 20*time.Millisecond)

	_, err := manager.Execute(ctx, "visual", fail)
	require.ErrorIs(t, err, errProvider)
	assert.Equal(t, StateOpen, manager.State("visual"))

	_, err = manager.Execute(ctx, "visual", fail)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenPermanentErrorDoesNotClose(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{name: "permanent", err: failure.Permanent(failure.CategoryInvalidInput, errors.New("bad prompt"))},
		{name: "canceled", err: context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			recovery := 40 * time.Millisecond
			manager := newTestManager(t, Config{FailureThreshold: 1, RecoveryTimeout: recovery})
			ctx := context.Background()

			_, _ = manager.Execute(ctx, "visual", fail)
			time.Sleep(recovery + 20*time.Millisecond)
			require.Equal(t, StateHalfOpen, manager.State("visual"))

			_, err := manager.Execute(ctx, "visual", func(_ context.Context) (any, error) {
				return nil, tt.err
			})
			require.ErrorIs(t, err, tt.err)
			assert.Equal(t, StateOpen, manager.State("visual"))

			time.Sleep(recovery + 20*time.Millisecond)

			_, err = manager.Execute(ctx, "visual", func(_ context.Context) (any, error) {
				return "frame", nil
			})
			require.NoError(t, err)
			assert.Equal(t, StateClosed, manager.State("visual"))
		})
	}
}

func TestIsSuccessful(t *testing.T) {
	t.Parallel()

	permanent := failure.Permanent(failure.CategoryInvalidInput, errProvider)

	assert.True(t, isSuccessful(nil, false))
	assert.True(t, isSuccessful(nil, true))
	assert.True(t, isSuccessful(permanent, false))
	assert.False(t, isSuccessful(permanent, true))
	assert.True(t, isSuccessful(context.Canceled, false))
	assert.False(t, isSuccessful(context.Canceled, true))
	assert.False(t, isSuccessful(errProvider, false))
}

func TestCircuitBreaker_ListenersSeeEveryTransition(t *testing.T) {
	t.Parallel()

	recovery := 40 * time.Millisecond
	manager := NewManager(log.NewNop())
	recorder := &transitionRecorder{}
	manager.RegisterStateChangeListener(recorder)
	manager.RegisterStateChangeListener(nil)

	_, err := manager.GetOrCreate("voice", Config{FailureThreshold: 1, RecoveryTimeout: recovery})
	require.NoError(t, err)

	ctx := context.Background()
	_, _ = manager.Execute(ctx, "voice", fail)
	time.Sleep(recovery + 20*time.Millisecond)
	_, err = manager.Execute(ctx, "voice", func(_ context.Context) (any, error) { return "wav", nil })
	require.NoError(t, err)

	assert.Equal(t, []string{
		"voice:closed->open",
		"voice:open->half-open",
		"voice:half-open->closed",
	}, recorder.all())
}

func TestCircuitBreaker_ListenerPanicIsContained(t *testing.T) {
	t.Parallel()

	manager := NewManager(log.NewNop())
	manager.RegisterStateChangeListener(StateChangeFunc(func(string, State, State) {
		panic("listener bug")
	}))

	_, err := manager.GetOrCreate("voice", Config{FailureThreshold: 1, RecoveryTimeout: time.Minute})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		_, _ = manager.Execute(context.Background(), "voice", fail)
	})
	assert.Equal(t, StateOpen, manager.State("voice"))
}

func TestCircuitBreaker_ForceOpenAndReset(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, DefaultConfig())
	recorder := &transitionRecorder{}
	manager.RegisterStateChangeListener(recorder)

	manager.ForceOpen("visual")
	assert.Equal(t, StateOpen, manager.State("visual"))

	var calls atomic.Int32

	_, err := manager.Execute(context.Background(), "visual", func(_ context.Context) (any, error) {
		calls.Add(1)
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls.Load())

	snapshot, ok := manager.Snapshot("visual")
	require.True(t, ok)
	assert.True(t, snapshot.Forced)

	manager.Reset("visual")
	assert.Equal(t, StateClosed, manager.State("visual"))

	_, err = manager.Execute(context.Background(), "visual", func(_ context.Context) (any, error) { return "ok", nil })
	assert.NoError(t, err)

	assert.Equal(t, []string{"visual:closed->open", "visual:open->closed"}, recorder.all())

	manager.ForceOpen("missing")
	manager.Reset("missing")
}

func TestCircuitBreaker_ResetClosesTrippedBreaker(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, Config{FailureThreshold: 1, RecoveryTimeout: time.Hour})

	_, _ = manager.Execute(context.Background(), "visual", fail)
	require.Equal(t, StateOpen, manager.State("visual"))

	manager.Reset("visual")

	snapshot, ok := manager.Snapshot("visual")
	require.True(t, ok)
	assert.Equal(t, StateClosed, snapshot.State)
	assert.Zero(t, snapshot.ConsecutiveFailures)
}

func TestCircuitBreaker_CanceledContextSkipsCall(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32

	_, err := manager.Execute(ctx, "visual", func(_ context.Context) (any, error) {
		calls.Add(1)
		return nil, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestCircuitBreaker_SnapshotsAndBreakerHandle(t *testing.T) {
	t.Parallel()

	manager := NewManager(nil)

	breaker, err := manager.GetOrCreate("assembly", AssemblyConfig())
	require.NoError(t, err)

	again, err := manager.GetOrCreate("assembly", Config{})
	require.NoError(t, err)
	assert.Equal(t, breaker.State(), again.State())

	result, err := breaker.Execute(context.Background(), func(_ context.Context) (any, error) { return "mp4", nil })
	require.NoError(t, err)
	assert.Equal(t, "mp4", result)
	assert.Equal(t, uint32(1), breaker.Counts().TotalSuccesses)

	snapshots := manager.Snapshots()
	require.Contains(t, snapshots, "assembly")
	assert.Equal(t, AssemblyConfig().FailureThreshold, snapshots["assembly"].FailureThreshold)
	assert.False(t, snapshots["assembly"].LastTransition.IsZero())
}

func TestRun_Typed(t *testing.T) {
	t.Parallel()

	manager := newTestManager(t, DefaultConfig())

	value, err := Run(context.Background(), manager, "visual", func(_ context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, value)

	value, err = Run(context.Background(), manager, "visual", func(_ context.Context) (int, error) {
		return 0, errProvider
	})
	assert.ErrorIs(t, err, errProvider)
	assert.Zero(t, value)
}

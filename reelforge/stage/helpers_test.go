//go:build unit

package stage

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/lib-reelforge/reelforge/circuitbreaker"
	"github.com/LerianStudio/lib-reelforge/reelforge/health"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/resource"
	"github.com/LerianStudio/lib-reelforge/reelforge/retry"
)

func newDeps(t *testing.T) Deps {
	t.Helper()

	return Deps{
		Breakers: circuitbreaker.NewManager(log.NewNop()),
		Resources: resource.NewManager(resource.Config{
			Capacity:       resource.Capacity{MemoryUnits: 8192, CPUUnits: 8000},
			AcquireTimeout: time.Second,
		}),
		Health: health.NewMonitor(health.Config{}),
		Logger: log.NewNop(),
	}
}

func fastConfig() Config {
	return Config{
		Retry:   retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Breaker: circuitbreaker.Config{FailureThreshold: 100, RecoveryTimeout: time.Minute},
	}
}

func testScene(index int) Scene {
	return Scene{
		ID:           "scene-" + string(rune('a'+index)),
		Index:        index,
		Narration:    "the build is green",
		VisualPrompt: "a terminal at night",
		OnScreenText: "$ make test",
		Duration:     2 * time.Second,
	}
}

type voiceFunc func(ctx context.Context, scene Scene, settings Settings) (VoiceOutput, error)

func (f voiceFunc) GenerateVoice(ctx context.Context, scene Scene, settings Settings) (VoiceOutput, error) {
	return f(ctx, scene, settings)
}

type artifactFunc func(ctx context.Context, scene Scene, settings Settings) (Artifact, error)

func (f artifactFunc) GenerateVisual(ctx context.Context, scene Scene, settings Settings) (Artifact, error) {
	return f(ctx, scene, settings)
}

func (f artifactFunc) GenerateOverlay(ctx context.Context, scene Scene, settings Settings) (Artifact, error) {
	return f(ctx, scene, settings)
}

type assembleFunc func(ctx context.Context, scenes []Scene, results []Result, settings Settings) (Artifact, error)

func (f assembleFunc) Assemble(ctx context.Context, scenes []Scene, results []Result, settings Settings) (Artifact, error) {
	return f(ctx, scenes, results, settings)
}

type counter struct{ n atomic.Int32 }

func (c *counter) inc() { c.n.Add(1) }

func (c *counter) load() int { return int(c.n.Load()) }

func requireNoAllocations(t *testing.T, deps Deps) {
	t.Helper()

	stats := deps.Resources.Stats()
	require.Zero(t, stats.Active)
	require.Zero(t, stats.MemoryInUse)
	require.Zero(t, stats.CPUInUse)
}

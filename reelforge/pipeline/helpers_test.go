//go:build unit

package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/lib-reelforge/reelforge/circuitbreaker"
	"github.com/LerianStudio/lib-reelforge/reelforge/health"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/resource"
	"github.com/LerianStudio/lib-reelforge/reelforge/retry"
	"github.com/LerianStudio/lib-reelforge/reelforge/stage"
)

type voiceFunc func(ctx context.Context, scene stage.Scene) (stage.VoiceOutput, error)

func (f voiceFunc) GenerateVoice(ctx context.Context, scene stage.Scene, _ stage.Settings) (stage.VoiceOutput, error) {
	return f(ctx, scene)
}

type visualFunc func(ctx context.Context, scene stage.Scene) (stage.Artifact, error)

func (f visualFunc) GenerateVisual(ctx context.Context, scene stage.Scene, _ stage.Settings) (stage.Artifact, error) {
	return f(ctx, scene)
}

type overlayFunc func(ctx context.Context, scene stage.Scene) (stage.Artifact, error)

func (f overlayFunc) GenerateOverlay(ctx context.Context, scene stage.Scene, _ stage.Settings) (stage.Artifact, error) {
	return f(ctx, scene)
}

type assembleFunc func(ctx context.Context, scenes []stage.Scene, results []stage.Result) (stage.Artifact, error)

func (f assembleFunc) Assemble(ctx context.Context, scenes []stage.Scene, results []stage.Result, _ stage.Settings) (stage.Artifact, error) {
	return f(ctx, scenes, results)
}

func healthyVoice() voiceFunc {
	return func(_ context.Context, scene stage.Scene) (stage.VoiceOutput, error) {
		return stage.VoiceOutput{Audio: stage.Artifact{URI: "mem://voice/" + scene.ID}}, nil
	}
}

func healthyVisual() visualFunc {
	return func(_ context.Context, scene stage.Scene) (stage.Artifact, error) {
		return stage.Artifact{URI: "mem://visual/" + scene.ID}, nil
	}
}

func healthyOverlay() overlayFunc {
	return func(_ context.Context, scene stage.Scene) (stage.Artifact, error) {
		return stage.Artifact{URI: "mem://overlay/" + scene.ID}, nil
	}
}

func healthyAssembler() assembleFunc {
	return func(context.Context, []stage.Scene, []stage.Result) (stage.Artifact, error) {
		return stage.Artifact{URI: "mem://final.mp4", MediaType: "video/mp4"}, nil
	}
}

type providers struct {
	voice     stage.VoiceProvider
	visual    stage.VisualProvider
	overlay   stage.OverlayProvider
	assembler stage.Assembler
}

func healthyProviders() providers {
	return providers{
		voice:     healthyVoice(),
		visual:    healthyVisual(),
		overlay:   healthyOverlay(),
		assembler: healthyAssembler(),
	}
}

type harness struct {
	orch *Orchestrator
	deps stage.Deps
}

func newHarness(t *testing.T, p providers, cfg Config, opts ...Option) *harness {
	t.Helper()

	deps := stage.Deps{
		Breakers: circuitbreaker.NewManager(log.NewNop()),
		Resources: resource.NewManager(resource.Config{
			Capacity:       resource.Capacity{MemoryUnits: 16384, CPUUnits: 16000},
			AcquireTimeout: 5 * time.Second,
		}),
		Health: health.NewMonitor(health.Config{}),
		Logger: log.NewNop(),
	}
	deps.Breakers.RegisterStateChangeListener(deps.Health)

	stageCfg := stage.Config{
		Retry:   retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Breaker: circuitbreaker.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute},
	}

	voice, err := stage.NewVoiceService(p.voice, deps, stageCfg)
	require.NoError(t, err)

	visual, err := stage.NewVisualService(p.visual, deps, stageCfg)
	require.NoError(t, err)

	overlay, err := stage.NewOverlayService(p.overlay, deps, stageCfg)
	require.NoError(t, err)

	assembly, err := stage.NewAssemblyService(p.assembler, deps, stageCfg)
	require.NoError(t, err)

	opts = append([]Option{WithLogger(log.NewNop()), WithHealth(deps.Health)}, opts...)

	orch, err := New(Stages{Voice: voice, Visual: visual, Overlay: overlay, Assembly: assembly}, cfg, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = orch.Close(ctx)
	})

	return &harness{orch: orch, deps: deps}
}

func threeScenes() []stage.Scene {
	scenes := make([]stage.Scene, 3)
	for i := range scenes {
		scenes[i] = stage.Scene{
			ID:           fmt.Sprintf("scene-%d", i+1),
			Narration:    "narration",
			VisualPrompt: "prompt",
			OnScreenText: "$ go test ./...",
			Duration:     2 * time.Second,
		}
	}

	return scenes
}

func (h *harness) run(t *testing.T, jobID string, scenes []stage.Scene, settings stage.Settings) Job {
	t.Helper()

	require.NoError(t, h.orch.Submit(context.Background(), jobID, scenes, settings))

	return h.wait(t, jobID)
}

func (h *harness) wait(t *testing.T, jobID string) Job {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := h.orch.Wait(ctx, jobID)
	require.NoError(t, err)

	return job
}

func countStatus(job Job, kind stage.Kind, status stage.Status) int {
	n := 0

	for _, byKind := range job.Results {
		if result, ok := byKind[kind]; ok && result.Status == status {
			n++
		}
	}

	return n
}

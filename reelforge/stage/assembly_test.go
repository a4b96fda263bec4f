//go:build unit

package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/lib-reelforge/reelforge/failure"
)

func sceneResults(scenes []Scene) []Result {
	var results []Result

	for i := len(scenes) - 1; i >= 0; i-- {
		for _, kind := range []Kind{KindOverlay, KindVoice, KindVisual} {
			results = append(results, Result{SceneID: scenes[i].ID, SceneIndex: scenes[i].Index, Kind: kind, Status: StatusOK})
		}
	}

	return results
}

func TestAssemblyService_OrdersInputAndSucceeds(t *testing.T) {
	t.Parallel()

	deps := newDeps(t)
	scenes := []Scene{testScene(2), testScene(0), testScene(1)}

	var (
		gotScenes  []Scene
		gotResults []Result
	)

	svc, err := NewAssemblyService(assembleFunc(func(_ context.Context, scenes []Scene, results []Result, _ Settings) (Artifact, error) {
		gotScenes, gotResults = scenes, results
		return Artifact{URI: "file:///out/job-1.mp4", MediaType: "video/mp4"}, nil
	}), deps, fastConfig())
	require.NoError(t, err)

	result, err := svc.Generate(context.Background(), Input{JobID: "job-1", Scenes: scenes, Results: sceneResults(scenes)}, Settings{})
	require.NoError(t, err)

	assert.Equal(t, StatusOK, result.Status)
	assert.Equal(t, KindAssembly, result.Kind)
	assert.Equal(t, "file:///out/job-1.mp4", result.Artifact.URI)
	assert.True(t, decimal.RequireFromString("0.012").Equal(result.Cost), result.Cost.String())

	require.Len(t, gotScenes, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{gotScenes[0].Index, gotScenes[1].Index, gotScenes[2].Index})

	require.Len(t, gotResults, 9)
	assert.Equal(t, 0, gotResults[0].SceneIndex)
	assert.Equal(t, KindVoice, gotResults[0].Kind)
	assert.Equal(t, KindVisual, gotResults[1].Kind)
	assert.Equal(t, KindOverlay, gotResults[2].Kind)
	assert.Equal(t, 2, gotResults[8].SceneIndex)
	requireNoAllocations(t, deps)
}

func TestAssemblyService_PermanentFailurePropagates(t *testing.T) {
	t.Parallel()

	deps := newDeps(t)
	calls := &counter{}

	svc, err := NewAssemblyService(assembleFunc(func(context.Context, []Scene, []Result, Settings) (Artifact, error) {
		calls.inc()
		return Artifact{}, failure.Permanent(failure.CategoryInvalidInput, errors.New("codec mismatch"))
	}), deps, fastConfig())
	require.NoError(t, err)

	result, err := svc.Generate(context.Background(), Input{JobID: "job-1", Scenes: []Scene{testScene(0)}}, Settings{})
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrPermanent)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Err, "codec mismatch")
	assert.Equal(t, 1, calls.load())
}

func TestAssemblyService_TransientFailureRetriesThenPropagates(t *testing.T) {
	t.Parallel()

	deps := newDeps(t)
	calls := &counter{}

	svc, err := NewAssemblyService(assembleFunc(func(context.Context, []Scene, []Result, Settings) (Artifact, error) {
		calls.inc()
		return Artifact{}, failure.Transient(failure.CategoryUnavailable, errors.New("ffmpeg busy"))
	}), deps, fastConfig())
	require.NoError(t, err)

	_, err = svc.Generate(context.Background(), Input{JobID: "job-1", Scenes: []Scene{testScene(0)}}, Settings{})
	require.Error(t, err)
	assert.Equal(t, 3, calls.load())
}

func TestOrderResults_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	input := []Result{
		{SceneIndex: 1, Kind: KindVoice},
		{SceneIndex: 0, Kind: KindOverlay},
		{SceneIndex: 0, Kind: KindVoice},
	}

	ordered := OrderResults(input)

	assert.Equal(t, 1, input[0].SceneIndex)
	assert.Equal(t, Result{SceneIndex: 0, Kind: KindVoice}, ordered[0])
	assert.Equal(t, Result{SceneIndex: 0, Kind: KindOverlay}, ordered[1])
	assert.Equal(t, 1, ordered[2].SceneIndex)
}

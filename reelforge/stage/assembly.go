package stage

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/LerianStudio/lib-reelforge/reelforge/failure"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
)

// AssemblyService composes the final video. It never degrades.
type AssemblyService struct {
	*guarded
	assembler Assembler
}

// NewAssemblyService builds the assembly stage around assembler.
func NewAssemblyService(assembler Assembler, deps Deps, cfg Config) (*AssemblyService, error) {
	if assembler == nil {
		return nil, ErrNilProvider
	}

	g, err := newGuarded(KindAssembly, deps, cfg)
	if err != nil {
		return nil, err
	}

	return &AssemblyService{guarded: g, assembler: assembler}, nil
}

var kindOrder = map[Kind]int{KindVoice: 0, KindVisual: 1, KindOverlay: 2, KindAssembly: 3}

// OrderResults returns a copy of results sorted by scene index, then stage.
func OrderResults(results []Result) []Result {
	ordered := slices.Clone(results)

	slices.SortStableFunc(ordered, func(a, b Result) int {
		if a.SceneIndex != b.SceneIndex {
			return a.SceneIndex - b.SceneIndex
		}

		return kindOrder[a.Kind] - kindOrder[b.Kind]
	})

	return ordered
}

// Generate assembles in.Results. Any failure is returned with a failed result.
func (s *AssemblyService) Generate(ctx context.Context, in Input, settings Settings) (Result, error) {
	settings = settings.WithDefaults()
	start := s.now()

	scenes := slices.Clone(in.Scenes)
	slices.SortStableFunc(scenes, func(a, b Scene) int { return a.Index - b.Index })

	results := OrderResults(in.Results)

	var total time.Duration
	for _, scene := range scenes {
		total += scene.Duration
	}

	result := Result{Kind: KindAssembly, SceneIndex: -1, Cost: decimal.Zero}

	artifact, attempts, err := invoke(ctx, s.guarded, s.requester(in.JobID, ""), settings,
		func(ctx context.Context) (Artifact, error) {
			artifact, err := s.assembler.Assemble(ctx, scenes, results, settings)
			if err == nil && artifact.Empty() {
				err = failure.Permanent(failure.CategoryInvalidInput, ErrEmptyArtifact)
			}

			return artifact, err
		},
	)

	result.Attempts = attempts
	result.Elapsed = s.now().Sub(start)

	if err != nil {
		result.Status = StatusFailed
		result.Err = failure.Summary(err)
		s.recordResult(ctx, result.Status)

		s.logger.Log(ctx, log.LevelError, "assembly failed",
			log.JobID(in.JobID),
			log.Int("attempts", attempts),
			log.Err(err),
		)

		return result, fmt.Errorf("assembly for job %s: %w", in.JobID, err)
	}

	result.Artifact = artifact
	result.Status = StatusOK
	result.Cost = s.cfg.UnitPrice.Mul(decimal.NewFromFloat(total.Seconds())).Round(4)
	s.recordResult(ctx, result.Status)

	return result, nil
}

package stage

import (
	"context"
	"time"
)

// VoiceOutput is narration audio for one scene.
type VoiceOutput struct {
	Audio    Artifact
	Duration time.Duration
}

// VoiceProvider synthesizes narration. Errors should be classified with
// failure.Transient or failure.Permanent.
type VoiceProvider interface {
	GenerateVoice(ctx context.Context, scene Scene, settings Settings) (VoiceOutput, error)
}

// VisualProvider renders the image or clip of one scene.
type VisualProvider interface {
	GenerateVisual(ctx context.Context, scene Scene, settings Settings) (Artifact, error)
}

// OverlayProvider renders the on-screen text of one scene.
type OverlayProvider interface {
	GenerateOverlay(ctx context.Context, scene Scene, settings Settings) (Artifact, error)
}

// Assembler composes the final video from per-scene results ordered by scene
// index.
type Assembler interface {
	Assemble(ctx context.Context, scenes []Scene, results []Result, settings Settings) (Artifact, error)
}

// Service is the uniform stage contract.
type Service interface {
	Kind() Kind
	Generate(ctx context.Context, in Input, settings Settings) (Result, error)
}

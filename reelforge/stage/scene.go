package stage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNilProvider is returned when a service is built without its collaborator.
var ErrNilProvider = errors.New("stage collaborator is nil")

// VoiceService narrates one scene. Cost is billed per second of audio.
type VoiceService struct {
	sceneService
}

// NewVoiceService builds the voice stage around provider.
func NewVoiceService(provider VoiceProvider, deps Deps, cfg Config) (*VoiceService, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}

	g, err := newGuarded(KindVoice, deps, cfg)
	if err != nil {
		return nil, err
	}

	return &VoiceService{sceneService{
		guarded: g,
		generate: func(ctx context.Context, scene Scene, settings Settings) (Artifact, decimal.Decimal, error) {
			out, err := provider.GenerateVoice(ctx, scene, settings)
			if err != nil {
				return Artifact{}, decimal.Zero, err
			}

			duration := out.Duration
			if duration <= 0 {
				duration = scene.Duration
			}

			return out.Audio, decimal.NewFromFloat(duration.Seconds()), nil
		},
	}}, nil
}

// VisualService renders the image of one scene. Cost is billed per image.
type VisualService struct {
	sceneService
}

// NewVisualService builds the visual stage around provider.
func NewVisualService(provider VisualProvider, deps Deps, cfg Config) (*VisualService, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}

	g, err := newGuarded(KindVisual, deps, cfg)
	if err != nil {
		return nil, err
	}

	return &VisualService{sceneService{
		guarded: g,
		generate: func(ctx context.Context, scene Scene, settings Settings) (Artifact, decimal.Decimal, error) {
			artifact, err := provider.GenerateVisual(ctx, scene, settings)

			return artifact, decimal.NewFromInt(1), err
		},
	}}, nil
}

// OverlayService renders the on-screen text of one scene. Cost is billed per
// overlay.
type OverlayService struct {
	sceneService
}

// NewOverlayService builds the terminal overlay stage around provider.
func NewOverlayService(provider OverlayProvider, deps Deps, cfg Config) (*OverlayService, error) {
	if provider == nil {
		return nil, ErrNilProvider
	}

	g, err := newGuarded(KindOverlay, deps, cfg)
	if err != nil {
		return nil, err
	}

	return &OverlayService{sceneService{
		guarded: g,
		generate: func(ctx context.Context, scene Scene, settings Settings) (Artifact, decimal.Decimal, error) {
			artifact, err := provider.GenerateOverlay(ctx, scene, settings)

			return artifact, decimal.NewFromInt(1), err
		},
	}}, nil
}

package stage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/LerianStudio/lib-reelforge/reelforge/failure"
)

var (
	// ErrNoScenes is returned for an empty script.
	ErrNoScenes = errors.New("at least one scene is required")
	// ErrDuplicateScene is returned when two scenes share an ID.
	ErrDuplicateScene = errors.New("duplicate scene id")
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})

	return validate
}

// ValidateScenes checks every scene and scene ID uniqueness. Failures are
// permanent invalid-input errors.
func ValidateScenes(scenes []Scene) error {
	if len(scenes) == 0 {
		return failure.Permanent(failure.CategoryInvalidInput, ErrNoScenes)
	}

	seen := make(map[string]struct{}, len(scenes))

	for i, scene := range scenes {
		if err := Validator().Struct(scene); err != nil {
			return failure.Permanent(failure.CategoryInvalidInput, fmt.Errorf("scene %d: %w", i, err))
		}

		if _, dup := seen[scene.ID]; dup {
			return failure.Permanent(failure.CategoryInvalidInput, fmt.Errorf("%w: %s", ErrDuplicateScene, scene.ID))
		}

		seen[scene.ID] = struct{}{}
	}

	return nil
}

// ValidateSettings checks job settings.
func ValidateSettings(settings Settings) error {
	if err := Validator().Struct(settings); err != nil {
		return failure.Permanent(failure.CategoryInvalidInput, fmt.Errorf("settings: %w", err))
	}

	for kind := range settings.Demands {
		switch kind {
		case KindVoice, KindVisual, KindOverlay, KindAssembly:
		default:
			return failure.Permanent(failure.CategoryInvalidInput, fmt.Errorf("settings: unknown stage %q in demands", kind))
		}
	}

	return nil
}

package local

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LerianStudio/lib-reelforge/reelforge/failure"
	"github.com/LerianStudio/lib-reelforge/reelforge/stage"
)

// ErrNoDirectory is returned by New for an empty output directory.
var ErrNoDirectory = errors.New("output directory is required")

// WordsPerMinute is the narration pace used to estimate voice durations.
const WordsPerMinute = 150

// Studio writes every artifact under one directory, one subdirectory per
// stage. It implements all four collaborator interfaces.
type Studio struct {
	dir string
}

var (
	_ stage.VoiceProvider   = (*Studio)(nil)
	_ stage.VisualProvider  = (*Studio)(nil)
	_ stage.OverlayProvider = (*Studio)(nil)
	_ stage.Assembler       = (*Studio)(nil)
)

// New returns a Studio writing under dir, creating it if needed.
func New(dir string) (*Studio, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, ErrNoDirectory
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	return &Studio{dir: dir}, nil
}

// Dir returns the output directory.
func (s *Studio) Dir() string { return s.dir }

// write stores data under kind and returns a file artifact. Each call gets a
// fresh name so concurrent jobs sharing scene IDs do not collide.
func (s *Studio) write(ctx context.Context, kind stage.Kind, sceneID, ext, mediaType string, data []byte) (stage.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return stage.Artifact{}, err
	}

	sub := filepath.Join(s.dir, string(kind))
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return stage.Artifact{}, failure.Transient(failure.CategoryUnavailable, err)
	}

	name := safeName(sceneID) + "-" + uuid.NewString() + ext
	path := filepath.Join(sub, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return stage.Artifact{}, failure.Transient(failure.CategoryUnavailable, err)
	}

	return stage.Artifact{
		URI:       "file://" + filepath.ToSlash(path),
		MediaType: mediaType,
		Size:      len(data),
	}, nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// NarrationDuration estimates how long narration takes to read aloud.
func NarrationDuration(narration string) time.Duration {
	words := len(strings.Fields(narration))

	return time.Duration(words) * time.Minute / WordsPerMinute
}

// GenerateVoice writes a silent WAV as long as the scene. The reported voice
// duration is the narration estimate capped at the scene length.
func (s *Studio) GenerateVoice(ctx context.Context, scene stage.Scene, settings stage.Settings) (stage.VoiceOutput, error) {
	audio, err := stage.SilentAudio(ctx, scene, settings)
	if err != nil {
		return stage.VoiceOutput{}, failure.Permanent(failure.CategoryInvalidInput, err)
	}

	artifact, err := s.write(ctx, stage.KindVoice, scene.ID, ".wav", audio.MediaType, audio.Data)
	if err != nil {
		return stage.VoiceOutput{}, err
	}

	return stage.VoiceOutput{
		Audio:    artifact,
		Duration: min(NarrationDuration(scene.Narration), scene.Duration),
	}, nil
}

// PromptColor derives a stable colour from a visual prompt.
func PromptColor(prompt string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))

	return fmt.Sprintf("#%06x", h.Sum32()&0xffffff)
}

// GenerateVisual writes a frame filled with the prompt's colour.
func (s *Studio) GenerateVisual(ctx context.Context, scene stage.Scene, settings stage.Settings) (stage.Artifact, error) {
	if strings.TrimSpace(scene.VisualPrompt) == "" {
		return stage.Artifact{}, failure.Permanent(failure.CategoryInvalidInput, errors.New("visual prompt is empty"))
	}

	settings.BackgroundColor = PromptColor(scene.VisualPrompt)

	frame, err := stage.SolidFrame(ctx, scene, settings)
	if err != nil {
		return stage.Artifact{}, failure.Permanent(failure.CategoryInvalidInput, err)
	}

	return s.write(ctx, stage.KindVisual, scene.ID, ".png", frame.MediaType, frame.Data)
}

// Overlay is the document written for each scene's on-screen text.
type Overlay struct {
	SceneID  string   `json:"sceneId"`
	Duration float64  `json:"durationSeconds"`
	Items    []string `json:"items"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
}

// GenerateOverlay writes the scene's on-screen text, one item per line.
func (s *Studio) GenerateOverlay(ctx context.Context, scene stage.Scene, settings stage.Settings) (stage.Artifact, error) {
	settings = settings.WithDefaults()

	items := []string{}

	for _, line := range strings.Split(scene.OnScreenText, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			items = append(items, line)
		}
	}

	data, err := json.Marshal(Overlay{
		SceneID:  scene.ID,
		Duration: scene.Duration.Seconds(),
		Items:    items,
		Width:    settings.Width,
		Height:   settings.Height,
	})
	if err != nil {
		return stage.Artifact{}, fmt.Errorf("encoding overlay: %w", err)
	}

	return s.write(ctx, stage.KindOverlay, scene.ID, ".json", "application/json", data)
}

// ManifestScene is one scene of an assembled manifest.
type ManifestScene struct {
	ID        string                `json:"id"`
	Index     int                   `json:"index"`
	Start     float64               `json:"startSeconds"`
	Duration  float64               `json:"durationSeconds"`
	Artifacts map[stage.Kind]string `json:"artifacts"`
	Fallbacks []stage.Kind          `json:"fallbacks,omitempty"`
}

// Manifest is the assembled output: an edit list over the scene artifacts.
type Manifest struct {
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	FrameRate int             `json:"frameRate"`
	Duration  float64         `json:"durationSeconds"`
	Scenes    []ManifestScene `json:"scenes"`
}

// Assemble writes a manifest placing the scenes back to back in index order.
// A scene missing any of its artifacts is a permanent failure.
func (s *Studio) Assemble(ctx context.Context, scenes []stage.Scene, results []stage.Result, settings stage.Settings) (stage.Artifact, error) {
	settings = settings.WithDefaults()

	byScene := make(map[string][]stage.Result, len(scenes))
	for _, r := range results {
		byScene[r.SceneID] = append(byScene[r.SceneID], r)
	}

	manifest := Manifest{
		Width:     settings.Width,
		Height:    settings.Height,
		FrameRate: settings.FrameRate,
		Scenes:    make([]ManifestScene, 0, len(scenes)),
	}

	ordered := slices.Clone(scenes)
	slices.SortFunc(ordered, func(a, b stage.Scene) int { return cmp.Compare(a.Index, b.Index) })

	var start time.Duration

	for _, scene := range ordered {
		entry := ManifestScene{
			ID:        scene.ID,
			Index:     scene.Index,
			Start:     start.Seconds(),
			Duration:  scene.Duration.Seconds(),
			Artifacts: make(map[stage.Kind]string, 3),
		}

		for _, r := range byScene[scene.ID] {
			entry.Artifacts[r.Kind] = r.Artifact.URI

			if r.Status == stage.StatusFallback {
				entry.Fallbacks = append(entry.Fallbacks, r.Kind)
			}
		}

		for _, kind := range []stage.Kind{stage.KindVoice, stage.KindVisual, stage.KindOverlay} {
			if entry.Artifacts[kind] == "" {
				return stage.Artifact{}, failure.Permanent(failure.CategoryInvalidInput,
					fmt.Errorf("scene %s has no %s artifact", scene.ID, kind))
			}
		}

		manifest.Scenes = append(manifest.Scenes, entry)
		start += scene.Duration
	}

	manifest.Duration = start.Seconds()

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return stage.Artifact{}, fmt.Errorf("encoding manifest: %w", err)
	}

	return s.write(ctx, stage.KindAssembly, "manifest", ".json", "application/json", data)
}

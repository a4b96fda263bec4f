package stage

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/LerianStudio/lib-reelforge/reelforge/resource"
)

// Kind identifies a stage.
type Kind string

const (
	KindVoice    Kind = "voice"
	KindVisual   Kind = "visual"
	KindOverlay  Kind = "overlay"
	KindAssembly Kind = "assembly"
)

// SceneKinds are the stages every scene goes through, in reporting order.
var SceneKinds = []Kind{KindVoice, KindVisual, KindOverlay}

// Kinds returns every stage kind, scene stages first.
func Kinds() []Kind {
	return []Kind{KindVoice, KindVisual, KindOverlay, KindAssembly}
}

// Class maps a stage to its resource class.
func (k Kind) Class() resource.Class {
	switch k {
	case KindVoice:
		return resource.ClassVoice
	case KindVisual:
		return resource.ClassVisual
	case KindOverlay:
		return resource.ClassOverlay
	default:
		return resource.ClassAssembly
	}
}

// Status is the outcome of a stage for one scene.
type Status string

const (
	StatusOK       Status = "ok"
	StatusFallback Status = "fallback"
	StatusFailed   Status = "failed"
)

// Scene is one narrative unit of the script.
type Scene struct {
	ID           string        `json:"id" validate:"required,max=128"`
	Index        int           `json:"index" validate:"gte=0"`
	Narration    string        `json:"narration" validate:"max=20000"`
	VisualPrompt string        `json:"visualPrompt" validate:"max=4000"`
	OnScreenText string        `json:"onScreenText,omitempty" validate:"max=2000"`
	Duration     time.Duration `json:"duration" validate:"gt=0,lte=10m"`
}

// Artifact references generated media by URI, by bytes, or both.
type Artifact struct {
	URI       string `json:"uri,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	Size      int    `json:"size,omitempty"`
	Data      []byte `json:"-"`
}

// Empty reports whether the artifact references nothing.
func (a Artifact) Empty() bool {
	return a.URI == "" && len(a.Data) == 0
}

// Result is produced exactly once per scene per stage, and once per job for
// assembly.
type Result struct {
	SceneID    string          `json:"sceneId,omitempty"`
	SceneIndex int             `json:"sceneIndex"`
	Kind       Kind            `json:"kind"`
	Artifact   Artifact        `json:"artifact"`
	Status     Status          `json:"status"`
	Err        string          `json:"error,omitempty"`
	Elapsed    time.Duration   `json:"elapsed"`
	Cost       decimal.Decimal `json:"cost"`
	Attempts   int             `json:"attempts"`
}

// Demand sizes the allocation a stage holds while calling its collaborator.
type Demand struct {
	MemoryUnits int64 `json:"memoryUnits" validate:"gte=0"`
	CPUUnits    int64 `json:"cpuUnits" validate:"gte=0"`
}

// Settings are job-wide generation options.
type Settings struct {
	Width           int             `json:"width,omitempty" validate:"omitempty,gte=16,lte=7680"`
	Height          int             `json:"height,omitempty" validate:"omitempty,gte=16,lte=4320"`
	FrameRate       int             `json:"frameRate,omitempty" validate:"omitempty,gte=1,lte=120"`
	Voice           string          `json:"voice,omitempty" validate:"max=128"`
	Style           string          `json:"style,omitempty" validate:"max=256"`
	BackgroundColor string          `json:"backgroundColor,omitempty" validate:"omitempty,hexcolor"`
	Demands         map[Kind]Demand `json:"demands,omitempty" validate:"omitempty,dive"`
}

// Default settings values.
const (
	DefaultWidth           = 1280
	DefaultHeight          = 720
	DefaultFrameRate       = 30
	DefaultBackgroundColor = "#101010"
)

// WithDefaults fills unset fields.
func (s Settings) WithDefaults() Settings {
	if s.Width == 0 {
		s.Width = DefaultWidth
	}

	if s.Height == 0 {
		s.Height = DefaultHeight
	}

	if s.FrameRate == 0 {
		s.FrameRate = DefaultFrameRate
	}

	if s.BackgroundColor == "" {
		s.BackgroundColor = DefaultBackgroundColor
	}

	return s
}

// Input is what a Service generates from. Per-scene services read Scene;
// assembly reads Scenes and Results.
type Input struct {
	JobID   string
	Scene   Scene
	Scenes  []Scene
	Results []Result
}

package pipeline

import (
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/LerianStudio/lib-reelforge/reelforge/stage"
)

var (
	// ErrJobNotFound is returned for IDs that are neither active nor archived.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when submitting an ID already in use.
	ErrJobExists = errors.New("job already exists")
	// ErrJobTimeout is the failure cause of jobs that outlive the job timeout.
	ErrJobTimeout = errors.New("job timed out")
	// ErrJobCancelled is the cancellation cause of jobs stopped by Cancel.
	ErrJobCancelled = errors.New("job cancelled")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("orchestrator closed")
	// ErrInvalidJob is returned for malformed submissions.
	ErrInvalidJob = errors.New("invalid job")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job is one script being turned into a video.
type Job struct {
	ID       string         `json:"id"`
	Scenes   []stage.Scene  `json:"scenes"`
	Settings stage.Settings `json:"settings"`
	Status   Status         `json:"status"`
	// Results holds per-scene stage results keyed by scene ID, then stage.
	Results map[string]map[stage.Kind]stage.Result `json:"results"`
	// Final is the assembly result, kept on failure for diagnostics.
	Final          *stage.Result   `json:"final,omitempty"`
	Error          string          `json:"error,omitempty"`
	FallbackScenes []string        `json:"fallbackScenes,omitempty"`
	ScenesDone     int             `json:"scenesDone"`
	Progress       float64         `json:"progress"`
	Cost           decimal.Decimal `json:"cost"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy of j.
func (j Job) Clone() Job {
	out := j
	out.Scenes = slices.Clone(j.Scenes)
	out.Settings.Demands = maps.Clone(j.Settings.Demands)
	out.FallbackScenes = slices.Clone(j.FallbackScenes)

	if j.Results != nil {
		out.Results = make(map[string]map[stage.Kind]stage.Result, len(j.Results))
		for sceneID, byKind := range j.Results {
			out.Results[sceneID] = maps.Clone(byKind)
		}
	}

	if j.Final != nil {
		final := *j.Final
		out.Final = &final
	}

	return out
}

// SceneResults returns every per-scene result ordered by scene index, then
// stage.
func (j Job) SceneResults() []stage.Result {
	results := make([]stage.Result, 0, len(j.Results)*len(stage.SceneKinds))

	for _, byKind := range j.Results {
		for _, result := range byKind {
			results = append(results, result)
		}
	}

	return stage.OrderResults(results)
}

func (j Job) sceneComplete(sceneID string) bool {
	byKind := j.Results[sceneID]

	for _, kind := range stage.SceneKinds {
		result, ok := byKind[kind]
		if !ok || (result.Status != stage.StatusOK && result.Status != stage.StatusFallback) {
			return false
		}
	}

	return true
}

package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	constant "github.com/LerianStudio/lib-reelforge/reelforge/constants"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/pipeline"
	"github.com/LerianStudio/lib-reelforge/reelforge/stage"
)

// JobService is the part of pipeline.Orchestrator the job routes use.
type JobService interface {
	Submit(ctx context.Context, jobID string, scenes []stage.Scene, settings stage.Settings) error
	Cancel(jobID string) error
	Status(ctx context.Context, jobID string) (pipeline.Job, error)
}

// SceneRequest is one scene of a submission. Durations are in seconds.
type SceneRequest struct {
	ID              string  `json:"id" validate:"required,max=128"`
	Narration       string  `json:"narration" validate:"max=20000"`
	VisualPrompt    string  `json:"visualPrompt" validate:"max=4000"`
	OnScreenText    string  `json:"onScreenText" validate:"max=2000"`
	DurationSeconds float64 `json:"durationSeconds" validate:"gt=0,lte=600"`
}

// SubmitJobRequest is the body of POST /v1/jobs.
type SubmitJobRequest struct {
	JobID    string         `json:"jobId" validate:"omitempty,max=128"`
	Scenes   []SceneRequest `json:"scenes" validate:"required,min=1,max=500,dive"`
	Settings stage.Settings `json:"settings"`
}

// StageScenes converts the request scenes, indexed by position.
func (r SubmitJobRequest) StageScenes() []stage.Scene {
	scenes := make([]stage.Scene, len(r.Scenes))
	for i, scene := range r.Scenes {
		scenes[i] = stage.Scene{
			ID:           scene.ID,
			Index:        i,
			Narration:    scene.Narration,
			VisualPrompt: scene.VisualPrompt,
			OnScreenText: scene.OnScreenText,
			Duration:     time.Duration(scene.DurationSeconds * float64(time.Second)),
		}
	}

	return scenes
}

// SubmitJobResponse is the body of an accepted submission or cancellation.
type SubmitJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// JobResponse is the body of GET /v1/jobs/:id.
type JobResponse struct {
	JobID          string          `json:"jobId"`
	Status         pipeline.Status `json:"status"`
	Progress       float64         `json:"progress"`
	ScenesDone     int             `json:"scenesDone"`
	ScenesTotal    int             `json:"scenesTotal"`
	Error          string          `json:"error,omitempty"`
	FallbackScenes []string        `json:"fallbackScenes,omitempty"`
	Cost           decimal.Decimal `json:"cost"`
	Results        []stage.Result  `json:"results"`
	Final          *stage.Result   `json:"final,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// NewJobResponse renders job for clients.
func NewJobResponse(job pipeline.Job) JobResponse {
	return JobResponse{
		JobID:          job.ID,
		Status:         job.Status,
		Progress:       job.Progress,
		ScenesDone:     job.ScenesDone,
		ScenesTotal:    len(job.Scenes),
		Error:          job.Error,
		FallbackScenes: job.FallbackScenes,
		Cost:           job.Cost,
		Results:        job.SceneResults(),
		Final:          job.Final,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

// JobHandler serves the job routes.
type JobHandler struct {
	Jobs   JobService
	Logger log.Logger
}

func (h *JobHandler) logger() log.Logger {
	return log.OrNop(h.Logger)
}

// Submit handles POST /v1/jobs.
func (h *JobHandler) Submit(c *fiber.Ctx) error {
	var req SubmitJobRequest

	if err := ParseBodyAndValidate(c, &req); err != nil {
		if errors.Is(err, ErrUnsupportedContentType) {
			return UnsupportedMediaTypeError(c, "unsupported_content_type", err.Error())
		}

		return BadRequestError(c, "invalid_request", err.Error())
	}

	jobID := req.JobID
	if jobID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}

		jobID = id.String()
	}

	scenes := req.StageScenes()

	err := h.Jobs.Submit(c.UserContext(), jobID, scenes, req.Settings)

	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrInvalidJob):
		return BadRequestError(c, "invalid_job", err.Error())
	case errors.Is(err, pipeline.ErrJobExists):
		return ConflictError(c, "job_exists", "a job with this id already exists")
	case errors.Is(err, pipeline.ErrClosed):
		return ServiceUnavailableError(c, "shutting_down")
	default:
		return err
	}

	h.logger().Log(c.UserContext(), log.LevelInfo, "job submitted",
		log.JobID(jobID),
		log.Int("scenes", len(scenes)),
	)

	c.Set(constant.HeaderJobID, jobID)
	c.Set(constant.HeaderLocation, "/v1/jobs/"+jobID)

	return Accepted(c, SubmitJobResponse{JobID: jobID, Status: string(pipeline.StatusQueued)})
}

// Get handles GET /v1/jobs/:id.
func (h *JobHandler) Get(c *fiber.Ctx) error {
	jobID := c.Params("id")

	job, err := h.Jobs.Status(c.UserContext(), jobID)
	if errors.Is(err, pipeline.ErrJobNotFound) {
		return NotFoundError(c, "job_not_found", "job "+jobID+" not found")
	}

	if err != nil {
		return err
	}

	return OK(c, NewJobResponse(job))
}

// Cancel handles DELETE /v1/jobs/:id.
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("id")

	if err := h.Jobs.Cancel(jobID); err != nil {
		if errors.Is(err, pipeline.ErrJobNotFound) {
			return NotFoundError(c, "job_not_found", "job "+jobID+" not found or already finished")
		}

		return err
	}

	h.logger().Log(c.UserContext(), log.LevelInfo, "job cancellation requested", log.JobID(jobID))

	return Accepted(c, SubmitJobResponse{JobID: jobID, Status: "cancelling"})
}

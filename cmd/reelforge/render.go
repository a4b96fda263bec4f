package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/LerianStudio/lib-reelforge/reelforge"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	httpapi "github.com/LerianStudio/lib-reelforge/reelforge/net/http"
	"github.com/LerianStudio/lib-reelforge/reelforge/pipeline"
	"github.com/LerianStudio/lib-reelforge/reelforge/stage/local"
)

// ErrJobUnsuccessful is returned when the rendered job did not complete.
var ErrJobUnsuccessful = errors.New("job did not complete")

func newRenderCommand() *cobra.Command {
	var (
		outputDir string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "render <scenes.json>",
		Short: "Render one job from a scenes file with the local studio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := reelforge.LoadConfig()
			if err != nil {
				return err
			}

			if outputDir != "" {
				cfg.OutputDir = outputDir
			}

			req, err := readScenesFile(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return render(ctx, cfg, log.NewNop(), req, cmd.OutOrStdout(), asJSON)
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for generated media (default $OUTPUT_DIR)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print progress events and the final job as JSON")

	return cmd
}

func readScenesFile(path string) (httpapi.SubmitJobRequest, error) {
	var req httpapi.SubmitJobRequest

	data, err := os.ReadFile(path)
	if err != nil {
		return req, err
	}

	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("parsing %s: %w", path, err)
	}

	if err := httpapi.ValidateStruct(req); err != nil {
		return req, fmt.Errorf("%s: %w", path, err)
	}

	return req, nil
}

func render(ctx context.Context, cfg reelforge.Config, logger log.Logger, req httpapi.SubmitJobRequest, out io.Writer, asJSON bool) error {
	studio, err := local.New(cfg.OutputDir)
	if err != nil {
		return err
	}

	e, err := newEngine(cfg, logger, studio)
	if err != nil {
		return err
	}

	defer func() {
		_ = e.orchestrator.Close(context.Background())
		_ = e.shutdownTelemetry(context.Background())
	}()

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	scenes := req.StageScenes()

	// room for every event of the job so none is dropped
	events, unsubscribe := e.orchestrator.Subscribe(4*len(scenes) + 8)
	defer unsubscribe()

	if err := e.orchestrator.Submit(ctx, jobID, scenes, req.Settings); err != nil {
		return err
	}

	enc := json.NewEncoder(out)

	for done := false; !done; {
		select {
		case event, ok := <-events:
			if !ok {
				done = true
				break
			}

			if event.JobID != jobID {
				continue
			}

			printEvent(out, enc, event, asJSON)

			done = event.Terminal()
		case <-ctx.Done():
			_ = e.orchestrator.Cancel(jobID)
			done = true
		}
	}

	job, err := e.orchestrator.Wait(context.Background(), jobID)
	if err != nil {
		return err
	}

	if asJSON {
		_ = enc.Encode(httpapi.NewJobResponse(job))
	} else {
		printSummary(out, job)
	}

	if job.Status != pipeline.StatusCompleted {
		return fmt.Errorf("%w: %s %s", ErrJobUnsuccessful, job.Status, job.Error)
	}

	return nil
}

func printEvent(out io.Writer, enc *json.Encoder, event pipeline.Event, asJSON bool) {
	if asJSON {
		_ = enc.Encode(event)
		return
	}

	scene := event.SceneID
	if scene == "" {
		scene = "-"
	}

	fmt.Fprintf(out, "%5.1f%%  %-9s %-12s %s\n", event.Progress*100, event.Stage, scene, event.Status)
}

func printSummary(out io.Writer, job pipeline.Job) {
	fmt.Fprintf(out, "\njob %s %s  cost=%s  fallback scenes=%d\n", job.ID, job.Status, job.Cost.StringFixed(4), len(job.FallbackScenes))

	if job.Final != nil {
		fmt.Fprintf(out, "output: %s\n", job.Final.Artifact.URI)
	}

	if job.Error != "" {
		fmt.Fprintf(out, "error: %s\n", job.Error)
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/LerianStudio/lib-reelforge/reelforge/assert"
	"github.com/LerianStudio/lib-reelforge/reelforge/errgroup"
	"github.com/LerianStudio/lib-reelforge/reelforge/failure"
	"github.com/LerianStudio/lib-reelforge/reelforge/health"
	"github.com/LerianStudio/lib-reelforge/reelforge/jobstore"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/opentelemetry"
	"github.com/LerianStudio/lib-reelforge/reelforge/opentelemetry/metrics"
	"github.com/LerianStudio/lib-reelforge/reelforge/runtime"
	"github.com/LerianStudio/lib-reelforge/reelforge/stage"
)

const component = "pipeline"

var (
	// ErrMissingStage is returned by New when a stage service is nil or of the
	// wrong kind.
	ErrMissingStage = errors.New("pipeline stage missing")
	// ErrJobPanicked is the failure cause of jobs whose runner panicked.
	ErrJobPanicked = errors.New("job runner panicked")
)

// Stages are the four services a job runs through.
type Stages struct {
	Voice    stage.Service
	Visual   stage.Service
	Overlay  stage.Service
	Assembly stage.Service
}

func (s Stages) validate() error {
	for kind, svc := range map[stage.Kind]stage.Service{
		stage.KindVoice:    s.Voice,
		stage.KindVisual:   s.Visual,
		stage.KindOverlay:  s.Overlay,
		stage.KindAssembly: s.Assembly,
	} {
		if svc == nil {
			return fmt.Errorf("%w: %s", ErrMissingStage, kind)
		}

		if svc.Kind() != kind {
			return fmt.Errorf("%w: %s slot holds a %s service", ErrMissingStage, kind, svc.Kind())
		}
	}

	return nil
}

func (s Stages) perScene() []stage.Service {
	return []stage.Service{s.Voice, s.Visual, s.Overlay}
}

// Config tunes job execution.
type Config struct {
	// JobTimeout bounds a whole job; zero disables it.
	JobTimeout time.Duration
	// SceneConcurrency bounds scenes in flight per job; zero leaves it to the
	// resource manager.
	SceneConcurrency int
	// SinkTimeout bounds each EventSink.Publish call.
	SinkTimeout time.Duration
	// SinkQueueSize bounds the events waiting for the sinks; events beyond
	// it are dropped.
	SinkQueueSize int
	// ArchiveTimeout bounds saving a terminal job to the store.
	ArchiveTimeout time.Duration
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		JobTimeout:     time.Hour,
		SinkTimeout:    5 * time.Second,
		SinkQueueSize:  DefaultSinkQueueSize,
		ArchiveTimeout: 5 * time.Second,
	}
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger log.Logger) Option {
	return func(o *Orchestrator) { o.logger = log.OrNop(logger) }
}

// WithMetrics enables job terminal counters.
func WithMetrics(factory *metrics.MetricsFactory) Option {
	return func(o *Orchestrator) { o.metrics = factory }
}

// WithTracer traces every job and stage call with tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// DefaultArchiveMaxEntries bounds the in-memory archive used without WithStore.
const DefaultArchiveMaxEntries = 10000

// WithStore archives terminal jobs to store instead of process memory.
func WithStore(store jobstore.Store[Job]) Option {
	return func(o *Orchestrator) {
		if store != nil {
			o.store = store
		}
	}
}

// WithEventSink adds sinks that receive every event. Sinks are called from a
// single background worker, never from the job's goroutines.
func WithEventSink(sinks ...EventSink) Option {
	return func(o *Orchestrator) {
		for _, sink := range sinks {
			if sink != nil {
				o.sinks = append(o.sinks, sink)
			}
		}
	}
}

// WithHealth lets the orchestrator report dependency health when a job
// degrades.
func WithHealth(monitor *health.Monitor) Option {
	return func(o *Orchestrator) { o.health = monitor }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// Orchestrator owns job lifecycles.
type Orchestrator struct {
	stages  Stages
	cfg     Config
	logger  log.Logger
	metrics *metrics.MetricsFactory
	tracer  trace.Tracer
	store   jobstore.Store[Job]
	sinks   []EventSink
	sinkQ   *sinkQueue
	health  *health.Monitor
	events  *broadcaster
	now     func() time.Time

	mu     sync.RWMutex
	active map[string]*run
	closed bool
	wg     sync.WaitGroup
}

// run is the mutable state of one active job.
type run struct {
	mu  sync.Mutex
	job Job
	// emitMu keeps events in the order their state changes were applied.
	emitMu sync.Mutex
	cancel context.CancelCauseFunc
	done   chan struct{}
	// sealed is guarded by Orchestrator.mu; once set, Cancel no longer applies.
	sealed bool
}

func (r *run) snapshot() Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.job.Clone()
}

// New builds an Orchestrator. Zero Config fields take DefaultConfig values.
func New(stages Stages, cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := stages.validate(); err != nil {
		return nil, err
	}

	def := DefaultConfig()

	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = def.SinkTimeout
	}

	if cfg.ArchiveTimeout <= 0 {
		cfg.ArchiveTimeout = def.ArchiveTimeout
	}

	if cfg.SinkQueueSize <= 0 {
		cfg.SinkQueueSize = def.SinkQueueSize
	}

	if cfg.JobTimeout < 0 || cfg.SceneConcurrency < 0 {
		return nil, fmt.Errorf("%w: negative job timeout or scene concurrency", ErrInvalidJob)
	}

	o := &Orchestrator{
		stages: stages,
		cfg:    cfg,
		logger: log.NewNop(),
		tracer: noop.NewTracerProvider().Tracer(component),
		store:  jobstore.NewMemoryStore[Job](jobstore.WithMaxEntries(DefaultArchiveMaxEntries)),
		events: newBroadcaster(),
		now:    time.Now,
		active: make(map[string]*run),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	o.logger = o.logger.With(log.String("component", component))

	if len(o.sinks) > 0 {
		o.sinkQ = newSinkQueue(o.sinks, cfg.SinkQueueSize, cfg.SinkTimeout, o.logger, o.metrics)
	}

	return o, nil
}

// Submit validates and queues a job, then starts it in the background. The
// job outlives ctx; use Cancel to stop it.
func (o *Orchestrator) Submit(ctx context.Context, jobID string, scenes []stage.Scene, settings stage.Settings) error {
	jobID = strings.TrimSpace(jobID)
	if err := stage.Validator().Var(jobID, "required,max=128,printascii"); err != nil {
		return fmt.Errorf("%w: job id: %w", ErrInvalidJob, err)
	}

	ordered := make([]stage.Scene, len(scenes))
	for i, scene := range scenes {
		scene.Index = i
		ordered[i] = scene
	}

	if err := stage.ValidateScenes(ordered); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	if err := stage.ValidateSettings(settings); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	if _, err := o.store.Load(ctx, jobID); err == nil {
		return fmt.Errorf("%w: %s", ErrJobExists, jobID)
	}

	now := o.now()
	job := Job{
		ID:        jobID,
		Scenes:    ordered,
		Settings:  settings.WithDefaults(),
		Status:    StatusQueued,
		Results:   make(map[string]map[stage.Kind]stage.Result, len(ordered)),
		Cost:      decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}

	jobCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	r := &run{job: job, cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()

	if o.closed {
		o.mu.Unlock()
		cancel(ErrClosed)

		return ErrClosed
	}

	if _, exists := o.active[jobID]; exists {
		o.mu.Unlock()
		cancel(nil)

		return fmt.Errorf("%w: %s", ErrJobExists, jobID)
	}

	o.active[jobID] = r
	o.wg.Add(1)
	o.mu.Unlock()

	o.logger.Log(ctx, log.LevelInfo, "job queued",
		log.JobID(jobID),
		log.Int("scenes", len(ordered)),
	)

	r.emitMu.Lock()
	o.emit(jobCtx, Event{JobID: jobID, Stage: JobStage, Status: string(StatusQueued)})
	r.emitMu.Unlock()

	runtime.SafeGoWithContextAndComponent(jobCtx, o.logger, component, "run_job", runtime.KeepRunning,
		func(ctx context.Context) {
			defer o.wg.Done()

			o.run(ctx, r)
		})

	return nil
}

// Cancel stops an active job. It ends as cancelled once in-flight calls
// return.
func (o *Orchestrator) Cancel(jobID string) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	r, ok := o.active[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	if r.sealed {
		return fmt.Errorf("%w: %s already finished", ErrJobNotFound, jobID)
	}

	r.cancel(ErrJobCancelled)

	return nil
}

// Status returns a copy of the job, active or archived.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (Job, error) {
	o.mu.RLock()
	r, ok := o.active[jobID]
	o.mu.RUnlock()

	if ok {
		return r.snapshot(), nil
	}

	return o.archived(ctx, jobID)
}

// Wait blocks until the job is terminal or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) (Job, error) {
	o.mu.RLock()
	r, ok := o.active[jobID]
	o.mu.RUnlock()

	if !ok {
		return o.archived(ctx, jobID)
	}

	select {
	case <-r.done:
		return r.snapshot(), nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (o *Orchestrator) archived(ctx context.Context, jobID string) (Job, error) {
	job, err := o.store.Load(ctx, jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	if err != nil {
		return Job{}, fmt.Errorf("loading job %s: %w", jobID, err)
	}

	return job, nil
}

// Active returns the number of jobs not yet terminal.
func (o *Orchestrator) Active() int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return len(o.active)
}

// Subscribe returns a channel receiving every event emitted from now on and
// a function that unsubscribes and closes it. Events are dropped for a
// subscriber whose buffer is full.
func (o *Orchestrator) Subscribe(buffer int) (<-chan Event, func()) {
	return o.events.subscribe(buffer)
}

// DroppedSinkEvents returns how many events were dropped because the sink
// queue was full.
func (o *Orchestrator) DroppedSinkEvents() uint64 {
	if o.sinkQ == nil {
		return 0
	}

	return o.sinkQ.droppedTotal()
}

// Close rejects new jobs, cancels active ones and waits for them to finish
// or for ctx to end. Subscriptions are closed once every job finished, then
// the events still queued for the sinks are delivered.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true

	for _, r := range o.active {
		if !r.sealed {
			r.cancel(fmt.Errorf("%w: %w", ErrJobCancelled, ErrClosed))
		}
	}
	o.mu.Unlock()

	done := make(chan struct{})

	runtime.SafeGo(o.logger, "close_wait", runtime.KeepRunning, func() {
		o.wg.Wait()
		close(done)
	})

	select {
	case <-done:
		o.events.close()
	case <-ctx.Done():
		return ctx.Err()
	}

	if o.sinkQ != nil {
		return o.sinkQ.close(ctx)
	}

	return nil
}

func (o *Orchestrator) run(ctx context.Context, r *run) {
	ctx, span := o.tracer.Start(ctx, "pipeline.job", trace.WithAttributes(
		attribute.String("job.id", r.job.ID),
		attribute.Int("job.scenes", len(r.job.Scenes)),
	))
	defer func() { endJobSpan(span, r.snapshot()) }()

	if o.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeoutCause(ctx, o.cfg.JobTimeout, ErrJobTimeout)
		defer cancel()
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			runtime.HandlePanicValue(ctx, o.logger, recovered, component, "run_job")
			o.finish(ctx, r, fmt.Errorf("%w: %v", ErrJobPanicked, recovered))
		}
	}()

	o.update(ctx, r, func(job *Job) Event {
		job.Status = StatusRunning

		return Event{Stage: JobStage, Status: string(StatusRunning)}
	})

	err := o.runScenes(ctx, r)
	if err == nil {
		err = o.assemble(ctx, r)
	}

	o.finish(ctx, r, err)
}

// update applies fn to the job and emits the returned event, keeping event
// order identical to update order.
func (o *Orchestrator) update(ctx context.Context, r *run, fn func(job *Job) Event) {
	r.mu.Lock()
	event := fn(&r.job)
	r.job.UpdatedAt = o.now()
	event.JobID = r.job.ID
	event.Progress = r.job.Progress
	r.emitMu.Lock()
	r.mu.Unlock()

	defer r.emitMu.Unlock()

	o.emit(ctx, event)
}

func (o *Orchestrator) runScenes(ctx context.Context, r *run) error {
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLogger(o.logger)
	grp.SetComponent(component)
	grp.SetLimit(o.cfg.SceneConcurrency)

	for _, scene := range r.job.Scenes {
		if gctx.Err() != nil {
			break
		}

		grp.Go(func() error {
			return o.runScene(gctx, r, scene)
		})
	}

	if err := grp.Wait(); err != nil {
		return err
	}

	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	return nil
}

func (o *Orchestrator) runScene(ctx context.Context, r *run, scene stage.Scene) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	grp, sctx := errgroup.WithContext(ctx)
	grp.SetLogger(o.logger)
	grp.SetComponent(component)

	input := stage.Input{JobID: r.job.ID, Scene: scene}
	settings := r.job.Settings

	for _, svc := range o.stages.perScene() {
		grp.Go(func() error {
			result, err := o.generate(sctx, svc, input, settings)

			// Results that land after cancellation are discarded.
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}

			if err != nil {
				return err
			}

			o.recordResult(ctx, r, result)

			return nil
		})
	}

	return grp.Wait()
}

// generate calls svc inside a stage span.
func (o *Orchestrator) generate(ctx context.Context, svc stage.Service, input stage.Input, settings stage.Settings) (stage.Result, error) {
	attrs := []attribute.KeyValue{
		attribute.String("job.id", input.JobID),
		attribute.String("stage.kind", string(svc.Kind())),
	}

	if input.Scene.ID != "" {
		attrs = append(attrs, attribute.String("scene.id", input.Scene.ID))
	}

	ctx, span := o.tracer.Start(ctx, "pipeline.stage."+string(svc.Kind()), trace.WithAttributes(attrs...))
	defer span.End()

	result, err := svc.Generate(ctx, input, settings)

	span.SetAttributes(
		attribute.String("stage.status", string(result.Status)),
		attribute.Int("stage.attempts", result.Attempts),
	)

	if result.Status == stage.StatusFallback {
		opentelemetry.HandleSpanEvent(span, "stage.fallback", attribute.String("stage.error", result.Err))
	}

	opentelemetry.HandleSpanError(span, "stage failed", err)

	return result, err
}

func endJobSpan(span trace.Span, job Job) {
	span.SetAttributes(
		attribute.String("job.status", string(job.Status)),
		attribute.Int("job.scenes_done", job.ScenesDone),
		attribute.StringSlice("job.fallback_scenes", job.FallbackScenes),
	)

	if job.Status == StatusFailed {
		opentelemetry.HandleSpanError(span, "job failed", errors.New(job.Error))
	}

	span.End()
}

func (o *Orchestrator) recordResult(ctx context.Context, r *run, result stage.Result) {
	o.update(ctx, r, func(job *Job) Event {
		byKind, ok := job.Results[result.SceneID]
		if !ok {
			byKind = make(map[stage.Kind]stage.Result, len(stage.SceneKinds))
			job.Results[result.SceneID] = byKind
		}

		byKind[result.Kind] = result
		job.Cost = job.Cost.Add(result.Cost)

		if result.Status == stage.StatusFallback && !slices.Contains(job.FallbackScenes, result.SceneID) {
			job.FallbackScenes = append(job.FallbackScenes, result.SceneID)
		}

		if job.sceneComplete(result.SceneID) {
			job.ScenesDone++
			job.Progress = float64(job.ScenesDone) / float64(len(job.Scenes))
		}

		return Event{SceneID: result.SceneID, Stage: string(result.Kind), Status: string(result.Status)}
	})
}

func (o *Orchestrator) assemble(ctx context.Context, r *run) error {
	r.mu.Lock()
	input := stage.Input{JobID: r.job.ID, Scenes: r.job.Scenes, Results: r.job.SceneResults()}
	settings := r.job.Settings
	r.mu.Unlock()

	result, err := o.generate(ctx, o.stages.Assembly, input, settings)
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	o.update(ctx, r, func(job *Job) Event {
		job.Final = &result
		job.Cost = job.Cost.Add(result.Cost)

		return Event{Stage: string(stage.KindAssembly), Status: string(result.Status)}
	})

	return err
}

func (o *Orchestrator) finish(ctx context.Context, r *run, err error) {
	o.mu.Lock()
	r.sealed = true
	cause := context.Cause(ctx)
	o.mu.Unlock()

	status := StatusCompleted

	switch {
	case errors.Is(cause, ErrJobCancelled):
		status, err = StatusCancelled, nil
	case errors.Is(cause, ErrJobTimeout):
		status, err = StatusFailed, ErrJobTimeout
	case err != nil:
		status = StatusFailed
	default:
		if invariantErr := o.checkCompleted(ctx, r); invariantErr != nil {
			status, err = StatusFailed, invariantErr
		}
	}

	// The job context may already be done; terminal bookkeeping must still run.
	finalCtx := context.WithoutCancel(ctx)

	o.update(finalCtx, r, func(job *Job) Event {
		job.Status = status
		job.Error = failure.Summary(err)

		if status == StatusCompleted {
			job.Progress = 1
		}

		return Event{Stage: JobStage, Status: string(status)}
	})

	job := r.snapshot()

	archiveCtx, cancel := context.WithTimeout(finalCtx, o.cfg.ArchiveTimeout)
	if saveErr := o.store.Save(archiveCtx, job.ID, job); saveErr != nil {
		o.logger.Log(finalCtx, log.LevelError, "archiving job failed",
			log.JobID(job.ID),
			log.Err(saveErr),
		)
	}
	cancel()

	o.mu.Lock()
	delete(o.active, job.ID)
	o.mu.Unlock()

	if o.metrics != nil {
		_ = o.metrics.RecordJobTerminal(finalCtx, string(status))
	}

	o.logFinished(finalCtx, job, err)

	r.cancel(nil)
	close(r.done)
}

// checkCompleted verifies every scene has its three stage results and that
// assembly produced an artifact.
func (o *Orchestrator) checkCompleted(ctx context.Context, r *run) error {
	job := r.snapshot()
	asserter := assert.New(o.logger, component, "complete_job")

	for _, scene := range job.Scenes {
		if err := asserter.That(ctx, job.sceneComplete(scene.ID), "scene missing stage results",
			"job_id", job.ID, "scene_id", scene.ID); err != nil {
			return err
		}
	}

	return asserter.That(ctx, job.Final != nil && job.Final.Status == stage.StatusOK && !job.Final.Artifact.Empty(),
		"assembly produced no artifact", "job_id", job.ID)
}

func (o *Orchestrator) logFinished(ctx context.Context, job Job, err error) {
	fields := []log.Field{
		log.JobID(job.ID),
		log.String("status", string(job.Status)),
		log.Int("scenes", len(job.Scenes)),
		log.Int("fallback_scenes", len(job.FallbackScenes)),
		log.String("cost", job.Cost.StringFixed(4)),
		log.Duration("elapsed", job.UpdatedAt.Sub(job.CreatedAt)),
	}

	switch job.Status {
	case StatusFailed:
		o.logger.Log(ctx, log.LevelError, "job failed", append(fields, log.Err(err))...)
	case StatusCancelled:
		o.logger.Log(ctx, log.LevelInfo, "job cancelled", fields...)
	default:
		o.logger.Log(ctx, log.LevelInfo, "job completed", fields...)
	}

	if len(job.FallbackScenes) > 0 {
		o.reportDegraded(ctx, job)
	}
}

// reportDegraded logs the health of every dependency that fell back.
func (o *Orchestrator) reportDegraded(ctx context.Context, job Job) {
	if o.health == nil {
		return
	}

	degraded := make(map[stage.Kind]struct{})

	for _, byKind := range job.Results {
		for kind, result := range byKind {
			if result.Status == stage.StatusFallback {
				degraded[kind] = struct{}{}
			}
		}
	}

	for kind := range degraded {
		record, ok := o.health.Get(string(kind))
		if !ok {
			continue
		}

		o.logger.Log(ctx, log.LevelWarn, "job used fallbacks for degraded dependency",
			log.JobID(job.ID),
			log.Dependency(record.Dependency),
			log.String("breaker_state", string(record.BreakerState)),
			log.Int("failures", record.Failures),
			log.String("last_error", record.LastError),
		)
	}
}

// emit broadcasts to subscribers and queues the event for the sinks. It
// never blocks on either.
func (o *Orchestrator) emit(ctx context.Context, event Event) {
	event.Timestamp = o.now()

	if dropped := o.events.publish(event); dropped > 0 {
		o.logger.Log(ctx, log.LevelDebug, "event dropped for slow subscribers",
			log.JobID(event.JobID),
			log.Int("dropped", dropped),
		)

		if o.metrics != nil {
			_ = o.metrics.RecordEventsDropped(ctx, "subscriber", int64(dropped))
		}
	}

	if o.sinkQ != nil {
		o.sinkQ.enqueue(ctx, event)
	}
}

package stage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/LerianStudio/lib-reelforge/reelforge/circuitbreaker"
	"github.com/LerianStudio/lib-reelforge/reelforge/failure"
	"github.com/LerianStudio/lib-reelforge/reelforge/health"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/opentelemetry/metrics"
	"github.com/LerianStudio/lib-reelforge/reelforge/resource"
	"github.com/LerianStudio/lib-reelforge/reelforge/retry"
)

var (
	// ErrMissingDependency is returned by constructors missing a shared component.
	ErrMissingDependency = errors.New("stage service dependency missing")
	// ErrEmptyArtifact is returned when a collaborator reports success with nothing.
	ErrEmptyArtifact = errors.New("collaborator returned an empty artifact")
	// ErrFallbackFailed is returned when placeholder synthesis itself fails.
	ErrFallbackFailed = errors.New("fallback synthesis failed")
)

// Deps are the process-wide components shared by every stage service.
type Deps struct {
	Breakers  circuitbreaker.Manager
	Resources *resource.Manager
	Health    *health.Monitor
	Logger    log.Logger
	Metrics   *metrics.MetricsFactory
}

func (d Deps) validate() error {
	switch {
	case d.Breakers == nil:
		return fmt.Errorf("%w: circuit breaker manager", ErrMissingDependency)
	case d.Resources == nil:
		return fmt.Errorf("%w: resource manager", ErrMissingDependency)
	case d.Health == nil:
		return fmt.Errorf("%w: health monitor", ErrMissingDependency)
	}

	return nil
}

// Config configures one stage service. Zero fields take DefaultConfig values.
type Config struct {
	// Dependency names the breaker and health series; defaults to the kind.
	Dependency  string
	Breaker     circuitbreaker.Config
	Retry       retry.Policy
	Demand      Demand
	UnitPrice   decimal.Decimal
	CallTimeout time.Duration
	// Fallback is ignored by assembly.
	Fallback FallbackFunc
}

// DefaultConfig returns the defaults of kind.
func DefaultConfig(kind Kind) Config {
	cfg := Config{
		Dependency:  string(kind),
		Breaker:     circuitbreaker.DefaultConfig(),
		Retry:       retry.DefaultPolicy(),
		CallTimeout: 2 * time.Minute,
		Fallback:    DefaultFallback(kind),
	}

	switch kind {
	case KindVoice:
		cfg.Demand = Demand{MemoryUnits: 128, CPUUnits: 250}
		cfg.UnitPrice = decimal.RequireFromString("0.0150")
	case KindVisual:
		cfg.Demand = Demand{MemoryUnits: 512, CPUUnits: 500}
		cfg.UnitPrice = decimal.RequireFromString("0.0400")
	case KindOverlay:
		cfg.Demand = Demand{MemoryUnits: 32, CPUUnits: 100}
		cfg.UnitPrice = decimal.RequireFromString("0.0010")
	case KindAssembly:
		cfg.Breaker = circuitbreaker.AssemblyConfig()
		cfg.Retry = retry.Policy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: 5 * time.Second}
		cfg.Demand = Demand{MemoryUnits: 1024, CPUUnits: 1000}
		cfg.UnitPrice = decimal.RequireFromString("0.0020")
		cfg.CallTimeout = 15 * time.Minute
	}

	return cfg
}

func (c Config) withDefaults(kind Kind) Config {
	def := DefaultConfig(kind)

	if c.Dependency == "" {
		c.Dependency = def.Dependency
	}

	if c.Breaker == (circuitbreaker.Config{}) {
		c.Breaker = def.Breaker
	}

	if c.Retry == (retry.Policy{}) {
		c.Retry = def.Retry
	}

	if c.Demand == (Demand{}) {
		c.Demand = def.Demand
	}

	if c.UnitPrice.IsZero() {
		c.UnitPrice = def.UnitPrice
	}

	if c.CallTimeout == 0 {
		c.CallTimeout = def.CallTimeout
	}

	if c.Fallback == nil {
		c.Fallback = def.Fallback
	}

	return c
}

// guarded holds what every stage needs to call its collaborator safely.
type guarded struct {
	kind   Kind
	deps   Deps
	cfg    Config
	logger log.Logger
	now    func() time.Time
}

func newGuarded(kind Kind, deps Deps, cfg Config) (*guarded, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("%s stage: %w", kind, err)
	}

	cfg = cfg.withDefaults(kind)

	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("%s stage: %w", kind, err)
	}

	if _, err := deps.Breakers.GetOrCreate(cfg.Dependency, cfg.Breaker); err != nil {
		return nil, fmt.Errorf("%s stage: %w", kind, err)
	}

	logger := log.OrNop(deps.Logger).With(log.Stage(string(kind)))

	return &guarded{kind: kind, deps: deps, cfg: cfg, logger: logger, now: time.Now}, nil
}

// Kind returns the stage kind.
func (g *guarded) Kind() Kind { return g.kind }

// Dependency returns the breaker and health series name.
func (g *guarded) Dependency() string { return g.cfg.Dependency }

func (g *guarded) demand(settings Settings) Demand {
	if d, ok := settings.Demands[g.kind]; ok {
		return d
	}

	return g.cfg.Demand
}

func (g *guarded) requester(jobID, sceneID string) string {
	if sceneID == "" {
		return jobID + "/" + string(g.kind)
	}

	return jobID + "/" + sceneID + "/" + string(g.kind)
}

func (g *guarded) recordResult(ctx context.Context, status Status) {
	if g.deps.Metrics != nil {
		_ = g.deps.Metrics.RecordStageResult(ctx, string(g.kind), string(status))
	}
}

func outcomeOf(err error) health.Outcome {
	if err == nil {
		return health.OutcomeSuccess
	}

	return health.OutcomeFailure
}

// invoke runs op while holding an allocation, through retry and the
// dependency's breaker, and records every attempt to the health monitor.
func invoke[T any](
	ctx context.Context,
	g *guarded,
	requester string,
	settings Settings,
	op func(ctx context.Context) (T, error),
) (T, int, error) {
	var (
		out      T
		attempts int
	)

	demand := g.demand(settings)
	req := resource.Request{
		Requester:   requester,
		Class:       g.kind.Class(),
		MemoryUnits: demand.MemoryUnits,
		CPUUnits:    demand.CPUUnits,
	}

	dependency := g.cfg.Dependency

	err := g.deps.Resources.Do(ctx, req, func(ctx context.Context) error {
		var err error

		out, err = retry.Guarded(ctx, g.deps.Breakers, dependency, g.cfg.Retry,
			func(ctx context.Context) (T, error) {
				attempts++

				callCtx, cancel := ctx, context.CancelFunc(func() {})
				if g.cfg.CallTimeout > 0 {
					callCtx, cancel = context.WithTimeout(ctx, g.cfg.CallTimeout)
				}
				defer cancel()

				start := g.now()
				result, err := op(callCtx)

				if !failure.IsCanceled(err) {
					g.deps.Health.Record(dependency, outcomeOf(err), g.now().Sub(start), err)
				}

				return result, err
			},
			retry.WithLogger(g.logger),
		)

		return err
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		g.deps.Health.Record(dependency, health.OutcomeRejected, 0, err)
	}

	return out, attempts, err
}

// sceneService is the shared body of the per-scene stages.
type sceneService struct {
	*guarded
	generate func(ctx context.Context, scene Scene, settings Settings) (Artifact, decimal.Decimal, error)
}

type sceneOutput struct {
	artifact Artifact
	units    decimal.Decimal
}

// Generate produces the scene's result, degrading to a fallback placeholder
// unless the failure is resource exhaustion or cancellation.
func (s *sceneService) Generate(ctx context.Context, in Input, settings Settings) (Result, error) {
	settings = settings.WithDefaults()
	start := s.now()

	result := Result{
		SceneID:    in.Scene.ID,
		SceneIndex: in.Scene.Index,
		Kind:       s.kind,
		Cost:       decimal.Zero,
	}

	out, attempts, err := invoke(ctx, s.guarded, s.requester(in.JobID, in.Scene.ID), settings,
		func(ctx context.Context) (sceneOutput, error) {
			artifact, units, err := s.generate(ctx, in.Scene, settings)
			if err == nil && artifact.Empty() {
				err = failure.Permanent(failure.CategoryInvalidInput, ErrEmptyArtifact)
			}

			return sceneOutput{artifact: artifact, units: units}, err
		},
	)

	result.Attempts = attempts

	if err == nil {
		result.Artifact = out.artifact
		result.Status = StatusOK
		result.Cost = s.cfg.UnitPrice.Mul(out.units).Round(4)
		result.Elapsed = s.now().Sub(start)
		s.recordResult(ctx, result.Status)

		return result, nil
	}

	if errors.Is(err, resource.ErrResourceExhausted) || ctx.Err() != nil {
		result.Status = StatusFailed
		result.Err = failure.Summary(err)
		result.Elapsed = s.now().Sub(start)
		s.recordResult(ctx, result.Status)

		return result, fmt.Errorf("%s stage for scene %s: %w", s.kind, in.Scene.ID, err)
	}

	return s.degrade(ctx, in, settings, result, start, err)
}

func (s *sceneService) degrade(ctx context.Context, in Input, settings Settings, result Result, start time.Time, cause error) (Result, error) {
	s.logger.Log(ctx, log.LevelWarn, "stage degraded to fallback",
		log.JobID(in.JobID),
		log.SceneID(in.Scene.ID),
		log.Int("attempts", result.Attempts),
		log.String("category", string(failure.CategoryOf(cause))),
		log.Err(cause),
	)

	result.Err = failure.Summary(cause)

	artifact, err := s.cfg.Fallback(ctx, in.Scene, settings)
	if err == nil && artifact.Empty() {
		err = ErrEmptyArtifact
	}

	result.Elapsed = s.now().Sub(start)

	if err != nil {
		result.Status = StatusFailed
		s.recordResult(ctx, result.Status)

		return result, fmt.Errorf("%w: %s stage for scene %s: %w", ErrFallbackFailed, s.kind, in.Scene.ID, err)
	}

	result.Artifact = artifact
	result.Status = StatusFallback
	s.recordResult(ctx, result.Status)

	return result, nil
}

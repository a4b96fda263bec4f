package main

import (
	"context"
	"fmt"

	"github.com/LerianStudio/lib-reelforge/reelforge"
	"github.com/LerianStudio/lib-reelforge/reelforge/circuitbreaker"
	"github.com/LerianStudio/lib-reelforge/reelforge/health"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	"github.com/LerianStudio/lib-reelforge/reelforge/opentelemetry"
	"github.com/LerianStudio/lib-reelforge/reelforge/opentelemetry/metrics"
	"github.com/LerianStudio/lib-reelforge/reelforge/pipeline"
	"github.com/LerianStudio/lib-reelforge/reelforge/resource"
	"github.com/LerianStudio/lib-reelforge/reelforge/runtime"
	"github.com/LerianStudio/lib-reelforge/reelforge/stage"
	"github.com/LerianStudio/lib-reelforge/reelforge/stage/local"
	"github.com/LerianStudio/lib-reelforge/reelforge/zap"
)

// engine is every process-wide component behind one orchestrator.
type engine struct {
	cfg          reelforge.Config
	logger       log.Logger
	telemetry    *opentelemetry.Telemetry
	metrics      *metrics.MetricsFactory
	breakers     circuitbreaker.Manager
	resources    *resource.Manager
	health       *health.Monitor
	orchestrator *pipeline.Orchestrator
}

func newLogger(cfg reelforge.Config) (log.Logger, error) {
	logger, err := zap.New(cfg.LoggerConfig())
	if err != nil {
		return nil, err
	}

	runtime.SetProductionMode(cfg.EnvName == string(zap.EnvironmentProduction))

	return logger, nil
}

// newEngine wires the shared components and the orchestrator. The local
// studio backs all four stages.
func newEngine(cfg reelforge.Config, logger log.Logger, studio *local.Studio, opts ...pipeline.Option) (*engine, error) {
	e := &engine{cfg: cfg, logger: logger}

	telemetry, err := opentelemetry.InitializeTelemetryWithError(cfg.TelemetryConfig(logger))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	e.telemetry = telemetry
	factory := telemetry.MetricsFactory
	e.metrics = factory
	runtime.InitPanicMetrics(factory)

	resourceCfg, err := cfg.ResourceConfig()
	if err != nil {
		return nil, err
	}

	e.resources = resource.NewManager(resourceCfg, resource.WithLogger(logger), resource.WithMetrics(factory))
	e.health = health.NewMonitor(health.Config{}, health.WithLogger(logger), health.WithMetrics(factory))
	e.breakers = circuitbreaker.NewManager(logger)
	e.breakers.RegisterStateChangeListener(e.health)

	logger.Log(context.Background(), log.LevelInfo, "resource capacity",
		log.Any("memory_units", resourceCfg.Capacity.MemoryUnits),
		log.Any("cpu_units", resourceCfg.Capacity.CPUUnits),
	)

	deps := stage.Deps{
		Breakers:  e.breakers,
		Resources: e.resources,
		Health:    e.health,
		Logger:    logger,
		Metrics:   factory,
	}

	var stages pipeline.Stages

	if stages.Voice, err = stage.NewVoiceService(studio, deps, cfg.StageConfig(stage.KindVoice)); err != nil {
		return nil, err
	}

	if stages.Visual, err = stage.NewVisualService(studio, deps, cfg.StageConfig(stage.KindVisual)); err != nil {
		return nil, err
	}

	if stages.Overlay, err = stage.NewOverlayService(studio, deps, cfg.StageConfig(stage.KindOverlay)); err != nil {
		return nil, err
	}

	if stages.Assembly, err = stage.NewAssemblyService(studio, deps, cfg.StageConfig(stage.KindAssembly)); err != nil {
		return nil, err
	}

	opts = append([]pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(factory),
		pipeline.WithTracer(telemetry.Tracer()),
		pipeline.WithHealth(e.health),
	}, opts...)

	e.orchestrator, err = pipeline.New(stages, cfg.PipelineConfig(), opts...)
	if err != nil {
		return nil, err
	}

	return e, nil
}

// shutdownTelemetry flushes pending spans, metrics and logs.
func (e *engine) shutdownTelemetry(ctx context.Context) error {
	return e.telemetry.ShutdownTelemetry(ctx)
}

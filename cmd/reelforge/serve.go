package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/LerianStudio/lib-reelforge/reelforge"
	"github.com/LerianStudio/lib-reelforge/reelforge/jobstore"
	"github.com/LerianStudio/lib-reelforge/reelforge/log"
	httpapi "github.com/LerianStudio/lib-reelforge/reelforge/net/http"
	"github.com/LerianStudio/lib-reelforge/reelforge/net/http/ratelimit"
	"github.com/LerianStudio/lib-reelforge/reelforge/pipeline"
	"github.com/LerianStudio/lib-reelforge/reelforge/rabbitmq"
	"github.com/LerianStudio/lib-reelforge/reelforge/server"
	"github.com/LerianStudio/lib-reelforge/reelforge/stage/local"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the job API until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := reelforge.LoadConfig()
			if err != nil {
				return err
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			return reelforge.NewLauncher(
				reelforge.WithLogger(logger),
				reelforge.RunApp("api", reelforge.AppFunc(func(*reelforge.Launcher) error {
					return serve(cmd.Context(), cfg, logger)
				})),
			).RunWithError()
		},
	}
}

type namedComponent struct {
	name      string
	component server.Component
}

func serve(ctx context.Context, cfg reelforge.Config, logger log.Logger) error {
	studio, err := local.New(cfg.OutputDir)
	if err != nil {
		return err
	}

	sm := server.NewServerManager(logger).WithShutdownTimeout(cfg.ShutdownTimeout)

	var opts []pipeline.Option

	appCfg := cfg.HTTPConfig()

	// closed after the orchestrator, which writes to them
	var sinks []namedComponent

	if cfg.RedisEnabled() {
		redisCfg := cfg.RedisConfig()
		redisCfg.Logger = logger

		store, err := jobstore.NewRedisStore[pipeline.Job](ctx, redisCfg)
		if err != nil {
			return err
		}

		opts = append(opts, pipeline.WithStore(store))
		appCfg.LimiterStorage = ratelimit.NewRedisStorage(store.Client())
		sinks = append(sinks, namedComponent{"job store", server.ComponentFunc(func(context.Context) error {
			return store.Close()
		})})
	} else {
		opts = append(opts, pipeline.WithStore(jobstore.NewMemoryStore[pipeline.Job](
			jobstore.WithTTL(cfg.JobTTL),
			jobstore.WithMaxEntries(cfg.JobArchiveMaxEntries),
		)))
	}

	if cfg.RabbitEnabled() {
		conn, err := rabbitmq.Dial(ctx, cfg.RabbitURL, cfg.RabbitExchange, logger)
		if err != nil {
			return err
		}

		publisher, err := rabbitmq.NewProgressPublisher(conn.Channel, cfg.RabbitExchange, rabbitmq.WithLogger(logger))
		if err != nil {
			_ = conn.Close()
			return err
		}

		opts = append(opts, pipeline.WithEventSink(publisher))
		sinks = append(sinks, namedComponent{"progress publisher", server.ComponentFunc(func(context.Context) error {
			_ = publisher.Close()
			return conn.Close()
		})})
	}

	e, err := newEngine(cfg, logger, studio, opts...)
	if err != nil {
		return err
	}

	app := httpapi.NewApp(
		&httpapi.JobHandler{Jobs: e.orchestrator, Logger: logger},
		httpapi.HealthSources{Breakers: e.breakers, Health: e.health, Resources: e.resources},
		appCfg,
	)

	sm.WithHTTPServer(app, cfg.ServerAddress).
		WithComponent("orchestrator", e.orchestrator)

	for _, c := range sinks {
		sm.WithComponent(c.name, c.component)
	}

	sm.WithComponent("telemetry", server.ComponentFunc(e.shutdownTelemetry))

	return sm.StartWithGracefulShutdownWithError()
}

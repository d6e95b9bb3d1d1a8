package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/voyagent/voyagent/pkg/cmd"
	"github.com/voyagent/voyagent/pkg/contextmanager"
	"github.com/voyagent/voyagent/pkg/engine"
	"github.com/voyagent/voyagent/pkg/log"
	"github.com/voyagent/voyagent/pkg/orchestrator"
	openaiparser "github.com/voyagent/voyagent/pkg/parser/openai"
	"github.com/voyagent/voyagent/pkg/surface/websocket"
	"github.com/voyagent/voyagent/pkg/tracer"
	"github.com/voyagent/voyagent/pkg/validator"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("server")

	command := &cli.Command{
		Name:                  "voyagent-server",
		Usage:                 "Turn natural-language instructions into validated, executed commands",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for context persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka broker addresses (when event-bus is kafka)",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:     "surface-url",
				Usage:    "WebSocket URL of the target-surface executor",
				Required: true,
				Sources:  cli.EnvVars("SURFACE_URL"),
			},
			&cli.StringFlag{
				Name:    "openai-api-key",
				Usage:   "API key for the natural-language parser",
				Sources: cli.EnvVars("OPENAI_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "openai-model",
				Usage:   "Model used for the natural-language parser",
				Sources: cli.EnvVars("OPENAI_MODEL"),
			},
			&cli.IntFlag{
				Name:    "max-concurrent",
				Usage:   "Concurrency ceiling for request execution",
				Value:   engine.DefaultMaxConcurrent,
				Sources: cli.EnvVars("MAX_CONCURRENT"),
			},
			&cli.IntFlag{
				Name:    "max-retries",
				Usage:   "Retry attempts per command after its first failure",
				Value:   engine.DefaultMaxRetries,
				Sources: cli.EnvVars("MAX_RETRIES"),
			},
			&cli.DurationFlag{
				Name:    "context-ttl",
				Usage:   "Idle lifetime of an execution context",
				Value:   contextmanager.DefaultTTL,
				Sources: cli.EnvVars("CONTEXT_TTL"),
			},
			&cli.BoolFlag{
				Name:    "auto-confirm",
				Usage:   "Execute high-risk batches without an explicit confirmation round-trip",
				Sources: cli.EnvVars("AUTO_CONFIRM"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OTLP traces for command dispatches",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("server")
	logger.InfoContext(ctx, "Initializing Voyagent API")

	store, err := cmd.NewStore(ctx, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close store", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	contexts := contextmanager.NewManager(ctx, store, logger, contextmanager.Config{
		TTL: command.Duration("context-ttl"),
	})
	if err := contexts.StartSweeper(); err != nil {
		return err
	}

	defer contexts.Stop()

	surface := websocket.NewSurface(command.String("surface-url"), logger)
	defer func() {
		if err := surface.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close surface", "error", err)
		}
	}()

	engineOpts := []engine.Option{engine.WithEventBus(eventBus)}

	if command.Bool("tracing") {
		tr, err := tracer.NewTracer(ctx, "voyagent-server")
		if err != nil {
			return err
		}

		engineOpts = append(engineOpts, engine.WithTracer(tr))
	}

	maxRetries := command.Int("max-retries")

	eng := engine.NewEngine(engine.Config{
		MaxConcurrent: command.Int("max-concurrent"),
		MaxRetries:    &maxRetries,
	}, surface, contexts, logger, engineOpts...)
	defer eng.Close()

	parserOpts := []openaiparser.Option{openaiparser.WithLogger(logger)}

	if key := command.String("openai-api-key"); key != "" {
		parserOpts = append(parserOpts, openaiparser.WithAPIKey(key))
	}

	if model := command.String("openai-model"); model != "" {
		parserOpts = append(parserOpts, openaiparser.WithModel(model))
	}

	parser := openaiparser.New(parserOpts...)

	orch := orchestrator.NewOrchestrator(orchestrator.Config{
		AutoConfirm: command.Bool("auto-confirm"),
	}, parser, validator.New(validator.Config{}), eng, contexts, logger,
		orchestrator.WithEventBus(eventBus))

	api := NewAPI(logger, orch, contexts, store)

	logger.InfoContext(ctx, "Starting Voyagent API",
		"port", command.Int("port"),
		"context_ttl", command.Duration("context-ttl").Round(time.Second))

	return api.Start(command.Int("port"))
}

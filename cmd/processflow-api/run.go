package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/processflow/pkg/audit"
	"github.com/dukex/processflow/pkg/cmd"
	"github.com/dukex/processflow/pkg/collab"
	"github.com/dukex/processflow/pkg/export"
	"github.com/dukex/processflow/pkg/log"
	"github.com/dukex/processflow/pkg/otelhelper"
	"github.com/dukex/processflow/pkg/validation"
	"github.com/urfave/cli/v3"
)

const (
	defaultPort         = 9091
	defaultCollabPort   = 9093
	defaultKafkaBrokers = "localhost:9092"
)

func RunAPICommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the REST API and the collaboration server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.IntFlag{
				Name:    "collab-port",
				Usage:   "Port to run the collaboration WebSocket server on",
				Value:   defaultCollabPort,
				Sources: cli.EnvVars("COLLAB_PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Flow store URL (postgres://, redis://, memory:// or a directory)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Transport relaying collaboration events between instances (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   defaultKafkaBrokers,
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "media-base-url",
				Usage:   "Base URL that screenshot and video references resolve against",
				Sources: cli.EnvVars("MEDIA_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "validation-rules-file",
				Usage:   "YAML file with additional expression rules",
				Sources: cli.EnvVars("VALIDATION_RULES_FILE"),
			},
			&cli.BoolFlag{
				Name:    "structural-checks",
				Usage:   "Also check duplicate ids, single entry and cycles",
				Sources: cli.EnvVars("STRUCTURAL_CHECKS"),
			},
			&cli.StringFlag{
				Name:    "audit-schedule",
				Usage:   "Cron schedule of the validation audit of reviewed and approved flows, empty disables it",
				Value:   "@hourly",
				Sources: cli.EnvVars("AUDIT_SCHEDULE"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Setup(command.String("log-level"), log.WithFormat(command.String("log-format")))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing process flow API")

			tracer, shutdownTracer, err := otelhelper.NewTracer(ctx, "processflow-api", command.Bool("otel-enabled"))
			if err != nil {
				return fmt.Errorf("failed to initialize tracer: %w", err)
			}

			defer func() {
				err := shutdownTracer(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(context.WithoutCancel(ctx))
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			engine, err := newEngine(command.String("validation-rules-file"), command.Bool("structural-checks"))
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Validation rules loaded", "rules", engine.Rules())

			media, err := export.NewMedia(command.String("media-base-url"))
			if err != nil {
				return err
			}

			hub := collab.NewHub(logger)

			pub, sub, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			relay := collab.NewRelay(logger, hub, pub, sub)

			defer func() {
				err := relay.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			err = relay.Start(ctx)
			if err != nil {
				return err
			}

			collabServer, err := collab.NewServer(logger, hub, relay)
			if err != nil {
				return err
			}

			err = collabServer.Start(ctx, command.Int("collab-port"))
			if err != nil {
				return err
			}

			api := NewAPI(logger, persistence, engine, relay, media, tracer)

			if schedule := command.String("audit-schedule"); schedule != "" {
				auditor, err := audit.New(logger, persistence.FlowRepository(), engine, schedule)
				if err != nil {
					return err
				}

				err = auditor.Start(ctx)
				if err != nil {
					return err
				}

				defer func() {
					err := auditor.Stop(context.WithoutCancel(ctx))
					if err != nil {
						logger.ErrorContext(ctx, "Failed to stop validation audit", "error", err)
					}
				}()

				api.WithAudit(auditor)
			}

			err = api.Start(ctx, command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

			return nil
		},
	}
}

func newEngine(rulesFile string, structural bool) (*validation.Engine, error) {
	var opts []validation.Option

	if structural {
		opts = append(opts, validation.WithStructuralChecks())
	}

	if rulesFile != "" {
		rules, err := validation.LoadExprRules(rulesFile)
		if err != nil {
			return nil, err
		}

		opts = append(opts, validation.WithRules(rules...))
	}

	return validation.NewEngine(opts...), nil
}

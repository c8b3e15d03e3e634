// Package main provides the process flow API server.
package main

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/dukex/processflow/pkg/collab"
	"github.com/dukex/processflow/pkg/export"
	"github.com/dukex/processflow/pkg/persistence"
	"github.com/dukex/processflow/pkg/services"
	"github.com/dukex/processflow/pkg/validation"
	"github.com/dukex/processflow/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"go.opentelemetry.io/otel/trace"
)

const shutdownTimeout = 10 * time.Second

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	engine      *validation.Engine
	publisher   collab.Publisher
	media       export.Media
	tracer      trace.Tracer
	validate    *validator.Validate
	audit       web.AuditReporter
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	engine *validation.Engine,
	publisher collab.Publisher,
	media export.Media,
	tracer trace.Tracer,
) *API {
	return &API{
		logger:      logger,
		persistence: persistence,
		engine:      engine,
		publisher:   publisher,
		media:       media,
		tracer:      tracer,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

// WithAudit reports the validation audit on /health.
func (a *API) WithAudit(reporter web.AuditReporter) *API {
	a.audit = reporter

	return a
}

func (a *API) App() *fiber.App {
	flowService := services.NewFlow(a.logger, a.persistence, a.engine, a.publisher, a.tracer)
	approvalService := services.NewApproval(a.logger, a.persistence, a.engine, a.publisher, a.tracer)

	handlers := web.NewAPIHandlers(flowService, approvalService, a.validate, a.media, a.logger)
	if a.audit != nil {
		handlers.WithAudit(a.audit)
	}

	app := fiber.New()
	app.Use(recoverer.New())
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Process Flow API")
	})

	handlers.Register(app)

	app.Get("/health", handlers.HealthCheck)

	return app
}

// Start serves until ctx is done.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		err := app.ShutdownWithContext(shutdownCtx)
		if err != nil {
			a.logger.Error("Error during API shutdown", "error", err)
		}
	}()

	return app.Listen(":" + strconv.Itoa(port))
}

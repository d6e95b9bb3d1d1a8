// Package main provides the Voyagent API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/voyagent/voyagent/pkg/contextmanager"
	"github.com/voyagent/voyagent/pkg/orchestrator"
	"github.com/voyagent/voyagent/pkg/persistence"
	"github.com/voyagent/voyagent/pkg/web"
)

type API struct {
	logger       *slog.Logger
	orchestrator *orchestrator.Orchestrator
	contexts     *contextmanager.Manager
	store        persistence.Store
	validate     *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	orch *orchestrator.Orchestrator,
	contexts *contextmanager.Manager,
	store persistence.Store,
) *API {
	return &API{
		logger:       logger,
		orchestrator: orch,
		contexts:     contexts,
		store:        store,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.orchestrator, a.contexts, a.store, a.validate)

	app := fiber.New(fiber.Config{
		ErrorHandler: web.ErrorHandler,
	})
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Voyagent API")
	})

	commands := app.Group("/commands")
	commands.Post("/", handlers.ProcessCommand)
	commands.Post("/parsed", handlers.ProcessParsedCommands)

	requests := app.Group("/requests")
	requests.Get("/:id", handlers.GetRequest)
	requests.Delete("/:id", handlers.CancelRequest)

	contexts := app.Group("/contexts")
	contexts.Post("/", handlers.CreateContext)
	contexts.Get("/:id", handlers.GetContext)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}

// Package main provides the Ordino API server implementation.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/ordino-dev/ordino/pkg/eventbus"
	"github.com/ordino-dev/ordino/pkg/persistence"
	"github.com/ordino-dev/ordino/pkg/queue"
	"github.com/ordino-dev/ordino/pkg/services"
	"github.com/ordino-dev/ordino/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	validate    *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
) *API {
	return &API{
		persistence: persistence,
		logger:      logger,
		eventBus:    eventBus,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		services.NewSchedule(a.persistence),
		services.NewWorkflow(a.persistence),
		services.NewRun(a.logger, a.persistence, a.eventBus),
		services.NewApproval(a.logger, a.persistence, a.eventBus),
		queue.NewQueue(a.logger, a.persistence, a.eventBus),
		a.persistence,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Ordino API")
	})

	handlers.Register(app)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}

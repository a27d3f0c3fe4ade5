// Package main provides the TilepMony engine API server.
package main

import (
	"log/slog"

	"github.com/TilepMony-Project/engine/pkg/metrics"
	"github.com/TilepMony-Project/engine/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

type API struct {
	logger   *slog.Logger
	handlers *web.APIHandlers
	metrics  *metrics.Metrics
}

func NewAPI(logger *slog.Logger, handlers *web.APIHandlers, m *metrics.Metrics) *API {
	return &API{
		logger:   logger,
		handlers: handlers,
		metrics:  m,
	}
}

func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("TilepMony Engine")
	})

	if a.metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(a.metrics.Handler()))
	}

	a.handlers.Register(app)

	return app
}

// Package server exposes the pipeline control plane over HTTP. Connector
// configs leave this API only through the masking helpers in pkg/connections.
package server

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/oarkflow/log"

	"github.com/oarkflow/pipeline/etl"
	"github.com/oarkflow/pipeline/pkg/connections"
	"github.com/oarkflow/pipeline/pkg/synthesis"
)

type Config struct {
	Addr          string
	Version       string
	BasicAuthUser string
	BasicAuthPass string
	CORSOrigins   string
}

type Server struct {
	app    *fiber.App
	etl    *etl.Manager
	conns  *connections.Manager
	config Config
	logger *log.Logger
}

func New(cfg Config, manager *etl.Manager, conns *connections.Manager, lg *log.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if lg == nil {
		lg = &log.DefaultLogger
	}
	app := fiber.New(fiber.Config{
		AppName: "pipeline",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	server := &Server{
		app:    app,
		etl:    manager,
		conns:  conns,
		config: cfg,
		logger: lg,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	if s.config.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{AllowOrigins: s.config.CORSOrigins}))
	} else {
		s.app.Use(cors.New())
	}
	s.app.Use(logger.New())

	// Health check stays outside auth so probes keep working.
	s.app.Get("/api/health", s.healthHandler)

	if s.config.BasicAuthUser != "" {
		s.app.Use(basicauth.New(basicauth.Config{
			Users: map[string]string{s.config.BasicAuthUser: s.config.BasicAuthPass},
		}))
	}

	// Linked service endpoints
	s.app.Get("/api/services", s.listServicesHandler)
	s.app.Post("/api/services", s.createServiceHandler)
	s.app.Post("/api/services/test", s.testServiceConfigHandler)
	s.app.Get("/api/services/:id", s.getServiceHandler)
	s.app.Put("/api/services/:id", s.updateServiceHandler)
	s.app.Delete("/api/services/:id", s.deleteServiceHandler)
	s.app.Post("/api/services/:id/test", s.testServiceHandler)

	// Datasource endpoints
	s.app.Get("/api/datasources", s.listDataSourcesHandler)
	s.app.Post("/api/datasources", s.createDataSourceHandler)
	s.app.Get("/api/datasources/:id", s.getDataSourceHandler)
	s.app.Put("/api/datasources/:id", s.updateDataSourceHandler)
	s.app.Delete("/api/datasources/:id", s.deleteDataSourceHandler)
	s.app.Get("/api/datasources/:id/schema", s.dataSourceSchemaHandler)
	s.app.Post("/api/datasources/:id/test", s.testDataSourceHandler)

	// Pipeline endpoints
	s.app.Get("/api/pipelines", s.listPipelinesHandler)
	s.app.Post("/api/pipelines", s.createPipelineHandler)
	s.app.Get("/api/pipelines/:id", s.getPipelineHandler)
	s.app.Put("/api/pipelines/:id", s.updatePipelineHandler)
	s.app.Delete("/api/pipelines/:id", s.deletePipelineHandler)
	s.app.Post("/api/pipelines/:id/run", s.runPipelineHandler)

	// Execution and heal audit endpoints
	s.app.Get("/api/executions", s.listExecutionsHandler)
	s.app.Get("/api/executions/:id", s.getExecutionHandler)
	s.app.Get("/api/heal-events", s.listHealEventsHandler)

	// Transformation preview
	s.app.Post("/api/transformations/preview", s.previewHandler)
}

// Start blocks serving requests until Shutdown is called or the listener
// fails.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.Addr).Msg("starting api server")
	return s.app.Listen(s.config.Addr)
}

func (s *Server) Shutdown() error {
	s.logger.Info().Msg("shutting down api server")
	return s.app.Shutdown()
}

// App exposes the fiber app so tests can issue requests without a listener.
func (s *Server) App() *fiber.App {
	return s.app
}

func statusFromErr(err error) int {
	switch {
	case errors.Is(err, etl.ErrEmptyPipeline),
		errors.Is(err, etl.ErrCyclicPipeline),
		errors.Is(err, etl.ErrMissingInput),
		errors.Is(err, etl.ErrNoInjectionPoint):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, synthesis.ErrCodeGeneration):
		return fiber.StatusBadGateway
	case strings.Contains(err.Error(), "not found"):
		return fiber.StatusNotFound
	case strings.Contains(err.Error(), "already exists"):
		return fiber.StatusConflict
	default:
		return fiber.StatusBadRequest
	}
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	return c.Status(statusFromErr(err)).JSON(fiber.Map{"error": err.Error()})
}

package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oarkflow/json"

	"github.com/oarkflow/pipeline/etl"
	"github.com/oarkflow/pipeline/pkg/connections"
	"github.com/oarkflow/pipeline/pkg/contracts"
)

func (s *Server) healthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   s.config.Version,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) listServicesHandler(c *fiber.Ctx) error {
	svcs, err := s.conns.ListServices()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	out := make([]map[string]any, 0, len(svcs))
	for _, svc := range svcs {
		out = append(out, connections.Masked(svc))
	}
	return c.JSON(out)
}

func (s *Server) createServiceHandler(c *fiber.Ctx) error {
	var svc connections.LinkedService
	if err := json.Unmarshal(c.Body(), &svc); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	created, err := s.conns.AddService(svc)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(201).JSON(connections.Masked(created))
}

func (s *Server) getServiceHandler(c *fiber.Ctx) error {
	svc, err := s.conns.GetService(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(connections.Masked(svc))
}

func (s *Server) updateServiceHandler(c *fiber.Ctx) error {
	var svc connections.LinkedService
	if err := json.Unmarshal(c.Body(), &svc); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	svc.ID = c.Params("id")
	updated, err := s.conns.UpdateService(svc)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(connections.Masked(updated))
}

func (s *Server) deleteServiceHandler(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.conns.DeleteService(id); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"id": id, "message": "service deleted"})
}

// testServiceConfigHandler probes an unsaved config so the UI can validate
// credentials before anything touches the store.
func (s *Server) testServiceConfigHandler(c *fiber.Ctx) error {
	var req struct {
		Kind   contracts.Kind  `json:"kind"`
		Config json.RawMessage `json:"config"`
		Target string          `json:"target,omitempty"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	cfg, err := connections.DecodeConfig(req.Kind, req.Config)
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	ok, msg := s.etl.TestConnection(context.Background(), req.Kind, cfg, req.Target)
	return c.JSON(fiber.Map{"success": ok, "message": msg})
}

func (s *Server) testServiceHandler(c *fiber.Ctx) error {
	ok, msg := s.conns.TestServiceByID(context.Background(), c.Params("id"))
	return c.JSON(fiber.Map{"success": ok, "message": msg})
}

func (s *Server) listDataSourcesHandler(c *fiber.Ctx) error {
	var (
		sources []connections.DataSource
		err     error
	)
	if serviceID := c.Query("serviceId"); serviceID != "" {
		sources, err = s.conns.ListDataSourcesByService(serviceID)
	} else {
		sources, err = s.conns.ListDataSources()
	}
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(sources)
}

func (s *Server) createDataSourceHandler(c *fiber.Ctx) error {
	var source connections.DataSource
	if err := c.BodyParser(&source); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	created, err := s.conns.AddDataSource(source)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(201).JSON(created)
}

func (s *Server) getDataSourceHandler(c *fiber.Ctx) error {
	source, err := s.conns.GetDataSource(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(source)
}

func (s *Server) updateDataSourceHandler(c *fiber.Ctx) error {
	var source connections.DataSource
	if err := c.BodyParser(&source); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	source.ID = c.Params("id")
	updated, err := s.conns.UpdateDataSource(source)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(updated)
}

func (s *Server) deleteDataSourceHandler(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.conns.DeleteDataSource(id); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"id": id, "message": "datasource deleted"})
}

func (s *Server) dataSourceSchemaHandler(c *fiber.Ctx) error {
	id := c.Params("id")
	fields, err := s.etl.GetSchema(context.Background(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"datasourceId": id, "fields": fields})
}

func (s *Server) testDataSourceHandler(c *fiber.Ctx) error {
	ok, msg := s.conns.TestDataSource(context.Background(), c.Params("id"))
	return c.JSON(fiber.Map{"success": ok, "message": msg})
}

// createPipelineHandler accepts JSON, YAML, or BCL bodies. The format is
// detected from the payload, not the Content-Type header.
func (s *Server) createPipelineHandler(c *fiber.Ctx) error {
	p, err := etl.ParsePipelineDefinition(c.Body())
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	created, err := s.etl.AddPipeline(p)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(201).JSON(created)
}

func (s *Server) listPipelinesHandler(c *fiber.Ctx) error {
	pipelines, err := s.etl.ListPipelines()
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(pipelines)
}

func (s *Server) getPipelineHandler(c *fiber.Ctx) error {
	p, err := s.etl.GetPipeline(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(p)
}

func (s *Server) updatePipelineHandler(c *fiber.Ctx) error {
	p, err := etl.ParsePipelineDefinition(c.Body())
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": err.Error()})
	}
	p.ID = c.Params("id")
	updated, err := s.etl.UpdatePipeline(p)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(updated)
}

func (s *Server) deletePipelineHandler(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := s.etl.DeletePipeline(id); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"id": id, "message": "pipeline deleted"})
}

// runPipelineHandler blocks until the run finishes. A failed run still
// responds with the result body because the execution record exists; only
// requests that never produced one map to an error status.
func (s *Server) runPipelineHandler(c *fiber.Ctx) error {
	res, err := s.etl.RunPipeline(context.Background(), c.Params("id"))
	if err != nil && res.ExecutionID == "" {
		return s.fail(c, err)
	}
	if err != nil {
		return c.Status(statusFromErr(err)).JSON(res)
	}
	return c.JSON(res)
}

func (s *Server) listExecutionsHandler(c *fiber.Ctx) error {
	execs, err := s.etl.ListExecutions(c.Query("pipelineId"))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(execs)
}

func (s *Server) getExecutionHandler(c *fiber.Ctx) error {
	exec, err := s.etl.GetExecution(c.Params("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(exec)
}

func (s *Server) listHealEventsHandler(c *fiber.Ctx) error {
	events, err := s.etl.ListHealEvents(c.Query("pipelineId"))
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(events)
}

func (s *Server) previewHandler(c *fiber.Ctx) error {
	var req etl.PreviewRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	res, err := s.etl.PreviewTransformation(context.Background(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(res)
}

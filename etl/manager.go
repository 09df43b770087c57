// Package etl orchestrates node-based data pipelines: DAG validation,
// sequential topological execution over pluggable connectors, prompt-driven
// transform synthesis, and schema-drift self-healing. Execution state is
// persisted through store interfaces so callers choose durability.
package etl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oarkflow/bcl"
	"github.com/oarkflow/json"
	"github.com/oarkflow/log"
	"github.com/oarkflow/xid/wuid"
	"gopkg.in/yaml.v3"

	"github.com/oarkflow/pipeline/pkg/connections"
	"github.com/oarkflow/pipeline/pkg/contracts"
	"github.com/oarkflow/pipeline/pkg/sandbox"
	"github.com/oarkflow/pipeline/pkg/synthesis"
	"github.com/oarkflow/pipeline/pkg/tabular"
)

// ParsePipelineDefinition decodes a pipeline definition from JSON, YAML, or
// BCL, trying each format in that order.
func ParsePipelineDefinition(data []byte) (Pipeline, error) {
	trimmed := strings.TrimSpace(string(data))
	var p Pipeline
	if err := json.Unmarshal([]byte(trimmed), &p); err == nil {
		return p, nil
	}
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(trimmed), &raw); err == nil && len(raw) > 0 {
		if p, err := pipelineFromRaw(raw); err == nil {
			return p, nil
		}
	}
	raw = nil
	if _, err := bcl.Unmarshal([]byte(trimmed), &raw); err == nil && len(raw) > 0 {
		if p, err := pipelineFromRaw(raw); err == nil {
			return p, nil
		}
	}
	return Pipeline{}, fmt.Errorf("unable to detect pipeline format, please provide valid JSON, YAML, or BCL")
}

// pipelineFromRaw routes a decoded document through the JSON codec so the
// node payload union is resolved the same way for every input format.
func pipelineFromRaw(raw map[string]any) (Pipeline, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return Pipeline{}, err
	}
	var p Pipeline
	if err := json.Unmarshal(encoded, &p); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

// DataPlane is the connector surface the executor needs: bulk reads, bulk
// writes, and one-row schema probes, all addressed by datasource id.
type DataPlane interface {
	LoadTable(ctx context.Context, dataSourceID string, opts ...contracts.Option) (*tabular.Table, error)
	WriteTable(ctx context.Context, dataSourceID string, table *tabular.Table, mode contracts.WriteMode) error
	GetSchema(ctx context.Context, dataSourceID string) ([]tabular.Field, error)
}

// Manager is the engine facade: pipeline CRUD, synchronous runs, transform
// previews, and schema introspection.
type Manager struct {
	data       DataPlane
	conns      *connections.Manager
	generator  synthesis.Generator
	pipelines  PipelineStore
	executions ExecutionStore
	heals      HealEventStore
	bus        *EventBus
	notifier   *Notifier
	logger     *log.Logger

	engine     *sandbox.Engine
	engineOnce sync.Once
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		pipelines:  NewInMemoryPipelineStore(),
		executions: NewInMemoryExecutionStore(),
		heals:      NewInMemoryHealEventStore(),
		bus:        NewEventBus(),
		logger:     &log.DefaultLogger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bus exposes the event bus for external subscribers.
func (m *Manager) Bus() *EventBus {
	return m.bus
}

// sandboxEngine returns the process-wide script engine handle, created on
// first use and reused across runs.
func (m *Manager) sandboxEngine() *sandbox.Engine {
	m.engineOnce.Do(func() {
		m.engine = &sandbox.Engine{}
	})
	return m.engine
}

// --- pipeline CRUD ---

func (m *Manager) AddPipeline(p Pipeline) (Pipeline, error) {
	if p.ID == "" {
		p.ID = wuid.New().String()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := p.Validate(); err != nil {
		return Pipeline{}, err
	}
	if err := m.pipelines.AddPipeline(p); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

func (m *Manager) GetPipeline(id string) (Pipeline, error) {
	return m.pipelines.GetPipeline(id)
}

func (m *Manager) ListPipelines() ([]Pipeline, error) {
	return m.pipelines.ListPipelines()
}

func (m *Manager) UpdatePipeline(p Pipeline) (Pipeline, error) {
	existing, err := m.pipelines.GetPipeline(p.ID)
	if err != nil {
		return Pipeline{}, err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now()
	if err := p.Validate(); err != nil {
		return Pipeline{}, err
	}
	if err := m.pipelines.UpdatePipeline(p); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

func (m *Manager) DeletePipeline(id string) error {
	return m.pipelines.DeletePipeline(id)
}

// --- execution and heal history ---

func (m *Manager) GetExecution(id string) (Execution, error) {
	return m.executions.GetExecution(id)
}

func (m *Manager) ListExecutions(pipelineID string) ([]Execution, error) {
	return m.executions.ListExecutions(pipelineID)
}

func (m *Manager) ListHealEvents(pipelineID string) ([]HealEvent, error) {
	return m.heals.ListHealEvents(pipelineID)
}

// --- run entry point ---

// RunResult is the caller-facing summary of a synchronous run.
type RunResult struct {
	ExecutionID string          `json:"executionId"`
	Status      ExecutionStatus `json:"status"`
	Message     string          `json:"message"`
}

// RunPipeline executes a stored pipeline end to end and blocks until it
// reaches a terminal status. The Execution row is created as running before
// the pipeline is even fetched, so every attempt leaves an audit record; it
// is finalized exactly once, and the run error is both recorded on it and
// returned.
func (m *Manager) RunPipeline(ctx context.Context, pipelineID string) (RunResult, error) {
	execID := wuid.New().String()
	exec := Execution{
		ID:         execID,
		PipelineID: pipelineID,
		Status:     StatusRunning,
		StartedAt:  time.Now(),
	}
	if err := m.executions.AddExecution(exec); err != nil {
		return RunResult{}, err
	}

	rc := newRunContext(execID, pipelineID, m.bus)
	rc.publish(EventRunStarted, map[string]any{"pipeline": pipelineID})

	pipelineName := pipelineID
	finalize := func(runErr error) {
		now := time.Now()
		exec.FinishedAt = &now
		if runErr != nil {
			exec.Status = StatusFailed
			exec.Error = runErr.Error()
		} else {
			exec.Status = StatusCompleted
		}
		rc.publish(EventRunFinished, map[string]any{
			"pipeline": pipelineID,
			"status":   string(exec.Status),
		})
		exec.Logs = rc.logs()
		if err := m.executions.UpdateExecution(exec); err != nil {
			m.logger.Error().Str("execution", execID).Err(err).Msg("failed to finalize execution")
		}
		if m.notifier != nil {
			m.notifier.RunFinished(pipelineName, exec)
		}
	}

	p, err := m.pipelines.GetPipeline(pipelineID)
	if err != nil {
		finalize(err)
		return RunResult{ExecutionID: execID, Status: StatusFailed, Message: err.Error()}, err
	}
	pipelineName = p.Name

	if _, err := m.runGraph(ctx, rc, p, nil); err != nil {
		m.logger.Error().
			Str("execution", execID).
			Str("pipeline", pipelineID).
			Err(err).
			Msg("pipeline run failed")
		finalize(err)
		return RunResult{ExecutionID: execID, Status: StatusFailed, Message: err.Error()}, err
	}

	finalize(nil)
	m.logger.Info().
		Str("execution", execID).
		Str("pipeline", pipelineID).
		Msg("pipeline run completed")
	return RunResult{ExecutionID: execID, Status: StatusCompleted, Message: "pipeline execution completed"}, nil
}

// --- introspection ---

// GetSchema probes the live schema of a datasource.
func (m *Manager) GetSchema(ctx context.Context, dataSourceID string) ([]tabular.Field, error) {
	if m.data == nil {
		return nil, fmt.Errorf("no data plane configured")
	}
	return m.data.GetSchema(ctx, dataSourceID)
}

// TestConnection probes an unsaved connection config. It never returns an
// error; failures come back as (false, reason) with secrets scrubbed.
func (m *Manager) TestConnection(ctx context.Context, kind contracts.Kind, cfg connections.ServiceConfig, target string) (bool, string) {
	if m.conns == nil {
		return false, "no connection manager configured"
	}
	return m.conns.TestService(ctx, connections.LinkedService{Kind: kind, Config: cfg}, target)
}

package etl

import (
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/json"

	"github.com/oarkflow/pipeline/pkg/contracts"
)

type NodeType string

const (
	NodeSource    NodeType = "source"
	NodeTransform NodeType = "transform"
	NodeSink      NodeType = "sink"
	NodePipeline  NodeType = "pipeline"
)

// NodeData is the type-dependent payload of a node.
type NodeData interface {
	Validate() error
}

// SourceData loads a table from a datasource, optionally projecting a
// column subset.
type SourceData struct {
	DataSourceID    string   `json:"datasourceId"`
	SelectedColumns []string `json:"selectedColumns,omitempty"`
	TableName       string   `json:"tableName,omitempty"`
	Label           string   `json:"label,omitempty"`
}

func (d SourceData) Validate() error {
	if d.DataSourceID == "" {
		return fmt.Errorf("source node requires datasourceId")
	}
	return nil
}

// TransformData runs generated code over predecessor tables. SourceSchema
// is the schema snapshot the code was generated against, keyed by input
// table name; the drift guard compares it against live schemas before
// every run.
type TransformData struct {
	GeneratedCode string                       `json:"generatedCode"`
	SourceSchema  map[string]map[string]string `json:"sourceSchema,omitempty"`
	Prompt        string                       `json:"prompt,omitempty"`
	TableName     string                       `json:"tableName,omitempty"`
	Label         string                       `json:"label,omitempty"`
}

func (d TransformData) Validate() error {
	if d.GeneratedCode == "" {
		return fmt.Errorf("transform node requires generatedCode")
	}
	return nil
}

// SinkData writes its input table to a datasource target.
type SinkData struct {
	DataSourceID string              `json:"datasourceId"`
	TableName    string              `json:"tableName,omitempty"`
	WriteMode    contracts.WriteMode `json:"writeMode,omitempty"`
	Label        string              `json:"label,omitempty"`
}

func (d SinkData) Validate() error {
	if d.DataSourceID == "" {
		return fmt.Errorf("sink node requires datasourceId")
	}
	switch d.WriteMode {
	case "", contracts.WriteAppend, contracts.WriteOverwrite:
		return nil
	default:
		return fmt.Errorf("unknown write mode: %s", d.WriteMode)
	}
}

// Mode returns the effective write mode, defaulting to append.
func (d SinkData) Mode() contracts.WriteMode {
	if d.WriteMode == "" {
		return contracts.WriteAppend
	}
	return d.WriteMode
}

// PipelineRefData embeds another pipeline as a single node.
type PipelineRefData struct {
	PipelineID string `json:"pipelineId"`
	TableName  string `json:"tableName,omitempty"`
	Label      string `json:"label,omitempty"`
}

func (d PipelineRefData) Validate() error {
	if d.PipelineID == "" {
		return fmt.Errorf("pipeline node requires pipelineId")
	}
	return nil
}

type Node struct {
	ID   string   `json:"id"`
	Type NodeType `json:"type"`
	Data NodeData `json:"data"`
}

func (n *Node) UnmarshalJSON(data []byte) error {
	type Alias Node
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{Alias: (*Alias)(n)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	if len(aux.Data) == 0 {
		aux.Data = []byte("{}")
	}
	switch n.Type {
	case NodeSource:
		var d SourceData
		if err := json.Unmarshal(aux.Data, &d); err != nil {
			return err
		}
		n.Data = d
	case NodeTransform:
		var d TransformData
		if err := json.Unmarshal(aux.Data, &d); err != nil {
			return err
		}
		n.Data = d
	case NodeSink:
		var d SinkData
		if err := json.Unmarshal(aux.Data, &d); err != nil {
			return err
		}
		n.Data = d
	case NodePipeline:
		var d PipelineRefData
		if err := json.Unmarshal(aux.Data, &d); err != nil {
			return err
		}
		n.Data = d
	default:
		return fmt.Errorf("unknown node type: %s", n.Type)
	}
	return nil
}

func (n Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("node id is required")
	}
	if n.Data == nil {
		return fmt.Errorf("node %s: data is required", n.ID)
	}
	if err := n.Data.Validate(); err != nil {
		return fmt.Errorf("node %s: %w", n.ID, err)
	}
	return nil
}

// TableKey is the name a node's output table goes by when it feeds a
// transform: the declared table name, then the label, then a synthetic
// node key.
func (n Node) TableKey() string {
	var tableName, label string
	switch d := n.Data.(type) {
	case SourceData:
		tableName, label = d.TableName, d.Label
	case TransformData:
		tableName, label = d.TableName, d.Label
	case SinkData:
		tableName, label = d.TableName, d.Label
	case PipelineRefData:
		tableName, label = d.TableName, d.Label
	}
	if tableName != "" {
		return tableName
	}
	if label != "" {
		return label
	}
	return "node_" + n.ID
}

type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Pipeline is a user-authored DAG definition. The engine only mutates it
// through the auto-heal path, which rewrites one transform node in place.
type Pipeline struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Nodes     []Node    `json:"nodes"`
	Edges     []Edge    `json:"edges"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Pipeline) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("pipeline name is required")
	}
	seen := make(map[string]struct{}, len(p.Nodes))
	for _, node := range p.Nodes {
		if err := node.Validate(); err != nil {
			return err
		}
		if _, dup := seen[node.ID]; dup {
			return fmt.Errorf("duplicate node id: %s", node.ID)
		}
		seen[node.ID] = struct{}{}
	}
	for _, edge := range p.Edges {
		if _, ok := seen[edge.Source]; !ok {
			return fmt.Errorf("edge references missing node: %s", edge.Source)
		}
		if _, ok := seen[edge.Target]; !ok {
			return fmt.Errorf("edge references missing node: %s", edge.Target)
		}
	}
	return nil
}

// Node returns the node with the given id.
func (p *Pipeline) Node(id string) (Node, bool) {
	for _, node := range p.Nodes {
		if node.ID == id {
			return node, true
		}
	}
	return Node{}, false
}

type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// Execution is the audit record of one run. It is created as running and
// finalized exactly once to completed or failed.
type Execution struct {
	ID         string          `json:"id"`
	PipelineID string          `json:"pipeline_id"`
	Status     ExecutionStatus `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Error      string          `json:"error_message,omitempty"`
	Logs       []string        `json:"logs,omitempty"`
}

// HealEvent records one auto-heal of a transform node: which run triggered
// it, what the schemas were, and whether the healed code reached the
// stored pipeline.
type HealEvent struct {
	ID          string                       `json:"id"`
	PipelineID  string                       `json:"pipeline_id"`
	NodeID      string                       `json:"node_id"`
	ExecutionID string                       `json:"execution_id"`
	OldSchema   map[string]map[string]string `json:"old_schema"`
	NewSchema   map[string]map[string]string `json:"new_schema"`
	OldCode     string                       `json:"old_code"`
	NewCode     string                       `json:"new_code"`
	Persisted   bool                         `json:"persisted"`
	CreatedAt   time.Time                    `json:"created_at"`
}

type PipelineStore interface {
	AddPipeline(Pipeline) error
	GetPipeline(string) (Pipeline, error)
	UpdatePipeline(Pipeline) error
	DeletePipeline(string) error
	ListPipelines() ([]Pipeline, error)
}

type ExecutionStore interface {
	AddExecution(Execution) error
	UpdateExecution(Execution) error
	GetExecution(string) (Execution, error)
	ListExecutions(pipelineID string) ([]Execution, error)
}

type HealEventStore interface {
	AddHealEvent(HealEvent) error
	ListHealEvents(pipelineID string) ([]HealEvent, error)
}

type InMemoryPipelineStore struct {
	pipelines map[string]Pipeline
	mu        sync.RWMutex
}

func NewInMemoryPipelineStore() *InMemoryPipelineStore {
	return &InMemoryPipelineStore{pipelines: make(map[string]Pipeline)}
}

func (s *InMemoryPipelineStore) AddPipeline(p Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pipelines[p.ID]; exists {
		return fmt.Errorf("pipeline already exists: %s", p.ID)
	}
	s.pipelines[p.ID] = p
	return nil
}

func (s *InMemoryPipelineStore) GetPipeline(id string) (Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, exists := s.pipelines[id]
	if !exists {
		return Pipeline{}, fmt.Errorf("pipeline not found: %s", id)
	}
	return p, nil
}

func (s *InMemoryPipelineStore) UpdatePipeline(p Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pipelines[p.ID]; !exists {
		return fmt.Errorf("pipeline not found: %s", p.ID)
	}
	s.pipelines[p.ID] = p
	return nil
}

func (s *InMemoryPipelineStore) DeletePipeline(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pipelines[id]; !exists {
		return fmt.Errorf("pipeline not found: %s", id)
	}
	delete(s.pipelines, id)
	return nil
}

func (s *InMemoryPipelineStore) ListPipelines() ([]Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pipelines := make([]Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		pipelines = append(pipelines, p)
	}
	return pipelines, nil
}

type InMemoryExecutionStore struct {
	executions map[string]Execution
	mu         sync.RWMutex
}

func NewInMemoryExecutionStore() *InMemoryExecutionStore {
	return &InMemoryExecutionStore{executions: make(map[string]Execution)}
}

func (s *InMemoryExecutionStore) AddExecution(e Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[e.ID]; exists {
		return fmt.Errorf("execution already exists: %s", e.ID)
	}
	s.executions[e.ID] = e
	return nil
}

func (s *InMemoryExecutionStore) UpdateExecution(e Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[e.ID]; !exists {
		return fmt.Errorf("execution not found: %s", e.ID)
	}
	s.executions[e.ID] = e
	return nil
}

func (s *InMemoryExecutionStore) GetExecution(id string) (Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, exists := s.executions[id]
	if !exists {
		return Execution{}, fmt.Errorf("execution not found: %s", id)
	}
	return e, nil
}

func (s *InMemoryExecutionStore) ListExecutions(pipelineID string) ([]Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var executions []Execution
	for _, e := range s.executions {
		if pipelineID == "" || e.PipelineID == pipelineID {
			executions = append(executions, e)
		}
	}
	return executions, nil
}

type InMemoryHealEventStore struct {
	events []HealEvent
	mu     sync.RWMutex
}

func NewInMemoryHealEventStore() *InMemoryHealEventStore {
	return &InMemoryHealEventStore{}
}

func (s *InMemoryHealEventStore) AddHealEvent(e HealEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *InMemoryHealEventStore) ListHealEvents(pipelineID string) ([]HealEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []HealEvent
	for _, e := range s.events {
		if pipelineID == "" || e.PipelineID == pipelineID {
			events = append(events, e)
		}
	}
	return events, nil
}

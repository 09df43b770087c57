package etl

import (
	"context"
	"strings"
	"testing"

	"github.com/oarkflow/pipeline/pkg/contracts"
)

const jsonPipelineDoc = `{
  "id": "orders-flow",
  "name": "orders flow",
  "nodes": [
    {"id": "src", "type": "source", "data": {"datasourceId": "orders_ds", "tableName": "orders"}},
    {"id": "tx", "type": "transform", "data": {"generatedCode": "let transform = fn(engine, inputs) { return inputs[\"orders\"] }"}},
    {"id": "out", "type": "sink", "data": {"datasourceId": "sink_ds", "writeMode": "overwrite"}}
  ],
  "edges": [
    {"source": "src", "target": "tx"},
    {"source": "tx", "target": "out"}
  ]
}`

const yamlPipelineDoc = `id: orders-flow
name: orders flow
nodes:
  - id: src
    type: source
    data:
      datasourceId: orders_ds
      tableName: orders
  - id: tx
    type: transform
    data:
      generatedCode: 'let transform = fn(engine, inputs) { return inputs["orders"] }'
  - id: out
    type: sink
    data:
      datasourceId: sink_ds
      writeMode: overwrite
edges:
  - source: src
    target: tx
  - source: tx
    target: out
`

func TestParsePipelineDefinitionFormats(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
	}{
		{"json", jsonPipelineDoc},
		{"yaml", yamlPipelineDoc},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParsePipelineDefinition([]byte(tc.doc))
			if err != nil {
				t.Fatalf("ParsePipelineDefinition: %v", err)
			}
			if p.ID != "orders-flow" || p.Name != "orders flow" {
				t.Fatalf("header = %q %q", p.ID, p.Name)
			}
			if len(p.Nodes) != 3 || len(p.Edges) != 2 {
				t.Fatalf("nodes = %d edges = %d", len(p.Nodes), len(p.Edges))
			}
			src, ok := p.Nodes[0].Data.(SourceData)
			if !ok || src.DataSourceID != "orders_ds" || src.TableName != "orders" {
				t.Errorf("source payload = %#v", p.Nodes[0].Data)
			}
			tx, ok := p.Nodes[1].Data.(TransformData)
			if !ok || !strings.Contains(tx.GeneratedCode, "let transform") {
				t.Errorf("transform payload = %#v", p.Nodes[1].Data)
			}
			sink, ok := p.Nodes[2].Data.(SinkData)
			if !ok || sink.WriteMode != contracts.WriteOverwrite {
				t.Errorf("sink payload = %#v", p.Nodes[2].Data)
			}
			if err := p.Validate(); err != nil {
				t.Errorf("parsed pipeline invalid: %v", err)
			}
		})
	}
}

func TestParsePipelineDefinitionDetectsBCL(t *testing.T) {
	for _, tc := range []struct {
		name string
		doc  string
	}{
		{"json", `{"name":"reconcile"}`},
		{"yaml", "name: reconcile"},
		{"bcl", `name = "reconcile"`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, err := ParsePipelineDefinition([]byte(tc.doc))
			if err != nil {
				t.Fatalf("ParsePipelineDefinition: %v", err)
			}
			if p.Name != "reconcile" {
				t.Fatalf("name = %q, want reconcile", p.Name)
			}
		})
	}
}

func TestParsePipelineDefinitionRejectsGarbage(t *testing.T) {
	_, err := ParsePipelineDefinition([]byte("%%% not a config %%%"))
	if err == nil || !strings.Contains(err.Error(), "unable to detect pipeline format") {
		t.Fatalf("err = %v", err)
	}
}

func TestAddPipelineAssignsIDAndTimestamps(t *testing.T) {
	m := NewManager()
	p, err := m.AddPipeline(Pipeline{
		Name:  "auto",
		Nodes: []Node{{ID: "src", Type: NodeSource, Data: SourceData{DataSourceID: "ds"}}},
	})
	if err != nil {
		t.Fatalf("AddPipeline: %v", err)
	}
	if p.ID == "" {
		t.Error("id not assigned")
	}
	if p.CreatedAt.IsZero() || !p.UpdatedAt.Equal(p.CreatedAt) {
		t.Errorf("timestamps = %v %v", p.CreatedAt, p.UpdatedAt)
	}

	if _, err := m.AddPipeline(Pipeline{}); err == nil {
		t.Error("nameless pipeline must be rejected")
	}
	if _, err := m.AddPipeline(Pipeline{
		Name:  "bad node",
		Nodes: []Node{{ID: "s", Type: NodeSink, Data: SinkData{}}},
	}); err == nil {
		t.Error("invalid node payload must be rejected")
	}
}

func TestUpdatePipelinePreservesCreatedAt(t *testing.T) {
	m := NewManager()
	p, err := m.AddPipeline(Pipeline{
		Name:  "first",
		Nodes: []Node{{ID: "src", Type: NodeSource, Data: SourceData{DataSourceID: "ds"}}},
	})
	if err != nil {
		t.Fatalf("AddPipeline: %v", err)
	}

	p.Name = "renamed"
	updated, err := m.UpdatePipeline(p)
	if err != nil {
		t.Fatalf("UpdatePipeline: %v", err)
	}
	if !updated.CreatedAt.Equal(p.CreatedAt) {
		t.Error("CreatedAt must survive updates")
	}
	if updated.UpdatedAt.Before(updated.CreatedAt) {
		t.Error("UpdatedAt moved backwards")
	}
	stored, _ := m.GetPipeline(p.ID)
	if stored.Name != "renamed" {
		t.Errorf("stored name = %q", stored.Name)
	}

	if _, err := m.UpdatePipeline(Pipeline{ID: "ghost", Name: "x"}); err == nil {
		t.Error("updating a missing pipeline must fail")
	}
}

func TestDeletePipeline(t *testing.T) {
	m := NewManager()
	p, err := m.AddPipeline(Pipeline{
		Name:  "short lived",
		Nodes: []Node{{ID: "src", Type: NodeSource, Data: SourceData{DataSourceID: "ds"}}},
	})
	if err != nil {
		t.Fatalf("AddPipeline: %v", err)
	}
	if err := m.DeletePipeline(p.ID); err != nil {
		t.Fatalf("DeletePipeline: %v", err)
	}
	if _, err := m.GetPipeline(p.ID); err == nil {
		t.Error("deleted pipeline still readable")
	}
	if err := m.DeletePipeline(p.ID); err == nil {
		t.Error("double delete must fail")
	}
}

func TestGetSchemaRequiresDataPlane(t *testing.T) {
	m := NewManager()
	if _, err := m.GetSchema(context.Background(), "ds"); err == nil {
		t.Fatal("GetSchema without a data plane must fail")
	}

	dp := newFakeDataPlane()
	dp.tables["orders_ds"] = ordersFixture()
	m = NewManager(WithDataPlane(dp))
	fields, err := m.GetSchema(context.Background(), "orders_ds")
	if err != nil {
		t.Fatalf("GetSchema: %v", err)
	}
	if len(fields) != 3 {
		t.Fatalf("fields = %v", fields)
	}
}

func TestTestConnectionWithoutManager(t *testing.T) {
	m := NewManager()
	ok, msg := m.TestConnection(context.Background(), contracts.KindPostgres, nil, "")
	if ok || msg != "no connection manager configured" {
		t.Fatalf("got %v %q", ok, msg)
	}
}

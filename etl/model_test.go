package etl

import (
	"strings"
	"testing"

	"github.com/oarkflow/json"

	"github.com/oarkflow/pipeline/pkg/contracts"
)

func TestNodeUnmarshalDispatchesPayloads(t *testing.T) {
	doc := `{
		"nodes": [
			{"id": "n1", "type": "source", "data": {"datasourceId": "ds1", "selectedColumns": ["id", "amount"], "tableName": "orders"}},
			{"id": "n2", "type": "transform", "data": {"generatedCode": "let transform = fn(engine, inputs) { return inputs[\"orders\"] }", "sourceSchema": {"orders": {"id": "int"}}}},
			{"id": "n3", "type": "sink", "data": {"datasourceId": "ds2", "writeMode": "overwrite"}},
			{"id": "n4", "type": "pipeline", "data": {"pipelineId": "child-1"}}
		],
		"edges": [{"source": "n1", "target": "n2"}],
		"name": "typed payloads"
	}`
	var p Pipeline
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	src, ok := p.Nodes[0].Data.(SourceData)
	if !ok {
		t.Fatalf("node n1 payload is %T, want SourceData", p.Nodes[0].Data)
	}
	if src.DataSourceID != "ds1" || len(src.SelectedColumns) != 2 || src.TableName != "orders" {
		t.Fatalf("unexpected source payload: %+v", src)
	}

	tr, ok := p.Nodes[1].Data.(TransformData)
	if !ok {
		t.Fatalf("node n2 payload is %T, want TransformData", p.Nodes[1].Data)
	}
	if !strings.Contains(tr.GeneratedCode, "transform") || tr.SourceSchema["orders"]["id"] != "int" {
		t.Fatalf("unexpected transform payload: %+v", tr)
	}

	sink, ok := p.Nodes[2].Data.(SinkData)
	if !ok {
		t.Fatalf("node n3 payload is %T, want SinkData", p.Nodes[2].Data)
	}
	if sink.WriteMode != contracts.WriteOverwrite {
		t.Fatalf("write mode = %q, want overwrite", sink.WriteMode)
	}

	ref, ok := p.Nodes[3].Data.(PipelineRefData)
	if !ok {
		t.Fatalf("node n4 payload is %T, want PipelineRefData", p.Nodes[3].Data)
	}
	if ref.PipelineID != "child-1" {
		t.Fatalf("pipeline ref = %q", ref.PipelineID)
	}
}

func TestNodeUnmarshalRejectsUnknownType(t *testing.T) {
	var n Node
	if err := json.Unmarshal([]byte(`{"id": "x", "type": "teleport", "data": {}}`), &n); err == nil {
		t.Fatal("unknown node type must fail")
	}
}

func TestTableKeyFallbackChain(t *testing.T) {
	cases := []struct {
		name string
		node Node
		want string
	}{
		{
			name: "table name wins",
			node: Node{ID: "n9", Type: NodeSource, Data: SourceData{DataSourceID: "d", TableName: "orders", Label: "Orders Source"}},
			want: "orders",
		},
		{
			name: "label next",
			node: Node{ID: "n9", Type: NodeTransform, Data: TransformData{GeneratedCode: "x", Label: "Cleaned"}},
			want: "Cleaned",
		},
		{
			name: "node id last",
			node: Node{ID: "n9", Type: NodeSink, Data: SinkData{DataSourceID: "d"}},
			want: "node_n9",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.node.TableKey(); got != tc.want {
				t.Fatalf("TableKey = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSinkModeDefaultsToAppend(t *testing.T) {
	d := SinkData{DataSourceID: "ds"}
	if d.Mode() != contracts.WriteAppend {
		t.Fatalf("Mode = %q, want append", d.Mode())
	}
	if err := (SinkData{DataSourceID: "ds", WriteMode: "upsert"}).Validate(); err == nil {
		t.Fatal("unknown write mode must fail validation")
	}
}

func TestPipelineValidate(t *testing.T) {
	p := Pipeline{
		Name: "dup check",
		Nodes: []Node{
			sourceNode("a"),
			sourceNode("a"),
		},
	}
	if err := p.Validate(); err == nil {
		t.Fatal("duplicate node ids must fail")
	}

	p = Pipeline{
		Name:  "edge check",
		Nodes: []Node{sourceNode("a")},
		Edges: []Edge{{Source: "a", Target: "missing"}},
	}
	if err := p.Validate(); err == nil {
		t.Fatal("edge to missing node must fail")
	}

	p = Pipeline{Nodes: []Node{sourceNode("a")}}
	if err := p.Validate(); err == nil {
		t.Fatal("missing name must fail")
	}
}

func TestNodeValidateRequiresPayloadFields(t *testing.T) {
	bad := []Node{
		{ID: "s", Type: NodeSource, Data: SourceData{}},
		{ID: "t", Type: NodeTransform, Data: TransformData{}},
		{ID: "k", Type: NodeSink, Data: SinkData{}},
		{ID: "p", Type: NodePipeline, Data: PipelineRefData{}},
		{ID: "", Type: NodeSource, Data: SourceData{DataSourceID: "ds"}},
	}
	for _, n := range bad {
		if err := n.Validate(); err == nil {
			t.Errorf("node %+v must fail validation", n)
		}
	}
}

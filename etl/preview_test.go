package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/oarkflow/pipeline/pkg/sandbox"
	"github.com/oarkflow/pipeline/pkg/synthesis"
)

func TestPreviewTransformation(t *testing.T) {
	dp := newFakeDataPlane()
	dp.tables["orders_ds"] = ordersFixture()
	gen := &fakeGenerator{generateCode: filterCode}
	m := NewManager(WithDataPlane(dp), WithGenerator(gen))

	res, err := m.PreviewTransformation(context.Background(), PreviewRequest{
		Sources: []PreviewSource{{DataSourceID: "orders_ds", TableName: "orders"}},
		Prompt:  "orders above 100",
		Limit:   1,
	})
	if err != nil {
		t.Fatalf("PreviewTransformation: %v", err)
	}
	if res.RowCount != 1 || len(res.Rows) != 1 {
		t.Fatalf("rowCount = %d rows = %d, want 1 after limit", res.RowCount, len(res.Rows))
	}
	if len(res.Columns) != 3 {
		t.Fatalf("columns = %v, want full schema", res.Columns)
	}
	if res.GeneratedCode != filterCode {
		t.Errorf("generatedCode = %q", res.GeneratedCode)
	}
	if res.SourceSchemas["orders"]["amount"] != "float" {
		t.Errorf("sourceSchemas = %v", res.SourceSchemas)
	}
	if gen.generateCalls != 1 || gen.lastPrompt != "orders above 100" || gen.lastHint != "" {
		t.Errorf("generator saw prompt %q hint %q across %d calls", gen.lastPrompt, gen.lastHint, gen.generateCalls)
	}

	execs, _ := m.ListExecutions("")
	if len(execs) != 0 {
		t.Fatalf("preview recorded %d executions, want none", len(execs))
	}
}

func TestPreviewDefaultLimitAndModelHint(t *testing.T) {
	dp := newFakeDataPlane()
	dp.tables["orders_ds"] = ordersFixture()
	gen := &fakeGenerator{generateCode: filterCode}
	m := NewManager(WithDataPlane(dp), WithGenerator(gen))

	res, err := m.PreviewTransformation(context.Background(), PreviewRequest{
		Sources:   []PreviewSource{{DataSourceID: "orders_ds", TableName: "orders"}},
		Prompt:    "orders above 100",
		ModelHint: "gpt-4o-mini",
	})
	if err != nil {
		t.Fatalf("PreviewTransformation: %v", err)
	}
	if res.RowCount != 2 {
		t.Fatalf("rowCount = %d, want the 2 filtered rows under the default limit", res.RowCount)
	}
	if gen.lastHint != "gpt-4o-mini" {
		t.Errorf("model hint = %q", gen.lastHint)
	}
}

func TestPreviewFallbackTableNames(t *testing.T) {
	dp := newFakeDataPlane()
	dp.tables["a_ds"] = ordersFixture()
	dp.tables["b_ds"] = ordersFixture()
	gen := &fakeGenerator{generateCode: `let transform = fn(engine, inputs) { return inputs["table_2"] }`}
	m := NewManager(WithDataPlane(dp), WithGenerator(gen))

	res, err := m.PreviewTransformation(context.Background(), PreviewRequest{
		Sources: []PreviewSource{{DataSourceID: "a_ds"}, {DataSourceID: "b_ds"}},
		Prompt:  "pick the second",
	})
	if err != nil {
		t.Fatalf("PreviewTransformation: %v", err)
	}
	if _, ok := res.SourceSchemas["table_1"]; !ok {
		t.Errorf("schemas = %v, want table_1 key", res.SourceSchemas)
	}
	if _, ok := res.SourceSchemas["table_2"]; !ok {
		t.Errorf("schemas = %v, want table_2 key", res.SourceSchemas)
	}
	if res.RowCount != 3 {
		t.Fatalf("rowCount = %d, want 3", res.RowCount)
	}
}

func TestPreviewSelectedColumns(t *testing.T) {
	dp := newFakeDataPlane()
	dp.tables["orders_ds"] = ordersFixture()
	gen := &fakeGenerator{generateCode: passthroughCode}
	m := NewManager(WithDataPlane(dp), WithGenerator(gen))

	res, err := m.PreviewTransformation(context.Background(), PreviewRequest{
		Sources: []PreviewSource{{DataSourceID: "orders_ds", TableName: "orders", SelectedColumns: []string{"id"}}},
		Prompt:  "just ids",
	})
	if err != nil {
		t.Fatalf("PreviewTransformation: %v", err)
	}
	if len(res.Columns) != 1 || res.Columns[0] != "id" {
		t.Fatalf("columns = %v, want [id]", res.Columns)
	}
	if _, ok := res.SourceSchemas["orders"]["amount"]; ok {
		t.Error("projected-away column leaked into the schema")
	}
}

func TestPreviewValidation(t *testing.T) {
	dp := newFakeDataPlane()
	dp.tables["orders_ds"] = ordersFixture()
	gen := &fakeGenerator{generateCode: passthroughCode}
	m := NewManager(WithDataPlane(dp), WithGenerator(gen))

	if _, err := m.PreviewTransformation(context.Background(), PreviewRequest{Prompt: "x"}); err == nil {
		t.Error("missing sources must fail")
	}
	if _, err := m.PreviewTransformation(context.Background(), PreviewRequest{
		Sources: []PreviewSource{{DataSourceID: "orders_ds"}},
		Prompt:  "   ",
	}); err == nil {
		t.Error("blank prompt must fail")
	}

	bare := NewManager(WithDataPlane(dp))
	_, err := bare.PreviewTransformation(context.Background(), PreviewRequest{
		Sources: []PreviewSource{{DataSourceID: "orders_ds"}},
		Prompt:  "x",
	})
	if err == nil || !strings.Contains(err.Error(), "no code generator configured") {
		t.Errorf("err = %v, want missing generator", err)
	}
}

func TestPreviewGenerationFailure(t *testing.T) {
	dp := newFakeDataPlane()
	dp.tables["orders_ds"] = ordersFixture()
	gen := &fakeGenerator{generateErr: fmt.Errorf("%w: rate limited", synthesis.ErrCodeGeneration)}
	m := NewManager(WithDataPlane(dp), WithGenerator(gen))

	_, err := m.PreviewTransformation(context.Background(), PreviewRequest{
		Sources: []PreviewSource{{DataSourceID: "orders_ds", TableName: "orders"}},
		Prompt:  "anything",
	})
	if !errors.Is(err, synthesis.ErrCodeGeneration) {
		t.Fatalf("err = %v, want ErrCodeGeneration", err)
	}
}

func TestPreviewSandboxFailurePropagates(t *testing.T) {
	dp := newFakeDataPlane()
	dp.tables["orders_ds"] = ordersFixture()
	gen := &fakeGenerator{generateCode: `let x = 1`}
	m := NewManager(WithDataPlane(dp), WithGenerator(gen))

	_, err := m.PreviewTransformation(context.Background(), PreviewRequest{
		Sources: []PreviewSource{{DataSourceID: "orders_ds", TableName: "orders"}},
		Prompt:  "anything",
	})
	if !errors.Is(err, sandbox.ErrMissingTransformFunction) {
		t.Fatalf("err = %v, want ErrMissingTransformFunction", err)
	}
}

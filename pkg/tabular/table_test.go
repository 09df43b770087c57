package tabular

import (
	"testing"
	"time"
)

func TestFromRowsInfersFieldsAndNullability(t *testing.T) {
	rows := []Row{
		{"id": int64(1), "name": "alpha", "score": 3.5},
		{"id": int64(2), "name": nil, "score": 4.0},
	}
	table := FromRows(rows)

	cols := table.Columns()
	want := []string{"id", "name", "score"}
	if len(cols) != len(want) {
		t.Fatalf("expected %d columns, got %d", len(want), len(cols))
	}
	for i, c := range want {
		if cols[i] != c {
			t.Fatalf("expected column %d to be %s, got %s", i, c, cols[i])
		}
	}

	schema := table.Schema()
	if schema["id"] != "int" || schema["name"] != "string" || schema["score"] != "float" {
		t.Fatalf("unexpected schema: %#v", schema)
	}

	name, _ := table.Field("name")
	if !name.Nullable {
		t.Fatalf("expected name to be nullable")
	}
	id, _ := table.Field("id")
	if id.Nullable {
		t.Fatalf("expected id to be non-nullable")
	}
}

func TestProjectPreservesOrderAndRejectsUnknown(t *testing.T) {
	table := FromOrderedRows([]string{"a", "b", "c"}, []Row{
		{"a": int64(1), "b": "x", "c": true},
	})

	projected, err := table.Project([]string{"c", "a"})
	if err != nil {
		t.Fatalf("project failed: %v", err)
	}
	cols := projected.Columns()
	if cols[0] != "c" || cols[1] != "a" {
		t.Fatalf("expected [c a], got %v", cols)
	}
	if _, ok := projected.Rows[0]["b"]; ok {
		t.Fatalf("projected row should not carry dropped column b")
	}

	if _, err := table.Project([]string{"missing"}); err == nil {
		t.Fatalf("expected error for unknown column")
	}
}

func TestHeadBounds(t *testing.T) {
	table := FromOrderedRows([]string{"n"}, []Row{{"n": int64(1)}, {"n": int64(2)}, {"n": int64(3)}})
	if got := table.Head(2).Len(); got != 2 {
		t.Fatalf("expected 2 rows, got %d", got)
	}
	if got := table.Head(10).Len(); got != 3 {
		t.Fatalf("expected 3 rows, got %d", got)
	}
	if got := table.Head(-1).Len(); got != 3 {
		t.Fatalf("expected negative head to keep all rows, got %d", got)
	}
}

func TestEqualSchemasIsOrderIndependent(t *testing.T) {
	a := map[string]string{"x": "int", "y": "string"}
	b := map[string]string{"y": "string", "x": "int"}
	if !EqualSchemas(a, b) {
		t.Fatalf("expected schemas to be equal")
	}
	c := map[string]string{"x": "int", "y": "string", "z": "float"}
	if EqualSchemas(a, c) {
		t.Fatalf("expected added column to break equality")
	}
	d := map[string]string{"x": "float", "y": "string"}
	if EqualSchemas(a, d) {
		t.Fatalf("expected changed type to break equality")
	}
}

func TestInferValue(t *testing.T) {
	if v, ok := InferValue("42").(int64); !ok || v != 42 {
		t.Fatalf("expected int64 42, got %#v", InferValue("42"))
	}
	if v, ok := InferValue("3.14").(float64); !ok || v != 3.14 {
		t.Fatalf("expected float64 3.14, got %#v", InferValue("3.14"))
	}
	if v, ok := InferValue("true").(bool); !ok || !v {
		t.Fatalf("expected bool true, got %#v", InferValue("true"))
	}
	if _, ok := InferValue("2024-05-01").(time.Time); !ok {
		t.Fatalf("expected datetime, got %#v", InferValue("2024-05-01"))
	}
	if v, ok := InferValue("plain text").(string); !ok || v != "plain text" {
		t.Fatalf("expected string passthrough, got %#v", InferValue("plain text"))
	}
}

func TestNormalizeRow(t *testing.T) {
	row := Row{"id": "7", "price": "19.99", "active": "true", "note": 12}
	schema := map[string]string{
		"id":     "bigint",
		"price":  "decimal(10,2)",
		"active": "boolean",
		"note":   "varchar(64)",
	}
	normalized, err := NormalizeRow(row, schema)
	if err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if v, ok := normalized["id"].(int64); !ok || v != 7 {
		t.Fatalf("expected id int64 7, got %#v", normalized["id"])
	}
	if v, ok := normalized["price"].(float64); !ok || v != 19.99 {
		t.Fatalf("expected price 19.99, got %#v", normalized["price"])
	}
	if v, ok := normalized["active"].(bool); !ok || !v {
		t.Fatalf("expected active true, got %#v", normalized["active"])
	}
	if v, ok := normalized["note"].(string); !ok || v != "12" {
		t.Fatalf("expected note string, got %#v", normalized["note"])
	}
}

func TestTableEqual(t *testing.T) {
	a := FromOrderedRows([]string{"x"}, []Row{{"x": int64(1)}})
	b := FromOrderedRows([]string{"x"}, []Row{{"x": int64(1)}})
	if !a.Equal(b) {
		t.Fatalf("expected equal tables")
	}
	c := FromOrderedRows([]string{"x"}, []Row{{"x": int64(2)}})
	if a.Equal(c) {
		t.Fatalf("expected different rows to differ")
	}
}

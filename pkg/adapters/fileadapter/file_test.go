package fileadapter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oarkflow/pipeline/pkg/contracts"
	"github.com/oarkflow/pipeline/pkg/tabular"
)

func newTestAdapter(t *testing.T) (*Adapter, string) {
	t.Helper()
	dir := t.TempDir()
	a, err := New(Config{BaseDir: dir})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return a, dir
}

func sampleTable() *tabular.Table {
	return tabular.FromOrderedRows([]string{"id", "name"}, []tabular.Row{
		{"id": int64(1), "name": "alice"},
		{"id": int64(2), "name": "bob"},
	})
}

func TestWriteAndLoadCSV(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()
	if err := a.Write(ctx, sampleTable(), "users.csv", contracts.WriteOverwrite); err != nil {
		t.Fatalf("write: %v", err)
	}
	table, err := a.Load(ctx, "users.csv")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", table.Len())
	}
	if table.Rows[0]["name"] != "alice" {
		t.Errorf("unexpected first row: %v", table.Rows[0])
	}
}

func TestLoadProjectionAndLimit(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()
	if err := a.Write(ctx, sampleTable(), "users.csv", contracts.WriteOverwrite); err != nil {
		t.Fatalf("write: %v", err)
	}
	table, err := a.Load(ctx, "users.csv", contracts.WithColumns([]string{"name"}...), contracts.WithLimit(1))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table.Len() != 1 {
		t.Fatalf("limit ignored: %d rows", table.Len())
	}
	if len(table.Columns()) != 1 || table.Columns()[0] != "name" {
		t.Fatalf("projection ignored: %v", table.Columns())
	}
}

func TestAppendCSVKeepsSingleHeader(t *testing.T) {
	a, dir := newTestAdapter(t)
	ctx := context.Background()
	if err := a.Write(ctx, sampleTable(), "users.csv", contracts.WriteOverwrite); err != nil {
		t.Fatalf("write: %v", err)
	}
	more := tabular.FromOrderedRows([]string{"id", "name"}, []tabular.Row{
		{"id": int64(3), "name": "carol"},
	})
	if err := a.Write(ctx, more, "users.csv", contracts.WriteAppend); err != nil {
		t.Fatalf("append: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "users.csv"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if got := strings.Count(string(raw), "id,name"); got != 1 {
		t.Fatalf("expected single header, found %d", got)
	}
	table, err := a.Load(ctx, "users.csv")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table.Len() != 3 {
		t.Fatalf("expected 3 rows after append, got %d", table.Len())
	}
}

func TestAppendNDJSON(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()
	if err := a.Write(ctx, sampleTable(), "events.ndjson", contracts.WriteAppend); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := a.Write(ctx, sampleTable(), "events.ndjson", contracts.WriteAppend); err != nil {
		t.Fatalf("second append: %v", err)
	}
	table, err := a.Load(ctx, "events.ndjson")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table.Len() != 4 {
		t.Fatalf("expected 4 rows, got %d", table.Len())
	}
}

func TestRejectsPathEscape(t *testing.T) {
	a, _ := newTestAdapter(t)
	if _, err := a.Load(context.Background(), "../outside.csv"); err == nil {
		t.Fatal("expected error for path escaping base dir")
	}
}

func TestRejectsUnknownExtension(t *testing.T) {
	a, _ := newTestAdapter(t)
	if err := a.Write(context.Background(), sampleTable(), "users.parquet", contracts.WriteOverwrite); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestTestReportsMissingFile(t *testing.T) {
	a, _ := newTestAdapter(t)
	ctx := context.Background()
	if ok, _ := a.Test(ctx, ""); !ok {
		t.Fatal("base dir should be reachable")
	}
	if ok, msg := a.Test(ctx, "missing.csv"); ok {
		t.Fatalf("missing file reported reachable: %s", msg)
	}
}

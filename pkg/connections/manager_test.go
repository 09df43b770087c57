package connections

import (
	"context"
	"testing"

	"github.com/oarkflow/pipeline/pkg/adapters/fileadapter"
	"github.com/oarkflow/pipeline/pkg/contracts"
	"github.com/oarkflow/pipeline/pkg/tabular"
)

func newFileBackedManager(t *testing.T) (*Manager, string, string) {
	t.Helper()
	m := New()
	svc, err := m.AddService(LinkedService{
		Name:   "local-files",
		Kind:   contracts.KindFile,
		Config: fileadapter.Config{BaseDir: t.TempDir()},
	})
	if err != nil {
		t.Fatalf("add service: %v", err)
	}
	ds, err := m.AddDataSource(DataSource{
		Name:            "users",
		LinkedServiceID: svc.ID,
		TableOrPath:     "users.csv",
	})
	if err != nil {
		t.Fatalf("add datasource: %v", err)
	}
	return m, svc.ID, ds.ID
}

func TestManagerWriteAndLoadRoundTrip(t *testing.T) {
	m, _, dsID := newFileBackedManager(t)
	defer m.CloseAll()
	ctx := context.Background()

	table := tabular.FromOrderedRows([]string{"id", "name"}, []tabular.Row{
		{"id": int64(1), "name": "alice"},
		{"id": int64(2), "name": "bob"},
	})
	if err := m.WriteTable(ctx, dsID, table, contracts.WriteOverwrite); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := m.LoadTable(ctx, dsID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", loaded.Len())
	}
}

func TestManagerGetSchema(t *testing.T) {
	m, _, dsID := newFileBackedManager(t)
	defer m.CloseAll()
	ctx := context.Background()

	table := tabular.FromOrderedRows([]string{"id", "name"}, []tabular.Row{
		{"id": int64(1), "name": "alice"},
	})
	if err := m.WriteTable(ctx, dsID, table, contracts.WriteOverwrite); err != nil {
		t.Fatalf("write: %v", err)
	}
	fields, err := m.GetSchema(ctx, dsID)
	if err != nil {
		t.Fatalf("get schema: %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %v", fields)
	}
	names := map[string]bool{}
	for _, f := range fields {
		names[f.Name] = true
	}
	if !names["id"] || !names["name"] {
		t.Errorf("unexpected field names: %v", fields)
	}
}

func TestManagerTestServiceNeverErrors(t *testing.T) {
	m := New()
	ctx := context.Background()

	ok, _ := m.TestService(ctx, LinkedService{
		Name:   "good",
		Kind:   contracts.KindFile,
		Config: fileadapter.Config{BaseDir: t.TempDir()},
	}, "")
	if !ok {
		t.Fatal("reachable service reported unreachable")
	}

	ok, msg := m.TestService(ctx, LinkedService{
		Name:   "bad",
		Kind:   contracts.KindFile,
		Config: fileadapter.Config{BaseDir: "/nonexistent/path/for/sure"},
	}, "")
	if ok {
		t.Fatal("unreachable service reported ok")
	}
	if msg == "" {
		t.Fatal("failure should carry a reason")
	}

	ok, msg = m.TestService(ctx, LinkedService{Name: "none", Kind: contracts.KindMySQL}, "")
	if ok || msg == "" {
		t.Fatalf("missing config should fail with a reason, got ok=%v msg=%q", ok, msg)
	}
}

func TestManagerDeleteServiceCascades(t *testing.T) {
	m, svcID, dsID := newFileBackedManager(t)
	if err := m.DeleteService(svcID); err != nil {
		t.Fatalf("delete service: %v", err)
	}
	if _, err := m.GetDataSource(dsID); err == nil {
		t.Fatal("datasource should be deleted with its service")
	}
}

func TestManagerRejectsDataSourceForMissingService(t *testing.T) {
	m := New()
	_, err := m.AddDataSource(DataSource{
		Name:            "orphan",
		LinkedServiceID: "missing",
		TableOrPath:     "t",
	})
	if err == nil {
		t.Fatal("expected error for missing service")
	}
}

func TestManagerUpdateServicePreservesCreatedAt(t *testing.T) {
	m, svcID, _ := newFileBackedManager(t)
	svc, err := m.GetService(svcID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	created := svc.CreatedAt
	svc.Name = "renamed"
	updated, err := m.UpdateService(svc)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.CreatedAt.Equal(created) {
		t.Errorf("created_at changed on update")
	}
	if updated.Name != "renamed" {
		t.Errorf("name not updated")
	}
}

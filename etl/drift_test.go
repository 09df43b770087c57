package etl

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func ordersSchema() map[string]map[string]string {
	return map[string]map[string]string{
		"orders": {"id": "int", "customer": "string", "amount": "float"},
	}
}

func staleOrdersSchema() map[string]map[string]string {
	return map[string]map[string]string{
		"orders": {"id": "int", "customer": "string"},
	}
}

func TestDriftGuardMatchingSchemasSkipRepair(t *testing.T) {
	dp := newFakeDataPlane()
	dp.tables["orders_ds"] = ordersFixture()
	gen := &fakeGenerator{repairCode: "should never run"}
	m := NewManager(WithDataPlane(dp), WithGenerator(gen))
	if _, err := m.AddPipeline(threeNodePipeline(passthroughCode, ordersSchema())); err != nil {
		t.Fatalf("AddPipeline: %v", err)
	}

	if _, err := m.RunPipeline(context.Background(), "p-main"); err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}
	if gen.repairCalls != 0 {
		t.Fatalf("repair called %d times on matching schemas", gen.repairCalls)
	}
	events, _ := m.ListHealEvents("p-main")
	if len(events) != 0 {
		t.Fatalf("heal events = %d, want 0", len(events))
	}
}

func TestDriftRepairsAndPersists(t *testing.T) {
	dp := newFakeDataPlane()
	dp.tables["orders_ds"] = ordersFixture()
	gen := &fakeGenerator{
		repairCode: `let transform = fn(engine, inputs) { return select(inputs["orders"], "id") }`,
	}
	m := NewManager(WithDataPlane(dp), WithGenerator(gen))
	if _, err := m.AddPipeline(threeNodePipeline(filterCode, staleOrdersSchema())); err != nil {
		t.Fatalf("AddPipeline: %v", err)
	}

	res, err := m.RunPipeline(context.Background(), "p-main")
	if err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}
	if gen.repairCalls != 1 {
		t.Fatalf("repair calls = %d, want 1", gen.repairCalls)
	}
	if !reflect.DeepEqual(gen.lastOld, staleOrdersSchema()) {
		t.Errorf("repair old schemas = %v", gen.lastOld)
	}
	if !reflect.DeepEqual(gen.lastNew, ordersSchema()) {
		t.Errorf("repair new schemas = %v", gen.lastNew)
	}

	// Repaired code ran this very execution.
	if len(dp.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(dp.writes))
	}
	if cols := dp.writes[0].table.Columns(); len(cols) != 1 || cols[0] != "id" {
		t.Fatalf("sink columns = %v, want the repaired projection [id]", cols)
	}

	stored, err := m.GetPipeline("p-main")
	if err != nil {
		t.Fatalf("GetPipeline: %v", err)
	}
	var tx TransformData
	found := false
	for _, n := range stored.Nodes {
		if n.ID == "tx" {
			tx, found = n.Data.(TransformData), true
		}
	}
	if !found {
		t.Fatal("transform node missing from stored pipeline")
	}
	if tx.GeneratedCode != gen.repairCode {
		t.Errorf("stored code not healed:\n%s", tx.GeneratedCode)
	}
	if !reflect.DeepEqual(tx.SourceSchema, ordersSchema()) {
		t.Errorf("stored schema not refreshed: %v", tx.SourceSchema)
	}

	events, _ := m.ListHealEvents("p-main")
	if len(events) != 1 {
		t.Fatalf("heal events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.NodeID != "tx" || ev.ExecutionID != res.ExecutionID || !ev.Persisted {
		t.Errorf("heal event = %+v", ev)
	}
	if ev.OldCode != filterCode || ev.NewCode != gen.repairCode {
		t.Errorf("heal event code mismatch: old=%q new=%q", ev.OldCode, ev.NewCode)
	}

	exec, _ := m.GetExecution(res.ExecutionID)
	joined := strings.Join(exec.Logs, "\n")
	if !strings.Contains(joined, "transform.healed node=tx persisted=true pipeline=p-main") {
		t.Errorf("logs missing heal event:\n%s", joined)
	}
}

func TestDriftRepairFailureFallsBack(t *testing.T) {
	dp := newFakeDataPlane()
	dp.tables["orders_ds"] = ordersFixture()
	gen := &fakeGenerator{repairErr: errors.New("model unavailable")}
	m := NewManager(WithDataPlane(dp), WithGenerator(gen))
	if _, err := m.AddPipeline(threeNodePipeline(passthroughCode, staleOrdersSchema())); err != nil {
		t.Fatalf("AddPipeline: %v", err)
	}

	if _, err := m.RunPipeline(context.Background(), "p-main"); err != nil {
		t.Fatalf("repair failure must not fail the run: %v", err)
	}
	if gen.repairCalls != 1 {
		t.Fatalf("repair calls = %d, want 1", gen.repairCalls)
	}
	if len(dp.writes) != 1 || !dp.writes[0].table.Equal(ordersFixture()) {
		t.Fatal("original code should have run unchanged")
	}

	stored, _ := m.GetPipeline("p-main")
	for _, n := range stored.Nodes {
		if n.ID == "tx" {
			if n.Data.(TransformData).GeneratedCode != passthroughCode {
				t.Error("stored code changed despite failed repair")
			}
		}
	}
	events, _ := m.ListHealEvents("p-main")
	if len(events) != 0 {
		t.Fatalf("heal events = %d, want 0 after failed repair", len(events))
	}
}

type updateFailStore struct {
	PipelineStore
}

func (s *updateFailStore) UpdatePipeline(Pipeline) error {
	return errors.New("disk full")
}

func TestDriftPersistFailureIsNonFatal(t *testing.T) {
	dp := newFakeDataPlane()
	dp.tables["orders_ds"] = ordersFixture()
	gen := &fakeGenerator{repairCode: passthroughCode}
	store := &updateFailStore{PipelineStore: NewInMemoryPipelineStore()}
	m := NewManager(WithDataPlane(dp), WithGenerator(gen), WithPipelineStore(store))
	if _, err := m.AddPipeline(threeNodePipeline(filterCode, staleOrdersSchema())); err != nil {
		t.Fatalf("AddPipeline: %v", err)
	}

	if _, err := m.RunPipeline(context.Background(), "p-main"); err != nil {
		t.Fatalf("persist failure must not fail the run: %v", err)
	}
	if len(dp.writes) != 1 || dp.writes[0].table.Len() != 3 {
		t.Fatal("repaired passthrough should still have executed from memory")
	}
	events, _ := m.ListHealEvents("p-main")
	if len(events) != 1 {
		t.Fatalf("heal events = %d, want 1", len(events))
	}
	if events[0].Persisted {
		t.Error("heal event must record the failed persistence")
	}
}

func TestDriftGuardExemptWithoutRecordedSchema(t *testing.T) {
	dp := newFakeDataPlane()
	dp.tables["orders_ds"] = ordersFixture()
	gen := &fakeGenerator{repairCode: "should never run"}
	m := NewManager(WithDataPlane(dp), WithGenerator(gen))
	if _, err := m.AddPipeline(threeNodePipeline(passthroughCode, nil)); err != nil {
		t.Fatalf("AddPipeline: %v", err)
	}

	if _, err := m.RunPipeline(context.Background(), "p-main"); err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}
	if gen.repairCalls != 0 {
		t.Fatalf("repair calls = %d, want 0 without a baseline", gen.repairCalls)
	}
}

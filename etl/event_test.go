package etl

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEventBusFansOut(t *testing.T) {
	bus := NewEventBus()
	var wg sync.WaitGroup
	wg.Add(3)

	var mu sync.Mutex
	seen := make(map[string]int)
	record := func(e Event) {
		mu.Lock()
		seen[e.Name]++
		mu.Unlock()
		wg.Done()
	}
	bus.Subscribe(EventRunStarted, record)
	bus.Subscribe(EventRunStarted, record)
	bus.Subscribe(EventRunFinished, record)

	bus.Publish(EventRunStarted, map[string]any{"pipeline": "p1"})
	bus.Publish(EventRunFinished, map[string]any{"pipeline": "p1"})
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if seen[EventRunStarted] != 2 || seen[EventRunFinished] != 1 {
		t.Fatalf("dispatch counts = %v", seen)
	}
}

func TestEventBusWildcard(t *testing.T) {
	bus := NewEventBus()
	var wg sync.WaitGroup
	wg.Add(2)

	var mu sync.Mutex
	var names []string
	bus.Subscribe(EventAny, func(e Event) {
		mu.Lock()
		names = append(names, e.Name)
		mu.Unlock()
		wg.Done()
	})

	bus.Publish(EventNodeStarted, map[string]any{"node": "a"})
	bus.Publish(EventNodeFailed, map[string]any{"node": "a"})
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(names) != 2 {
		t.Fatalf("wildcard saw %v", names)
	}
}

func TestRunContextOrdersLogs(t *testing.T) {
	rc := newRunContext("exec-1", "p1", nil)
	rc.publish(EventRunStarted, map[string]any{"pipeline": "p1"})
	rc.publish(EventNodeStarted, map[string]any{"node": "src", "pipeline": "p1", "type": "source"})
	rc.publish(EventRunFinished, map[string]any{"pipeline": "p1", "status": "completed"})

	logs := rc.logs()
	want := []string{
		"run.started pipeline=p1",
		"node.started node=src pipeline=p1 type=source",
		"run.finished pipeline=p1 status=completed",
	}
	if len(logs) != len(want) {
		t.Fatalf("logs = %v", logs)
	}
	for i := range want {
		if logs[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q", i, logs[i], want[i])
		}
	}
}

func TestRunContextTracksActivePipelines(t *testing.T) {
	rc := newRunContext("exec-1", "top", nil)
	if rc.enter("top") {
		t.Error("the root pipeline is active from the start")
	}
	if !rc.enter("child") {
		t.Error("first entry must succeed")
	}
	if rc.enter("child") {
		t.Error("re-entry while active must fail")
	}
	rc.leave("child")
	if !rc.enter("child") {
		t.Error("entry after leave must succeed")
	}
}

func TestRunEventsReachBusSubscribers(t *testing.T) {
	dp := newFakeDataPlane()
	dp.tables["orders_ds"] = ordersFixture()
	m := NewManager(WithDataPlane(dp))
	if _, err := m.AddPipeline(threeNodePipeline(passthroughCode, nil)); err != nil {
		t.Fatalf("AddPipeline: %v", err)
	}

	done := make(chan Event, 1)
	m.Bus().Subscribe(EventRunFinished, func(e Event) {
		select {
		case done <- e:
		default:
		}
	})

	res, err := m.RunPipeline(context.Background(), "p-main")
	if err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}

	select {
	case e := <-done:
		if e.Payload["status"] != "completed" {
			t.Errorf("payload = %v", e.Payload)
		}
		if e.Payload["executionId"] != res.ExecutionID {
			t.Errorf("executionId = %v, want %s", e.Payload["executionId"], res.ExecutionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run.finished never reached the subscriber")
	}
}

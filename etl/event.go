package etl

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Event names published during a run. Subscribing to EventAny receives
// every event.
const (
	EventAny          = "*"
	EventRunStarted   = "run.started"
	EventRunFinished  = "run.finished"
	EventNodeStarted  = "node.started"
	EventNodeFinished = "node.finished"
	EventNodeFailed   = "node.failed"
	EventDriftHealed  = "transform.healed"
)

type Event struct {
	Name    string
	Payload map[string]any
}

type EventHandler func(Event)

// EventBus fans run events out to subscribers. Handlers run on their own
// goroutines; ordered capture for Execution.logs happens in the run
// recorder, not here.
type EventBus struct {
	handlers map[string][]EventHandler
	mu       sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[string][]EventHandler),
	}
}

func (eb *EventBus) Subscribe(eventName string, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventName] = append(eb.handlers[eventName], handler)
}

func (eb *EventBus) Publish(eventName string, payload map[string]any) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, h := range eb.handlers[eventName] {
		go h(Event{Name: eventName, Payload: payload})
	}
	if eventName == EventAny {
		return
	}
	for _, h := range eb.handlers[EventAny] {
		go h(Event{Name: eventName, Payload: payload})
	}
}

// runContext carries one execution's identity and folds every published
// event into the ordered log that lands on the Execution row.
type runContext struct {
	executionID string
	pipelineID  string
	bus         *EventBus
	visited     map[string]bool

	mu    sync.Mutex
	lines []string
}

func newRunContext(executionID, pipelineID string, bus *EventBus) *runContext {
	return &runContext{
		executionID: executionID,
		pipelineID:  pipelineID,
		bus:         bus,
		visited:     map[string]bool{pipelineID: true},
	}
}

func (rc *runContext) publish(name string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["executionId"] = rc.executionID

	rc.mu.Lock()
	rc.lines = append(rc.lines, formatEvent(name, payload))
	rc.mu.Unlock()

	if rc.bus != nil {
		rc.bus.Publish(name, payload)
	}
}

func (rc *runContext) logs() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]string, len(rc.lines))
	copy(out, rc.lines)
	return out
}

// enter marks a pipeline id as active in this run. It reports false when
// the id is already active, which means sub-pipeline references loop.
func (rc *runContext) enter(pipelineID string) bool {
	if rc.visited[pipelineID] {
		return false
	}
	rc.visited[pipelineID] = true
	return true
}

func (rc *runContext) leave(pipelineID string) {
	delete(rc.visited, pipelineID)
}

func formatEvent(name string, payload map[string]any) string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k == "executionId" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(name)
	for _, k := range keys {
		fmt.Fprintf(&sb, " %s=%v", k, payload[k])
	}
	return sb.String()
}

package etl

import (
	"github.com/oarkflow/log"

	"github.com/oarkflow/pipeline/pkg/connections"
	"github.com/oarkflow/pipeline/pkg/synthesis"
)

type Option func(*Manager)

// WithConnections wires the connection manager in as both the executor's
// data plane and the backing for connection tests.
func WithConnections(cm *connections.Manager) Option {
	return func(m *Manager) {
		m.data = cm
		m.conns = cm
	}
}

// WithDataPlane overrides just the load/write/schema surface. Connection
// testing stays on the manager set via WithConnections, if any.
func WithDataPlane(dp DataPlane) Option {
	return func(m *Manager) {
		m.data = dp
	}
}

func WithGenerator(g synthesis.Generator) Option {
	return func(m *Manager) {
		m.generator = g
	}
}

func WithPipelineStore(store PipelineStore) Option {
	return func(m *Manager) {
		m.pipelines = store
	}
}

func WithExecutionStore(store ExecutionStore) Option {
	return func(m *Manager) {
		m.executions = store
	}
}

func WithHealEventStore(store HealEventStore) Option {
	return func(m *Manager) {
		m.heals = store
	}
}

func WithEventBus(eb *EventBus) Option {
	return func(m *Manager) {
		m.bus = eb
	}
}

func WithNotifier(n *Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

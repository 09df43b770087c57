package connections

import (
	"sync"

	"github.com/oarkflow/pipeline/pkg/contracts"
)

// Engine is the compute session every run in the process shares. Connector
// construction from decrypted credentials happens inside Stage; the lock
// spans exactly one build, so partially staged credentials are never
// visible to a concurrent call.
type Engine struct {
	stage sync.Mutex
}

var (
	engineOnce   sync.Once
	sharedEngine *Engine
)

// SharedEngine returns the process-wide session, constructing it on first
// use.
func SharedEngine() *Engine {
	engineOnce.Do(func() {
		sharedEngine = &Engine{}
	})
	return sharedEngine
}

// Stage runs build under the credential-staging lock and hands back its
// result.
func (e *Engine) Stage(build func() (contracts.Connector, error)) (contracts.Connector, error) {
	e.stage.Lock()
	defer e.stage.Unlock()
	return build()
}

package etl

import "errors"

// Structural errors are raised during graph construction, before any
// connector I/O.
var (
	ErrEmptyPipeline    = errors.New("pipeline has no nodes")
	ErrCyclicPipeline   = errors.New("pipeline contains a cycle")
	ErrNoInjectionPoint = errors.New("child pipeline has no source node to inject into")
	ErrMissingInput     = errors.New("node has no input table")
)

// Package sandbox runs transform scripts against in-memory tables. Scripts
// are written in a small interpreted language and get no capabilities beyond
// the tabular builtins: no network, no filesystem, no environment access.
//
// A script must define a function named transform taking the engine handle
// and the hash of input tables, and return a table:
//
//	let transform = fn(engine, inputs) {
//	    let orders = inputs["orders"]
//	    return filter(orders, "amount > 100")
//	}
package sandbox

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oarkflow/pipeline/pkg/tabular"
)

var (
	// ErrMissingTransformFunction means the script never bound a callable
	// named transform at the top level.
	ErrMissingTransformFunction = errors.New("transform function not defined")

	// ErrTransformExecution wraps any runtime failure raised while the
	// script or its transform function ran.
	ErrTransformExecution = errors.New("transform execution failed")
)

// Engine is the opaque capability handle scripts receive as the first
// argument to transform. Its only method is table(rows), which builds a
// table from an array of row hashes.
type Engine struct{}

func (e *Engine) Type() ObjectType { return ENGINE_OBJ }
func (e *Engine) Inspect() string  { return "engine" }

// Run parses code, evaluates it in a fresh environment holding only the
// builtins, then invokes its transform function with engine and the named
// input tables. The returned table is the transform's result.
func Run(code string, engine *Engine, inputs map[string]*tabular.Table) (out *tabular.Table, err error) {
	if engine == nil {
		engine = &Engine{}
	}

	// A script bug must not take the worker down with it.
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: panic: %v", ErrTransformExecution, r)
		}
	}()

	l := NewLexer(code)
	p := NewParser(l)
	program := p.ParseProgram()
	if errs := p.Errors(); len(errs) != 0 {
		return nil, fmt.Errorf("transform code has %d parse error(s): %s", len(errs), strings.Join(errs, "; "))
	}

	env := NewEnvironment()
	result := Eval(program, env)
	if isError(result) {
		return nil, fmt.Errorf("%w: %s", ErrTransformExecution, result.(*Error).Message)
	}

	fnObj, ok := env.Get("transform")
	if !ok {
		return nil, ErrMissingTransformFunction
	}
	fn, ok := fnObj.(*Function)
	if !ok {
		return nil, fmt.Errorf("%w: transform is %s, not a function", ErrMissingTransformFunction, fnObj.Type())
	}

	pairs := make(map[HashKey]HashPair, len(inputs))
	for name, table := range inputs {
		key := &String{Value: name}
		pairs[key.HashKey()] = HashPair{Key: key, Value: &Table{Value: table}}
	}

	value := applyFunction(fn, []Object{engine, &Hash{Pairs: pairs}}, 0)
	if isError(value) {
		return nil, fmt.Errorf("%w: %s", ErrTransformExecution, value.(*Error).Message)
	}

	switch value := value.(type) {
	case *Table:
		return value.Value, nil
	case *Array:
		// Scripts returning a bare array of row hashes are accepted; the
		// rows become a table with an inferred schema.
		rows := make([]tabular.Row, 0, len(value.Elements))
		for i, el := range value.Elements {
			hash, ok := el.(*Hash)
			if !ok {
				return nil, fmt.Errorf("%w: transform returned an array whose element %d is %s, not a row", ErrTransformExecution, i, el.Type())
			}
			row, _ := fromObject(hash).(map[string]any)
			rows = append(rows, row)
		}
		return tabular.FromRows(rows), nil
	default:
		return nil, fmt.Errorf("%w: transform returned %s, want a table", ErrTransformExecution, value.Type())
	}
}

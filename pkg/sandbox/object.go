package sandbox

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oarkflow/pipeline/pkg/tabular"
)

type ObjectType int

const (
	INTEGER_OBJ ObjectType = iota
	FLOAT_OBJ
	BOOLEAN_OBJ
	STRING_OBJ
	NULL_OBJ
	RETURN_VALUE_OBJ
	ERROR_OBJ
	FUNCTION_OBJ
	BUILTIN_OBJ
	ARRAY_OBJ
	HASH_OBJ
	TABLE_OBJ
	ENGINE_OBJ
)

func (ot ObjectType) String() string {
	switch ot {
	case INTEGER_OBJ:
		return "INTEGER"
	case FLOAT_OBJ:
		return "FLOAT"
	case BOOLEAN_OBJ:
		return "BOOLEAN"
	case STRING_OBJ:
		return "STRING"
	case NULL_OBJ:
		return "NULL"
	case RETURN_VALUE_OBJ:
		return "RETURN_VALUE"
	case ERROR_OBJ:
		return "ERROR"
	case FUNCTION_OBJ:
		return "FUNCTION"
	case BUILTIN_OBJ:
		return "BUILTIN"
	case ARRAY_OBJ:
		return "ARRAY"
	case HASH_OBJ:
		return "HASH"
	case TABLE_OBJ:
		return "TABLE"
	case ENGINE_OBJ:
		return "ENGINE"
	default:
		return "UNKNOWN"
	}
}

type Object interface {
	Type() ObjectType
	Inspect() string
}

type Integer struct {
	Value int64
}

func (i *Integer) Type() ObjectType { return INTEGER_OBJ }
func (i *Integer) Inspect() string  { return fmt.Sprintf("%d", i.Value) }

type Float struct {
	Value float64
}

func (f *Float) Type() ObjectType { return FLOAT_OBJ }
func (f *Float) Inspect() string  { return fmt.Sprintf("%g", f.Value) }

type Boolean struct {
	Value bool
}

func (b *Boolean) Type() ObjectType { return BOOLEAN_OBJ }
func (b *Boolean) Inspect() string  { return fmt.Sprintf("%t", b.Value) }

type String struct {
	Value string
}

func (s *String) Type() ObjectType { return STRING_OBJ }
func (s *String) Inspect() string  { return s.Value }

type Null struct{}

func (n *Null) Type() ObjectType { return NULL_OBJ }
func (n *Null) Inspect() string  { return "null" }

type ReturnValue struct {
	Value Object
}

func (rv *ReturnValue) Type() ObjectType { return RETURN_VALUE_OBJ }
func (rv *ReturnValue) Inspect() string  { return rv.Value.Inspect() }

type Error struct {
	Message string
}

func (e *Error) Type() ObjectType { return ERROR_OBJ }
func (e *Error) Inspect() string  { return "ERROR: " + e.Message }

func newError(format string, a ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, a...)}
}

type Function struct {
	Parameters []*Identifier
	Body       *BlockStatement
	Env        *Environment
}

func (f *Function) Type() ObjectType { return FUNCTION_OBJ }
func (f *Function) Inspect() string {
	var out strings.Builder
	out.WriteString("fn(")
	for i, p := range f.Parameters {
		if i > 0 {
			out.WriteString(", ")
		}
		out.WriteString(p.Name)
	}
	out.WriteString(") {\n")
	out.WriteString(f.Body.String())
	out.WriteString("\n}")
	return out.String()
}

type BuiltinFunction func(args ...Object) Object

type Builtin struct {
	Fn BuiltinFunction
}

func (b *Builtin) Type() ObjectType { return BUILTIN_OBJ }
func (b *Builtin) Inspect() string  { return "builtin function" }

type Array struct {
	Elements []Object
}

func (ao *Array) Type() ObjectType { return ARRAY_OBJ }
func (ao *Array) Inspect() string {
	var out strings.Builder
	out.WriteString("[")
	for i, e := range ao.Elements {
		if i > 0 {
			out.WriteString(", ")
		}
		out.WriteString(e.Inspect())
	}
	out.WriteString("]")
	return out.String()
}

type HashKey struct {
	Type  ObjectType
	Value uint64
}

type Hashable interface {
	HashKey() HashKey
}

func (b *Boolean) HashKey() HashKey {
	var value uint64
	if b.Value {
		value = 1
	}
	return HashKey{Type: b.Type(), Value: value}
}

func (i *Integer) HashKey() HashKey {
	return HashKey{Type: i.Type(), Value: uint64(i.Value)}
}

func (s *String) HashKey() HashKey {
	h := uint64(0)
	for _, ch := range s.Value {
		h = 31*h + uint64(ch)
	}
	return HashKey{Type: s.Type(), Value: h}
}

type HashPair struct {
	Key   Object
	Value Object
}

type Hash struct {
	Pairs map[HashKey]HashPair
}

func (h *Hash) Type() ObjectType { return HASH_OBJ }
func (h *Hash) Inspect() string {
	pairs := make([]string, 0, len(h.Pairs))
	for _, pair := range h.Pairs {
		pairs = append(pairs, fmt.Sprintf("%s: %s", pair.Key.Inspect(), pair.Value.Inspect()))
	}
	sort.Strings(pairs)
	return "{" + strings.Join(pairs, ", ") + "}"
}

// Table wraps a tabular dataset for script use. Builtins operate on it by
// value; none of them mutate the underlying rows.
type Table struct {
	Value *tabular.Table
}

func (t *Table) Type() ObjectType { return TABLE_OBJ }
func (t *Table) Inspect() string {
	return fmt.Sprintf("table(%d columns, %d rows)", len(t.Value.Fields), len(t.Value.Rows))
}

// Environment holds variable bindings. depth counts dynamic call nesting,
// not lexical nesting; applyFunction maintains it.
type Environment struct {
	store map[string]Object
	outer *Environment
	depth int
}

func NewEnvironment() *Environment {
	return &Environment{store: make(map[string]Object)}
}

func NewEnclosedEnvironment(outer *Environment) *Environment {
	env := NewEnvironment()
	env.outer = outer
	return env
}

func (e *Environment) Get(name string) (Object, bool) {
	obj, ok := e.store[name]
	if !ok && e.outer != nil {
		obj, ok = e.outer.Get(name)
	}
	return obj, ok
}

func (e *Environment) Set(name string, val Object) Object {
	e.store[name] = val
	return val
}

func (e *Environment) Assign(name string, val Object) (Object, bool) {
	if _, ok := e.store[name]; ok {
		e.store[name] = val
		return val, true
	}
	if e.outer != nil {
		return e.outer.Assign(name, val)
	}
	return nil, false
}

var (
	TRUE  = &Boolean{Value: true}
	FALSE = &Boolean{Value: false}
	NULL  = &Null{}
)

func nativeBoolToBooleanObject(input bool) *Boolean {
	if input {
		return TRUE
	}
	return FALSE
}

// toObject converts a Go value from a table cell (or decoded JSON) into a
// script object. Times are rendered as RFC 3339 strings so scripts can
// compare and concatenate them.
func toObject(val any) Object {
	switch v := val.(type) {
	case nil:
		return NULL
	case bool:
		return nativeBoolToBooleanObject(v)
	case int:
		return &Integer{Value: int64(v)}
	case int32:
		return &Integer{Value: int64(v)}
	case int64:
		return &Integer{Value: v}
	case uint64:
		return &Integer{Value: int64(v)}
	case float32:
		return &Float{Value: float64(v)}
	case float64:
		return &Float{Value: v}
	case string:
		return &String{Value: v}
	case []byte:
		return &String{Value: string(v)}
	case time.Time:
		return &String{Value: v.Format(time.RFC3339)}
	case []any:
		elements := make([]Object, len(v))
		for i, el := range v {
			elements[i] = toObject(el)
		}
		return &Array{Elements: elements}
	case map[string]any:
		return hashFromMap(v)
	case *tabular.Table:
		return &Table{Value: v}
	default:
		return &String{Value: fmt.Sprintf("%v", v)}
	}
}

func hashFromMap(m map[string]any) *Hash {
	pairs := make(map[HashKey]HashPair, len(m))
	for k, v := range m {
		key := &String{Value: k}
		pairs[key.HashKey()] = HashPair{Key: key, Value: toObject(v)}
	}
	return &Hash{Pairs: pairs}
}

// fromObject is the inverse of toObject; compound objects convert
// recursively. Non-string hash keys fall back to their Inspect form.
func fromObject(obj Object) any {
	switch obj := obj.(type) {
	case *Integer:
		return obj.Value
	case *Float:
		return obj.Value
	case *Boolean:
		return obj.Value
	case *String:
		return obj.Value
	case *Null:
		return nil
	case *Array:
		out := make([]any, len(obj.Elements))
		for i, el := range obj.Elements {
			out[i] = fromObject(el)
		}
		return out
	case *Hash:
		out := make(map[string]any, len(obj.Pairs))
		for _, pair := range obj.Pairs {
			if s, ok := pair.Key.(*String); ok {
				out[s.Value] = fromObject(pair.Value)
				continue
			}
			out[pair.Key.Inspect()] = fromObject(pair.Value)
		}
		return out
	case *Table:
		return obj.Value
	default:
		return obj.Inspect()
	}
}

package tabular

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oarkflow/date"
)

// Row is a single record keyed by column name.
type Row = map[string]any

// Field describes one column of a Table.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Table is a bounded, fully materialized tabular dataset. Fields carry the
// column order; every Row is keyed by field name.
type Table struct {
	Fields []Field
	Rows   []Row
}

// New builds a table from an explicit field list and rows.
func New(fields []Field, rows []Row) *Table {
	return &Table{Fields: fields, Rows: rows}
}

// FromRows builds a table by inferring fields from the rows themselves.
// Column order is the sorted union of keys; a field is nullable when any row
// misses it or holds nil.
func FromRows(rows []Row) *Table {
	names := make([]string, 0)
	seen := make(map[string]bool)
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return FromOrderedRows(names, rows)
}

// FromOrderedRows builds a table keeping the caller's column order. Types are
// inferred from the first non-nil value per column.
func FromOrderedRows(columns []string, rows []Row) *Table {
	fields := make([]Field, 0, len(columns))
	for _, name := range columns {
		field := Field{Name: name, Type: "unknown"}
		for _, row := range rows {
			v, ok := row[name]
			if !ok || v == nil {
				field.Nullable = true
				continue
			}
			if field.Type == "unknown" {
				field.Type = TypeName(v)
			}
		}
		fields = append(fields, field)
	}
	return &Table{Fields: fields, Rows: rows}
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = f.Name
	}
	return cols
}

// Schema returns the column name to type mapping.
func (t *Table) Schema() map[string]string {
	schema := make(map[string]string, len(t.Fields))
	for _, f := range t.Fields {
		schema[f.Name] = f.Type
	}
	return schema
}

func (t *Table) Len() int {
	return len(t.Rows)
}

// Field looks a column up by name.
func (t *Table) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Project returns a table reduced to the given columns, preserving the
// requested order. Unknown columns are an error.
func (t *Table) Project(columns []string) (*Table, error) {
	fields := make([]Field, 0, len(columns))
	for _, name := range columns {
		f, ok := t.Field(name)
		if !ok {
			return nil, fmt.Errorf("column %q not found", name)
		}
		fields = append(fields, f)
	}
	rows := make([]Row, len(t.Rows))
	for i, row := range t.Rows {
		out := make(Row, len(columns))
		for _, name := range columns {
			out[name] = row[name]
		}
		rows[i] = out
	}
	return &Table{Fields: fields, Rows: rows}, nil
}

// Head returns a table bounded to the first n rows. A negative n keeps all
// rows.
func (t *Table) Head(n int) *Table {
	if n < 0 || n >= len(t.Rows) {
		return &Table{Fields: t.Fields, Rows: t.Rows}
	}
	return &Table{Fields: t.Fields, Rows: t.Rows[:n]}
}

// Equal reports content equality: same columns in the same order and deeply
// equal rows.
func (t *Table) Equal(other *Table) bool {
	if t == nil || other == nil {
		return t == other
	}
	if len(t.Fields) != len(other.Fields) || len(t.Rows) != len(other.Rows) {
		return false
	}
	for i, f := range t.Fields {
		if f.Name != other.Fields[i].Name {
			return false
		}
	}
	for i, row := range t.Rows {
		if !reflect.DeepEqual(row, other.Rows[i]) {
			return false
		}
	}
	return true
}

// TypeName maps a Go value to its canonical column type string.
func TypeName(v any) string {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return "int"
	case float32, float64:
		return "float"
	case bool:
		return "bool"
	case string:
		return "string"
	case time.Time:
		return "datetime"
	case []byte:
		return "string"
	default:
		return "unknown"
	}
}

// InferValue converts raw text into the narrowest value it parses as:
// int, float, bool, datetime, then string.
func InferValue(s string) any {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	switch strings.ToLower(trimmed) {
	case "true":
		return true
	case "false":
		return false
	}
	if t, err := date.Parse(trimmed); err == nil {
		return t
	}
	return s
}

// EqualSchemas reports order-independent equality of two single-table
// schemas.
func EqualSchemas(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

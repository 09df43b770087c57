package sandbox

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oarkflow/expr"

	"github.com/oarkflow/pipeline/pkg/tabular"
)

// builtins are the whole capability surface scripts get: pure tabular
// computation plus print. Resolution happens in evalIdentifier after the
// environment lookup misses, so a script can shadow any of these.
var builtins = map[string]*Builtin{
	"columns":  {Fn: builtinColumns},
	"rows":     {Fn: builtinRows},
	"select":   {Fn: builtinSelect},
	"drop":     {Fn: builtinDrop},
	"rename":   {Fn: builtinRename},
	"filter":   {Fn: builtinFilter},
	"derive":   {Fn: builtinDerive},
	"limit":    {Fn: builtinLimit},
	"sort":     {Fn: builtinSort},
	"join":     {Fn: builtinJoin},
	"groupBy":  {Fn: builtinGroupBy},
	"union":    {Fn: builtinUnion},
	"distinct": {Fn: builtinDistinct},
	"len":      {Fn: builtinLen},
	"keys":     {Fn: builtinKeys},
	"str":      {Fn: builtinStr},
	"num":      {Fn: builtinNum},
	"print":    {Fn: builtinPrint},
}

func argTable(fn string, args []Object, i int) (*tabular.Table, Object) {
	if i >= len(args) {
		return nil, newError("%s: missing argument %d", fn, i+1)
	}
	t, ok := args[i].(*Table)
	if !ok {
		return nil, newError("argument %d to `%s` must be TABLE, got %s", i+1, fn, args[i].Type())
	}
	return t.Value, nil
}

func argString(fn string, args []Object, i int) (string, Object) {
	if i >= len(args) {
		return "", newError("%s: missing argument %d", fn, i+1)
	}
	s, ok := args[i].(*String)
	if !ok {
		return "", newError("argument %d to `%s` must be STRING, got %s", i+1, fn, args[i].Type())
	}
	return s.Value, nil
}

func argInt(fn string, args []Object, i int) (int64, Object) {
	if i >= len(args) {
		return 0, newError("%s: missing argument %d", fn, i+1)
	}
	n, ok := args[i].(*Integer)
	if !ok {
		return 0, newError("argument %d to `%s` must be INTEGER, got %s", i+1, fn, args[i].Type())
	}
	return n.Value, nil
}

// columnList accepts either trailing string arguments or a single array of
// strings, so select(t, "a", "b") and select(t, ["a", "b"]) both work.
func columnList(fn string, args []Object, from int) ([]string, Object) {
	if len(args) == from+1 {
		if arr, ok := args[from].(*Array); ok {
			cols := make([]string, 0, len(arr.Elements))
			for _, el := range arr.Elements {
				s, ok := el.(*String)
				if !ok {
					return nil, newError("%s: column names must be STRING, got %s", fn, el.Type())
				}
				cols = append(cols, s.Value)
			}
			return cols, nil
		}
	}
	cols := make([]string, 0, len(args)-from)
	for i := from; i < len(args); i++ {
		s, errObj := argString(fn, args, i)
		if errObj != nil {
			return nil, errObj
		}
		cols = append(cols, s)
	}
	return cols, nil
}

func builtinColumns(args ...Object) Object {
	if len(args) != 1 {
		return newError("wrong number of arguments. got=%d, want=1", len(args))
	}
	t, errObj := argTable("columns", args, 0)
	if errObj != nil {
		return errObj
	}
	elements := make([]Object, 0, len(t.Fields))
	for _, name := range t.Columns() {
		elements = append(elements, &String{Value: name})
	}
	return &Array{Elements: elements}
}

func builtinRows(args ...Object) Object {
	if len(args) != 1 {
		return newError("wrong number of arguments. got=%d, want=1", len(args))
	}
	t, errObj := argTable("rows", args, 0)
	if errObj != nil {
		return errObj
	}
	elements := make([]Object, 0, len(t.Rows))
	for _, row := range t.Rows {
		elements = append(elements, hashFromMap(row))
	}
	return &Array{Elements: elements}
}

func builtinSelect(args ...Object) Object {
	t, errObj := argTable("select", args, 0)
	if errObj != nil {
		return errObj
	}
	cols, errObj := columnList("select", args, 1)
	if errObj != nil {
		return errObj
	}
	out, err := t.Project(cols)
	if err != nil {
		return newError("select: %s", err)
	}
	return &Table{Value: out}
}

func builtinDrop(args ...Object) Object {
	t, errObj := argTable("drop", args, 0)
	if errObj != nil {
		return errObj
	}
	cols, errObj := columnList("drop", args, 1)
	if errObj != nil {
		return errObj
	}
	dropped := make(map[string]bool, len(cols))
	for _, name := range cols {
		if _, ok := t.Field(name); !ok {
			return newError("drop: column %q not found", name)
		}
		dropped[name] = true
	}
	kept := make([]string, 0, len(t.Fields))
	for _, name := range t.Columns() {
		if !dropped[name] {
			kept = append(kept, name)
		}
	}
	out, err := t.Project(kept)
	if err != nil {
		return newError("drop: %s", err)
	}
	return &Table{Value: out}
}

func builtinRename(args ...Object) Object {
	if len(args) != 3 {
		return newError("wrong number of arguments. got=%d, want=3", len(args))
	}
	t, errObj := argTable("rename", args, 0)
	if errObj != nil {
		return errObj
	}
	oldName, errObj := argString("rename", args, 1)
	if errObj != nil {
		return errObj
	}
	newName, errObj := argString("rename", args, 2)
	if errObj != nil {
		return errObj
	}
	if _, ok := t.Field(oldName); !ok {
		return newError("rename: column %q not found", oldName)
	}
	if _, ok := t.Field(newName); ok && oldName != newName {
		return newError("rename: column %q already exists", newName)
	}
	fields := make([]tabular.Field, len(t.Fields))
	for i, f := range t.Fields {
		if f.Name == oldName {
			f.Name = newName
		}
		fields[i] = f
	}
	rows := make([]tabular.Row, len(t.Rows))
	for i, row := range t.Rows {
		out := make(tabular.Row, len(row))
		for k, v := range row {
			if k == oldName {
				out[newName] = v
			} else {
				out[k] = v
			}
		}
		rows[i] = out
	}
	return &Table{Value: tabular.New(fields, rows)}
}

func builtinFilter(args ...Object) Object {
	if len(args) != 2 {
		return newError("wrong number of arguments. got=%d, want=2", len(args))
	}
	t, errObj := argTable("filter", args, 0)
	if errObj != nil {
		return errObj
	}
	condition, errObj := argString("filter", args, 1)
	if errObj != nil {
		return errObj
	}
	program, err := expr.Parse(condition)
	if err != nil {
		return newError("filter: parse %q: %s", condition, err)
	}
	kept := make([]tabular.Row, 0, len(t.Rows))
	for _, row := range t.Rows {
		result, err := program.Eval(row)
		if err != nil {
			return newError("filter: evaluate %q: %s", condition, err)
		}
		if keep, ok := result.(bool); ok && keep {
			kept = append(kept, row)
		}
	}
	return &Table{Value: tabular.New(t.Fields, kept)}
}

func builtinDerive(args ...Object) Object {
	if len(args) != 3 {
		return newError("wrong number of arguments. got=%d, want=3", len(args))
	}
	t, errObj := argTable("derive", args, 0)
	if errObj != nil {
		return errObj
	}
	name, errObj := argString("derive", args, 1)
	if errObj != nil {
		return errObj
	}
	expression, errObj := argString("derive", args, 2)
	if errObj != nil {
		return errObj
	}
	program, err := expr.Parse(expression)
	if err != nil {
		return newError("derive: parse %q: %s", expression, err)
	}
	rows := make([]tabular.Row, len(t.Rows))
	for i, row := range t.Rows {
		result, err := program.Eval(row)
		if err != nil {
			return newError("derive: evaluate %q: %s", expression, err)
		}
		out := make(tabular.Row, len(row)+1)
		for k, v := range row {
			out[k] = v
		}
		out[name] = result
		rows[i] = out
	}
	cols := t.Columns()
	if _, ok := t.Field(name); !ok {
		cols = append(cols, name)
	}
	return &Table{Value: tabular.FromOrderedRows(cols, rows)}
}

func builtinLimit(args ...Object) Object {
	if len(args) != 2 {
		return newError("wrong number of arguments. got=%d, want=2", len(args))
	}
	t, errObj := argTable("limit", args, 0)
	if errObj != nil {
		return errObj
	}
	n, errObj := argInt("limit", args, 1)
	if errObj != nil {
		return errObj
	}
	return &Table{Value: t.Head(int(n))}
}

func builtinSort(args ...Object) Object {
	if len(args) != 2 && len(args) != 3 {
		return newError("wrong number of arguments. got=%d, want=2 or 3", len(args))
	}
	t, errObj := argTable("sort", args, 0)
	if errObj != nil {
		return errObj
	}
	col, errObj := argString("sort", args, 1)
	if errObj != nil {
		return errObj
	}
	if _, ok := t.Field(col); !ok {
		return newError("sort: column %q not found", col)
	}
	desc := false
	if len(args) == 3 {
		b, ok := args[2].(*Boolean)
		if !ok {
			return newError("argument 3 to `sort` must be BOOLEAN, got %s", args[2].Type())
		}
		desc = b.Value
	}
	rows := make([]tabular.Row, len(t.Rows))
	copy(rows, t.Rows)
	sort.SliceStable(rows, func(i, j int) bool {
		c := compareValues(rows[i][col], rows[j][col])
		if desc {
			return c > 0
		}
		return c < 0
	})
	return &Table{Value: tabular.New(t.Fields, rows)}
}

func builtinJoin(args ...Object) Object {
	if len(args) < 3 || len(args) > 5 {
		return newError("wrong number of arguments. got=%d, want=3 to 5", len(args))
	}
	left, errObj := argTable("join", args, 0)
	if errObj != nil {
		return errObj
	}
	right, errObj := argTable("join", args, 1)
	if errObj != nil {
		return errObj
	}
	onLeft, errObj := argString("join", args, 2)
	if errObj != nil {
		return errObj
	}
	onRight := onLeft
	if len(args) >= 4 {
		onRight, errObj = argString("join", args, 3)
		if errObj != nil {
			return errObj
		}
	}
	how := "inner"
	if len(args) == 5 {
		how, errObj = argString("join", args, 4)
		if errObj != nil {
			return errObj
		}
	}
	if how != "inner" && how != "left" {
		return newError("join: unsupported mode %q, want inner or left", how)
	}
	if _, ok := left.Field(onLeft); !ok {
		return newError("join: column %q not found in left table", onLeft)
	}
	if _, ok := right.Field(onRight); !ok {
		return newError("join: column %q not found in right table", onRight)
	}

	leftCols := left.Columns()
	seen := make(map[string]bool, len(leftCols))
	for _, name := range leftCols {
		seen[name] = true
	}
	cols := append([]string{}, leftCols...)
	rightCols := make(map[string]string)
	for _, name := range right.Columns() {
		if name == onRight {
			continue
		}
		out := name
		if seen[out] {
			out = name + "_right"
		}
		rightCols[name] = out
		cols = append(cols, out)
	}

	index := make(map[any][]tabular.Row)
	for _, row := range right.Rows {
		key := normalizeKey(row[onRight])
		index[key] = append(index[key], row)
	}

	out := make([]tabular.Row, 0, len(left.Rows))
	for _, leftRow := range left.Rows {
		matches := index[normalizeKey(leftRow[onLeft])]
		if len(matches) == 0 {
			if how == "left" {
				merged := make(tabular.Row, len(cols))
				for k, v := range leftRow {
					merged[k] = v
				}
				out = append(out, merged)
			}
			continue
		}
		for _, rightRow := range matches {
			merged := make(tabular.Row, len(cols))
			for k, v := range leftRow {
				merged[k] = v
			}
			for name, outName := range rightCols {
				merged[outName] = rightRow[name]
			}
			out = append(out, merged)
		}
	}
	return &Table{Value: tabular.FromOrderedRows(cols, out)}
}

func builtinGroupBy(args ...Object) Object {
	if len(args) != 3 {
		return newError("wrong number of arguments. got=%d, want=3", len(args))
	}
	t, errObj := argTable("groupBy", args, 0)
	if errObj != nil {
		return errObj
	}

	var keyCols []string
	switch keys := args[1].(type) {
	case *String:
		keyCols = []string{keys.Value}
	case *Array:
		for _, el := range keys.Elements {
			s, ok := el.(*String)
			if !ok {
				return newError("groupBy: key columns must be STRING, got %s", el.Type())
			}
			keyCols = append(keyCols, s.Value)
		}
	default:
		return newError("argument 2 to `groupBy` must be STRING or ARRAY, got %s", args[1].Type())
	}
	if len(keyCols) == 0 {
		return newError("groupBy: at least one key column required")
	}
	for _, name := range keyCols {
		if _, ok := t.Field(name); !ok {
			return newError("groupBy: column %q not found", name)
		}
	}

	aggs, ok := args[2].(*Hash)
	if !ok {
		return newError("argument 3 to `groupBy` must be HASH, got %s", args[2].Type())
	}
	type aggSpec struct {
		out string
		fn  string
		col string
	}
	specs := make([]aggSpec, 0, len(aggs.Pairs))
	for _, pair := range aggs.Pairs {
		outName, ok := pair.Key.(*String)
		if !ok {
			return newError("groupBy: aggregate names must be STRING, got %s", pair.Key.Type())
		}
		spec, ok := pair.Value.(*String)
		if !ok {
			return newError("groupBy: aggregate %q must be a STRING like \"sum(amount)\"", outName.Value)
		}
		fn, col, err := parseAggregate(spec.Value)
		if err != nil {
			return newError("groupBy: %s", err)
		}
		if col != "" {
			if _, ok := t.Field(col); !ok {
				return newError("groupBy: column %q not found", col)
			}
		}
		specs = append(specs, aggSpec{out: outName.Value, fn: fn, col: col})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].out < specs[j].out })

	groupOrder := make([]string, 0)
	groups := make(map[string][]tabular.Row)
	for _, row := range t.Rows {
		var sb strings.Builder
		for _, name := range keyCols {
			v := normalizeKey(row[name])
			fmt.Fprintf(&sb, "%T=%v\x1f", v, v)
		}
		key := sb.String()
		if _, ok := groups[key]; !ok {
			groupOrder = append(groupOrder, key)
		}
		groups[key] = append(groups[key], row)
	}

	cols := append([]string{}, keyCols...)
	for _, spec := range specs {
		cols = append(cols, spec.out)
	}
	out := make([]tabular.Row, 0, len(groupOrder))
	for _, key := range groupOrder {
		rows := groups[key]
		result := make(tabular.Row, len(cols))
		for _, name := range keyCols {
			result[name] = rows[0][name]
		}
		for _, spec := range specs {
			val, err := aggregate(spec.fn, spec.col, rows)
			if err != nil {
				return newError("groupBy: %s", err)
			}
			result[spec.out] = val
		}
		out = append(out, result)
	}
	return &Table{Value: tabular.FromOrderedRows(cols, out)}
}

func parseAggregate(spec string) (fn, col string, err error) {
	open := strings.Index(spec, "(")
	if open < 0 || !strings.HasSuffix(spec, ")") {
		return "", "", fmt.Errorf("malformed aggregate %q, want fn(column)", spec)
	}
	fn = strings.ToLower(strings.TrimSpace(spec[:open]))
	col = strings.TrimSpace(spec[open+1 : len(spec)-1])
	if col == "*" {
		col = ""
	}
	switch fn {
	case "count":
		return fn, col, nil
	case "sum", "avg", "min", "max":
		if col == "" {
			return "", "", fmt.Errorf("aggregate %q needs a column", spec)
		}
		return fn, col, nil
	default:
		return "", "", fmt.Errorf("unsupported aggregate %q", fn)
	}
}

func aggregate(fn, col string, rows []tabular.Row) (any, error) {
	switch fn {
	case "count":
		if col == "" {
			return int64(len(rows)), nil
		}
		var n int64
		for _, row := range rows {
			if row[col] != nil {
				n++
			}
		}
		return n, nil
	case "sum":
		var sum float64
		allInt := true
		var found bool
		for _, row := range rows {
			v := row[col]
			if v == nil {
				continue
			}
			f, isInt, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("sum(%s): non-numeric value %v", col, v)
			}
			sum += f
			allInt = allInt && isInt
			found = true
		}
		if !found {
			return nil, nil
		}
		if allInt {
			return int64(sum), nil
		}
		return sum, nil
	case "avg":
		var sum float64
		var n int
		for _, row := range rows {
			v := row[col]
			if v == nil {
				continue
			}
			f, _, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("avg(%s): non-numeric value %v", col, v)
			}
			sum += f
			n++
		}
		if n == 0 {
			return nil, nil
		}
		return sum / float64(n), nil
	case "min", "max":
		var best any
		for _, row := range rows {
			v := row[col]
			if v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c := compareValues(v, best)
			if (fn == "min" && c < 0) || (fn == "max" && c > 0) {
				best = v
			}
		}
		return best, nil
	}
	return nil, fmt.Errorf("unsupported aggregate %q", fn)
}

func builtinUnion(args ...Object) Object {
	if len(args) != 2 {
		return newError("wrong number of arguments. got=%d, want=2", len(args))
	}
	left, errObj := argTable("union", args, 0)
	if errObj != nil {
		return errObj
	}
	right, errObj := argTable("union", args, 1)
	if errObj != nil {
		return errObj
	}
	cols := left.Columns()
	seen := make(map[string]bool, len(cols))
	for _, name := range cols {
		seen[name] = true
	}
	for _, name := range right.Columns() {
		if !seen[name] {
			cols = append(cols, name)
		}
	}
	rows := make([]tabular.Row, 0, len(left.Rows)+len(right.Rows))
	rows = append(rows, left.Rows...)
	rows = append(rows, right.Rows...)
	return &Table{Value: tabular.FromOrderedRows(cols, rows)}
}

func builtinDistinct(args ...Object) Object {
	t, errObj := argTable("distinct", args, 0)
	if errObj != nil {
		return errObj
	}
	cols := t.Columns()
	if len(args) > 1 {
		cols, errObj = columnList("distinct", args, 1)
		if errObj != nil {
			return errObj
		}
		for _, name := range cols {
			if _, ok := t.Field(name); !ok {
				return newError("distinct: column %q not found", name)
			}
		}
	}
	seen := make(map[string]bool, len(t.Rows))
	kept := make([]tabular.Row, 0, len(t.Rows))
	for _, row := range t.Rows {
		var sb strings.Builder
		for _, name := range cols {
			v := normalizeKey(row[name])
			fmt.Fprintf(&sb, "%T=%v\x1f", v, v)
		}
		key := sb.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, row)
	}
	return &Table{Value: tabular.New(t.Fields, kept)}
}

func builtinLen(args ...Object) Object {
	if len(args) != 1 {
		return newError("wrong number of arguments. got=%d, want=1", len(args))
	}
	switch arg := args[0].(type) {
	case *String:
		return &Integer{Value: int64(len(arg.Value))}
	case *Array:
		return &Integer{Value: int64(len(arg.Elements))}
	case *Hash:
		return &Integer{Value: int64(len(arg.Pairs))}
	case *Table:
		return &Integer{Value: int64(len(arg.Value.Rows))}
	default:
		return newError("argument to `len` not supported, got %s", args[0].Type())
	}
}

func builtinKeys(args ...Object) Object {
	if len(args) != 1 {
		return newError("wrong number of arguments. got=%d, want=1", len(args))
	}
	hash, ok := args[0].(*Hash)
	if !ok {
		return newError("argument to `keys` must be HASH, got %s", args[0].Type())
	}
	elements := make([]Object, 0, len(hash.Pairs))
	for _, pair := range hash.Pairs {
		elements = append(elements, pair.Key)
	}
	sort.Slice(elements, func(i, j int) bool { return elements[i].Inspect() < elements[j].Inspect() })
	return &Array{Elements: elements}
}

func builtinStr(args ...Object) Object {
	if len(args) != 1 {
		return newError("wrong number of arguments. got=%d, want=1", len(args))
	}
	if s, ok := args[0].(*String); ok {
		return s
	}
	return &String{Value: args[0].Inspect()}
}

func builtinNum(args ...Object) Object {
	if len(args) != 1 {
		return newError("wrong number of arguments. got=%d, want=1", len(args))
	}
	switch arg := args[0].(type) {
	case *Integer:
		return arg
	case *Float:
		return arg
	case *Boolean:
		if arg.Value {
			return &Integer{Value: 1}
		}
		return &Integer{Value: 0}
	case *String:
		trimmed := strings.TrimSpace(arg.Value)
		if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			return &Integer{Value: n}
		}
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return &Float{Value: f}
		}
		return newError("num: cannot convert %q", arg.Value)
	default:
		return newError("argument to `num` must be STRING or a number, got %s", args[0].Type())
	}
}

func builtinPrint(args ...Object) Object {
	for _, arg := range args {
		fmt.Println(arg.Inspect())
	}
	return NULL
}

// builtinEngineTable backs engine.table(rows): an array of row hashes
// becomes a fresh table with an inferred schema.
func builtinEngineTable(args ...Object) Object {
	if len(args) != 1 {
		return newError("wrong number of arguments. got=%d, want=1", len(args))
	}
	arr, ok := args[0].(*Array)
	if !ok {
		return newError("argument to `engine.table` must be ARRAY, got %s", args[0].Type())
	}
	rows := make([]tabular.Row, 0, len(arr.Elements))
	for i, el := range arr.Elements {
		hash, ok := el.(*Hash)
		if !ok {
			return newError("engine.table: element %d must be HASH, got %s", i, el.Type())
		}
		row, _ := fromObject(hash).(map[string]any)
		rows = append(rows, row)
	}
	return &Table{Value: tabular.FromRows(rows)}
}

// normalizeKey collapses numeric types so join and grouping keys compare by
// value rather than by representation.
func normalizeKey(v any) any {
	switch v := v.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case nil, bool, string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(v any) (f float64, isInt, ok bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true, true
	case int32:
		return float64(v), true, true
	case int64:
		return float64(v), true, true
	case uint64:
		return float64(v), true, true
	case float32:
		return float64(v), false, true
	case float64:
		return v, false, true
	default:
		return 0, false, false
	}
}

// compareValues orders two cell values: nil first, numbers by value, then
// strings, booleans, and times. Mixed leftovers compare by printed form.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	af, _, aok := toFloat(a)
	bf, _, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs)
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case bb:
				return -1
			default:
				return 1
			}
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

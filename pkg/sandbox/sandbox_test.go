package sandbox

import (
	"errors"
	"strings"
	"testing"

	"github.com/oarkflow/pipeline/pkg/tabular"
)

func ordersTable() *tabular.Table {
	return tabular.FromOrderedRows([]string{"id", "customer", "amount"}, []tabular.Row{
		{"id": int64(1), "customer": "acme", "amount": 120.5},
		{"id": int64(2), "customer": "globex", "amount": 40.0},
		{"id": int64(3), "customer": "acme", "amount": 99.9},
		{"id": int64(4), "customer": "initech", "amount": 310.0},
	})
}

func runScript(t *testing.T, code string, inputs map[string]*tabular.Table) *tabular.Table {
	t.Helper()
	out, err := Run(code, nil, inputs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	return out
}

func TestTransformFilterDeriveSelect(t *testing.T) {
	code := `
	let transform = fn(engine, inputs) {
		let orders = inputs["orders"]
		let big = filter(orders, "amount > 100")
		let taxed = derive(big, "tax", "amount * 0.1")
		return select(taxed, "id", "tax")
	}
	`
	out := runScript(t, code, map[string]*tabular.Table{"orders": ordersTable()})

	if got := out.Columns(); len(got) != 2 || got[0] != "id" || got[1] != "tax" {
		t.Fatalf("unexpected columns: %v", got)
	}
	if out.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", out.Len())
	}
	if tax, ok := out.Rows[0]["tax"].(float64); !ok || tax < 12.0 || tax > 12.1 {
		t.Errorf("unexpected tax for first row: %v", out.Rows[0]["tax"])
	}
}

func TestTransformDoesNotMutateInput(t *testing.T) {
	code := `
	let transform = fn(engine, inputs) {
		return derive(inputs["orders"], "flag", "amount > 50")
	}
	`
	input := ordersTable()
	runScript(t, code, map[string]*tabular.Table{"orders": input})

	if len(input.Fields) != 3 {
		t.Fatalf("input fields changed: %v", input.Fields)
	}
	for _, row := range input.Rows {
		if _, ok := row["flag"]; ok {
			t.Fatal("input rows gained a derived column")
		}
	}
}

func TestMissingTransformFunction(t *testing.T) {
	_, err := Run(`let x = 1`, nil, nil)
	if !errors.Is(err, ErrMissingTransformFunction) {
		t.Fatalf("expected ErrMissingTransformFunction, got %v", err)
	}

	_, err = Run(`let transform = 42`, nil, nil)
	if !errors.Is(err, ErrMissingTransformFunction) {
		t.Fatalf("expected ErrMissingTransformFunction for non-callable, got %v", err)
	}
}

func TestRuntimeErrorInsideTransform(t *testing.T) {
	code := `
	let transform = fn(engine, inputs) {
		return select(inputs["orders"], "no_such_column")
	}
	`
	_, err := Run(code, nil, map[string]*tabular.Table{"orders": ordersTable()})
	if !errors.Is(err, ErrTransformExecution) {
		t.Fatalf("expected ErrTransformExecution, got %v", err)
	}
	if errors.Is(err, ErrMissingTransformFunction) {
		t.Fatal("runtime failure must not look like a missing function")
	}
}

func TestParseErrorReported(t *testing.T) {
	_, err := Run(`let transform = fn(engine, inputs) {`, nil, nil)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "parse error") {
		t.Fatalf("unexpected error text: %v", err)
	}
}

func TestEngineTableBuildsFromLiterals(t *testing.T) {
	code := `
	let transform = fn(engine, inputs) {
		return engine.table([
			{"name": "a", "n": 1},
			{"name": "b", "n": 2}
		])
	}
	`
	out := runScript(t, code, nil)
	if out.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", out.Len())
	}
	if _, ok := out.Field("name"); !ok {
		t.Fatalf("missing column name: %v", out.Columns())
	}
}

func TestArrayOfRowsReturnIsCoerced(t *testing.T) {
	code := `
	let transform = fn(engine, inputs) {
		return [{"v": 10}, {"v": 20}]
	}
	`
	out := runScript(t, code, nil)
	if out.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", out.Len())
	}
	if out.Rows[0]["v"] != int64(10) {
		t.Errorf("unexpected cell: %v", out.Rows[0]["v"])
	}
}

func TestJoinInnerAndLeft(t *testing.T) {
	customers := tabular.FromOrderedRows([]string{"customer", "city"}, []tabular.Row{
		{"customer": "acme", "city": "vienna"},
		{"customer": "globex", "city": "graz"},
	})
	inputs := map[string]*tabular.Table{"orders": ordersTable(), "customers": customers}

	inner := runScript(t, `
	let transform = fn(engine, inputs) {
		return join(inputs["orders"], inputs["customers"], "customer")
	}
	`, inputs)
	if inner.Len() != 3 {
		t.Fatalf("inner join: expected 3 rows, got %d", inner.Len())
	}

	left := runScript(t, `
	let transform = fn(engine, inputs) {
		return join(inputs["orders"], inputs["customers"], "customer", "customer", "left")
	}
	`, inputs)
	if left.Len() != 4 {
		t.Fatalf("left join: expected 4 rows, got %d", left.Len())
	}
	var unmatched tabular.Row
	for _, row := range left.Rows {
		if row["customer"] == "initech" {
			unmatched = row
		}
	}
	if unmatched == nil || unmatched["city"] != nil {
		t.Fatalf("left join should keep initech with nil city, got %v", unmatched)
	}
}

func TestGroupByAggregates(t *testing.T) {
	code := `
	let transform = fn(engine, inputs) {
		return groupBy(inputs["orders"], "customer", {"total": "sum(amount)", "orders": "count()"})
	}
	`
	out := runScript(t, code, map[string]*tabular.Table{"orders": ordersTable()})
	if out.Len() != 3 {
		t.Fatalf("expected 3 groups, got %d", out.Len())
	}
	for _, row := range out.Rows {
		if row["customer"] == "acme" {
			if n, ok := row["orders"].(int64); !ok || n != 2 {
				t.Errorf("acme count: %v", row["orders"])
			}
			if total, ok := row["total"].(float64); !ok || total < 220.3 || total > 220.5 {
				t.Errorf("acme total: %v", row["total"])
			}
		}
	}
}

func TestSortLimitDistinctUnion(t *testing.T) {
	code := `
	let transform = fn(engine, inputs) {
		let orders = inputs["orders"]
		let top = limit(sort(orders, "amount", true), 2)
		let names = distinct(select(orders, "customer"))
		return union(select(top, "customer"), names)
	}
	`
	out := runScript(t, code, map[string]*tabular.Table{"orders": ordersTable()})
	// 2 top customers plus 3 distinct names.
	if out.Len() != 5 {
		t.Fatalf("expected 5 rows, got %d", out.Len())
	}
	if out.Rows[0]["customer"] != "initech" {
		t.Errorf("expected initech first after descending sort, got %v", out.Rows[0]["customer"])
	}
}

func TestScalarBuiltinsAndControlFlow(t *testing.T) {
	code := `
	let classify = fn(n) {
		if (n > 100) { return "large" } else { return "small" }
	}
	let transform = fn(engine, inputs) {
		let size = classify(len(inputs["orders"]) * 50)
		let n = num("7") + 1
		return engine.table([{"size": size, "n": n, "label": str(n) + "!"}])
	}
	`
	out := runScript(t, code, map[string]*tabular.Table{"orders": ordersTable()})
	row := out.Rows[0]
	if row["size"] != "large" || row["n"] != int64(8) || row["label"] != "8!" {
		t.Fatalf("unexpected row: %v", row)
	}
}

func TestRunawayRecursionIsStopped(t *testing.T) {
	code := `
	let loop = fn(n) { return loop(n + 1) }
	let transform = fn(engine, inputs) {
		return loop(0)
	}
	`
	_, err := Run(code, nil, nil)
	if !errors.Is(err, ErrTransformExecution) {
		t.Fatalf("expected ErrTransformExecution, got %v", err)
	}
	if !strings.Contains(err.Error(), "depth") {
		t.Fatalf("expected depth limit in error, got %v", err)
	}
}

func TestRowsExposesHashAccess(t *testing.T) {
	code := `
	let transform = fn(engine, inputs) {
		let first = rows(inputs["orders"])[0]
		return engine.table([{"who": first.customer, "cols": len(columns(inputs["orders"]))}])
	}
	`
	out := runScript(t, code, map[string]*tabular.Table{"orders": ordersTable()})
	row := out.Rows[0]
	if row["who"] != "acme" || row["cols"] != int64(3) {
		t.Fatalf("unexpected row: %v", row)
	}
}

package webadapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oarkflow/pipeline/pkg/contracts"
)

const productPage = `<html><body><table>
<tr class="product"><td class="name">widget</td><td class="price">9.99</td><td><a href="/p/1">view</a></td></tr>
<tr class="product"><td class="name">gadget</td><td class="price">19.5</td><td><a href="/p/2">view</a></td></tr>
</table></body></html>`

func TestScrapeWithFieldMappings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(productPage))
	}))
	defer srv.Close()

	a, err := New(Config{
		BaseURL:     srv.URL,
		RowSelector: "tr.product",
		FieldMappings: []FieldMapping{
			{Field: "name", Selector: "td.name"},
			{Field: "price", Selector: "td.price"},
			{Field: "link", Selector: "a", Target: "href"},
		},
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	table, err := a.Load(context.Background(), "products")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", table.Len())
	}
	if table.Rows[0]["name"] != "widget" {
		t.Errorf("unexpected name: %v", table.Rows[0]["name"])
	}
	if v, ok := table.Rows[0]["price"].(float64); !ok || v != 9.99 {
		t.Errorf("price should infer to float64, got %T %v", table.Rows[0]["price"], table.Rows[0]["price"])
	}
	if table.Rows[1]["link"] != "/p/2" {
		t.Errorf("attribute extraction failed: %v", table.Rows[1]["link"])
	}
}

func TestJSONModeWithDataPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": {"items": [{"id": 1}, {"id": 2}, {"id": 3}]}}`))
	}))
	defer srv.Close()

	a, err := New(Config{BaseURL: srv.URL, DataPath: "result.items"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	table, err := a.Load(context.Background(), "", contracts.WithLimit(2))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("limit ignored, got %d rows", table.Len())
	}
}

func TestWriteIsRejected(t *testing.T) {
	a, err := New(Config{BaseURL: "http://example.com"})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Write(context.Background(), nil, "anything", contracts.WriteAppend); err == nil {
		t.Fatal("expected write to be rejected")
	}
}

func TestTestReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	a, err := New(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	ctx := context.Background()
	if ok, msg := a.Test(ctx, ""); !ok {
		t.Fatalf("healthy endpoint reported down: %s", msg)
	}
	if ok, _ := a.Test(ctx, "missing"); ok {
		t.Fatal("404 should fail the test")
	}
}

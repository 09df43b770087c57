package etl

import (
	"errors"
	"testing"
)

func sourceNode(id string) Node {
	return Node{ID: id, Type: NodeSource, Data: SourceData{DataSourceID: "ds-" + id}}
}

func TestBuildTopologicalValidity(t *testing.T) {
	nodes := []Node{
		sourceNode("a"), sourceNode("b"), sourceNode("c"),
		sourceNode("d"), sourceNode("e"),
	}
	edges := []Edge{
		{Source: "a", Target: "c"},
		{Source: "b", Target: "c"},
		{Source: "c", Target: "d"},
		{Source: "c", Target: "e"},
		{Source: "a", Target: "e"},
	}
	g, err := Build(nodes, edges)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	index := make(map[string]int, len(g.Order()))
	for i, id := range g.Order() {
		index[id] = i
	}
	if len(index) != len(nodes) {
		t.Fatalf("order covers %d nodes, want %d", len(index), len(nodes))
	}
	for _, e := range edges {
		if index[e.Source] >= index[e.Target] {
			t.Errorf("edge %s->%s violated: index %d >= %d", e.Source, e.Target, index[e.Source], index[e.Target])
		}
	}
}

func TestBuildDeterministicOrder(t *testing.T) {
	nodes := []Node{sourceNode("z"), sourceNode("m"), sourceNode("a")}
	first, err := Build(nodes, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := []string{"a", "m", "z"}
	for i, id := range first.Order() {
		if id != want[i] {
			t.Fatalf("order = %v, want %v", first.Order(), want)
		}
	}
	for i := 0; i < 5; i++ {
		g, err := Build(nodes, nil)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		for j, id := range g.Order() {
			if id != want[j] {
				t.Fatalf("run %d: order = %v, want %v", i, g.Order(), want)
			}
		}
	}
}

func TestBuildEmptyPipeline(t *testing.T) {
	if _, err := Build(nil, nil); !errors.Is(err, ErrEmptyPipeline) {
		t.Fatalf("err = %v, want ErrEmptyPipeline", err)
	}
}

func TestBuildRejectsCycles(t *testing.T) {
	cases := []struct {
		name  string
		nodes []Node
		edges []Edge
	}{
		{
			name:  "two node cycle",
			nodes: []Node{sourceNode("a"), sourceNode("b")},
			edges: []Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
		},
		{
			name:  "self loop",
			nodes: []Node{sourceNode("a")},
			edges: []Edge{{Source: "a", Target: "a"}},
		},
		{
			name:  "cycle behind a chain",
			nodes: []Node{sourceNode("a"), sourceNode("b"), sourceNode("c"), sourceNode("d")},
			edges: []Edge{
				{Source: "a", Target: "b"},
				{Source: "b", Target: "c"},
				{Source: "c", Target: "d"},
				{Source: "d", Target: "b"},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := Build(tc.nodes, tc.edges)
			if !errors.Is(err, ErrCyclicPipeline) {
				t.Fatalf("err = %v, want ErrCyclicPipeline", err)
			}
			if g != nil {
				t.Fatal("cyclic input must not yield a partial graph")
			}
		})
	}
}

func TestBuildRejectsUnknownEndpoints(t *testing.T) {
	nodes := []Node{sourceNode("a")}
	if _, err := Build(nodes, []Edge{{Source: "a", Target: "ghost"}}); err == nil {
		t.Fatal("edge to unknown node must fail")
	}
	if _, err := Build(nodes, []Edge{{Source: "ghost", Target: "a"}}); err == nil {
		t.Fatal("edge from unknown node must fail")
	}
}

func TestBuildRejectsDuplicateIDs(t *testing.T) {
	if _, err := Build([]Node{sourceNode("a"), sourceNode("a")}, nil); err == nil {
		t.Fatal("duplicate node ids must fail")
	}
}

func TestGraphNeighbors(t *testing.T) {
	nodes := []Node{sourceNode("a"), sourceNode("b"), sourceNode("c")}
	edges := []Edge{{Source: "a", Target: "b"}, {Source: "c", Target: "b"}}
	g, err := Build(nodes, edges)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	preds := g.Predecessors("b")
	if len(preds) != 2 || preds[0] != "a" || preds[1] != "c" {
		t.Fatalf("predecessors = %v, want [a c] in edge order", preds)
	}
	if succ := g.Successors("a"); len(succ) != 1 || succ[0] != "b" {
		t.Fatalf("successors = %v, want [b]", succ)
	}
	if g.Len() != 3 {
		t.Fatalf("Len = %d, want 3", g.Len())
	}
}

package etl

import (
	"fmt"
	"sort"
)

// Graph is a pipeline compiled into adjacency form with a topological
// execution order. Build is the only constructor; a Graph in hand is
// always acyclic.
type Graph struct {
	nodes        map[string]Node
	successors   map[string][]string
	predecessors map[string][]string
	order        []string
}

// Build compiles a node/edge list into a validated graph. An empty node
// list and any cycle are terminal errors; no partial order is returned.
func Build(nodes []Node, edges []Edge) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, ErrEmptyPipeline
	}

	g := &Graph{
		nodes:        make(map[string]Node, len(nodes)),
		successors:   make(map[string][]string, len(nodes)),
		predecessors: make(map[string][]string, len(nodes)),
	}
	inDegree := make(map[string]int, len(nodes))
	for _, node := range nodes {
		if _, exists := g.nodes[node.ID]; exists {
			return nil, fmt.Errorf("duplicate node id: %s", node.ID)
		}
		g.nodes[node.ID] = node
		inDegree[node.ID] = 0
	}
	for _, edge := range edges {
		if _, ok := g.nodes[edge.Source]; !ok {
			return nil, fmt.Errorf("edge references missing node: %s", edge.Source)
		}
		if _, ok := g.nodes[edge.Target]; !ok {
			return nil, fmt.Errorf("edge references missing node: %s", edge.Target)
		}
		g.successors[edge.Source] = append(g.successors[edge.Source], edge.Target)
		g.predecessors[edge.Target] = append(g.predecessors[edge.Target], edge.Source)
		inDegree[edge.Target]++
	}

	var queue []string
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	// sorted tie-breaking keeps the order deterministic across runs
	sort.Strings(queue)

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		g.order = append(g.order, id)
		processed++

		var next []string
		for _, succ := range g.successors[id] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				next = append(next, succ)
			}
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}

	if processed != len(nodes) {
		return nil, ErrCyclicPipeline
	}
	return g, nil
}

// Order is the topological execution order.
func (g *Graph) Order() []string {
	return g.order
}

// Node returns the node record for an id.
func (g *Graph) Node(id string) (Node, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// Predecessors returns the ids of a node's direct upstream nodes, in edge
// declaration order.
func (g *Graph) Predecessors(id string) []string {
	return g.predecessors[id]
}

// Successors returns the ids of a node's direct downstream nodes.
func (g *Graph) Successors(id string) []string {
	return g.successors[id]
}

// Len is the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

package etl

import (
	"context"
	"fmt"

	"github.com/oarkflow/pipeline/pkg/contracts"
	"github.com/oarkflow/pipeline/pkg/sandbox"
	"github.com/oarkflow/pipeline/pkg/tabular"
)

// runGraph validates and executes one pipeline. Nodes run strictly
// sequentially in topological order; each node's table is cached under its
// id and never recomputed. seed pre-populates the cache, which is how a
// parent run injects data into a sub-pipeline: seeded nodes are skipped
// entirely, including their connector I/O. The return value is the table of
// the first terminal node in topological order.
func (m *Manager) runGraph(ctx context.Context, rc *runContext, p Pipeline, seed map[string]*tabular.Table) (*tabular.Table, error) {
	g, err := Build(p.Nodes, p.Edges)
	if err != nil {
		return nil, err
	}

	cache := make(map[string]*tabular.Table, g.Len())
	for id, table := range seed {
		cache[id] = table
	}

	for _, id := range g.Order() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, done := cache[id]; done {
			continue
		}
		node, _ := g.Node(id)
		rc.publish(EventNodeStarted, map[string]any{
			"pipeline": p.ID,
			"node":     id,
			"type":     string(node.Type),
		})

		table, err := m.executeNode(ctx, rc, p, g, node, cache)
		if err != nil {
			rc.publish(EventNodeFailed, map[string]any{
				"pipeline": p.ID,
				"node":     id,
				"type":     string(node.Type),
				"error":    err.Error(),
			})
			return nil, err
		}

		cache[id] = table
		rc.publish(EventNodeFinished, map[string]any{
			"pipeline": p.ID,
			"node":     id,
			"type":     string(node.Type),
			"rows":     table.Len(),
		})
	}

	for _, id := range g.Order() {
		if len(g.Successors(id)) == 0 {
			return cache[id], nil
		}
	}
	return nil, fmt.Errorf("pipeline %s has no terminal node", p.ID)
}

// executeNode dispatches one node. On success the returned table is
// non-nil; it becomes the node's cached result.
func (m *Manager) executeNode(ctx context.Context, rc *runContext, p Pipeline, g *Graph, node Node, cache map[string]*tabular.Table) (*tabular.Table, error) {
	switch d := node.Data.(type) {
	case SourceData:
		var opts []contracts.Option
		if len(d.SelectedColumns) > 0 {
			opts = append(opts, contracts.WithColumns(d.SelectedColumns...))
		}
		table, err := m.data.LoadTable(ctx, d.DataSourceID, opts...)
		if err != nil {
			return nil, fmt.Errorf("source node %s: %w", node.ID, err)
		}
		return table, nil

	case TransformData:
		preds := g.Predecessors(node.ID)
		if len(preds) == 0 {
			return nil, fmt.Errorf("transform node %s: %w", node.ID, ErrMissingInput)
		}
		inputs := make(map[string]*tabular.Table, len(preds))
		for _, predID := range preds {
			table, ok := cache[predID]
			if !ok || table == nil {
				return nil, fmt.Errorf("transform node %s: %w: no result for %s", node.ID, ErrMissingInput, predID)
			}
			predNode, _ := g.Node(predID)
			inputs[predNode.TableKey()] = table
		}

		code := m.guardDrift(ctx, rc, p, node, d, inputs)
		out, err := sandbox.Run(code, m.sandboxEngine(), inputs)
		if err != nil {
			return nil, fmt.Errorf("transform node %s: %w", node.ID, err)
		}
		return out, nil

	case SinkData:
		preds := g.Predecessors(node.ID)
		if len(preds) == 0 {
			return nil, fmt.Errorf("sink node %s: %w", node.ID, ErrMissingInput)
		}
		input, ok := cache[preds[0]]
		if !ok || input == nil {
			return nil, fmt.Errorf("sink node %s: %w: no result for %s", node.ID, ErrMissingInput, preds[0])
		}
		if err := m.data.WriteTable(ctx, d.DataSourceID, input, d.Mode()); err != nil {
			return nil, fmt.Errorf("sink node %s: %w", node.ID, err)
		}
		// the input table passes through unchanged so downstream nodes can
		// keep consuming it
		return input, nil

	case PipelineRefData:
		preds := g.Predecessors(node.ID)
		if len(preds) == 0 {
			return nil, fmt.Errorf("pipeline node %s: %w", node.ID, ErrMissingInput)
		}
		input, ok := cache[preds[0]]
		if !ok || input == nil {
			return nil, fmt.Errorf("pipeline node %s: %w: no result for %s", node.ID, ErrMissingInput, preds[0])
		}
		out, err := m.runChild(ctx, rc, d.PipelineID, input)
		if err != nil {
			return nil, fmt.Errorf("pipeline node %s: %w", node.ID, err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("node %s: unknown node type %s", node.ID, node.Type)
	}
}

// runChild executes a referenced sub-pipeline with the parent's table
// injected. The injection target is the first source-type node in the
// child's topological order that has no predecessors; its result cache is
// seeded with the injected table, so that source's datasource is never
// loaded.
func (m *Manager) runChild(ctx context.Context, rc *runContext, pipelineID string, injected *tabular.Table) (*tabular.Table, error) {
	if !rc.enter(pipelineID) {
		return nil, fmt.Errorf("sub-pipeline %s already active in this run, reference cycle", pipelineID)
	}
	defer rc.leave(pipelineID)

	child, err := m.pipelines.GetPipeline(pipelineID)
	if err != nil {
		return nil, err
	}
	g, err := Build(child.Nodes, child.Edges)
	if err != nil {
		return nil, err
	}

	var target string
	for _, id := range g.Order() {
		node, _ := g.Node(id)
		if node.Type == NodeSource && len(g.Predecessors(id)) == 0 {
			target = id
			break
		}
	}
	if target == "" {
		return nil, fmt.Errorf("pipeline %s: %w", pipelineID, ErrNoInjectionPoint)
	}

	return m.runGraph(ctx, rc, child, map[string]*tabular.Table{target: injected})
}

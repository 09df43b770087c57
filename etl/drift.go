package etl

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/oarkflow/xid/wuid"

	"github.com/oarkflow/pipeline/pkg/tabular"
)

// guardDrift compares a transform's recorded input schemas against the live
// ones and swaps in repaired code when they diverge. It never fails the run
// itself: repair errors fall back to the original code, which then stands
// or falls in the sandbox, and persistence problems are logged and
// swallowed. Transforms without a recorded schema are exempt.
func (m *Manager) guardDrift(ctx context.Context, rc *runContext, p Pipeline, node Node, d TransformData, inputs map[string]*tabular.Table) string {
	if len(d.SourceSchema) == 0 {
		return d.GeneratedCode
	}

	live := make(map[string]map[string]string, len(inputs))
	for name, table := range inputs {
		live[name] = table.Schema()
	}
	if equalSchemaSets(d.SourceSchema, live) {
		return d.GeneratedCode
	}

	diff := schemaDiff(d.SourceSchema, live)
	m.logger.Warn().
		Str("pipeline", p.ID).
		Str("node", node.ID).
		Str("drift", diff).
		Msg("input schema drift detected")

	if m.generator == nil {
		m.logger.Warn().
			Str("node", node.ID).
			Msg("no code generator configured, running original code against drifted schemas")
		return d.GeneratedCode
	}

	healed, err := m.generator.Repair(ctx, d.GeneratedCode, d.SourceSchema, live)
	if err != nil {
		m.logger.Warn().
			Str("pipeline", p.ID).
			Str("node", node.ID).
			Str("drift", diff).
			Err(err).
			Msg("code repair failed, falling back to original code")
		return d.GeneratedCode
	}

	m.persistHeal(rc, p, node.ID, d, healed, live)
	return healed
}

// persistHeal writes healed code and the new schema snapshot back onto the
// stored pipeline and appends a HealEvent. Neither write may fail the run;
// the healed code keeps executing from memory either way.
func (m *Manager) persistHeal(rc *runContext, p Pipeline, nodeID string, d TransformData, healed string, live map[string]map[string]string) {
	updated := p
	updated.Nodes = make([]Node, len(p.Nodes))
	copy(updated.Nodes, p.Nodes)
	for i, node := range updated.Nodes {
		if node.ID == nodeID {
			data := d
			data.GeneratedCode = healed
			data.SourceSchema = live
			updated.Nodes[i].Data = data
			break
		}
	}
	updated.UpdatedAt = time.Now()

	persisted := true
	if err := m.pipelines.UpdatePipeline(updated); err != nil {
		persisted = false
		m.logger.Error().
			Str("pipeline", p.ID).
			Str("node", nodeID).
			Err(err).
			Msg("failed to persist healed code")
	}

	event := HealEvent{
		ID:          wuid.New().String(),
		PipelineID:  p.ID,
		NodeID:      nodeID,
		ExecutionID: rc.executionID,
		OldSchema:   d.SourceSchema,
		NewSchema:   live,
		OldCode:     d.GeneratedCode,
		NewCode:     healed,
		Persisted:   persisted,
		CreatedAt:   time.Now(),
	}
	if err := m.heals.AddHealEvent(event); err != nil {
		m.logger.Error().
			Str("pipeline", p.ID).
			Str("node", nodeID).
			Err(err).
			Msg("failed to record heal event")
	}

	rc.publish(EventDriftHealed, map[string]any{
		"pipeline":  p.ID,
		"node":      nodeID,
		"persisted": persisted,
	})
}

// equalSchemaSets reports order-independent equality of two multi-table
// schema snapshots.
func equalSchemaSets(a, b map[string]map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for name, schema := range a {
		other, ok := b[name]
		if !ok || !tabular.EqualSchemas(schema, other) {
			return false
		}
	}
	return true
}

// schemaDiff renders a compact per-table summary of added, removed, and
// retyped columns for drift logging.
func schemaDiff(old, live map[string]map[string]string) string {
	names := make(map[string]bool)
	for name := range old {
		names[name] = true
	}
	for name := range live {
		names[name] = true
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	var parts []string
	for _, name := range sorted {
		o, hasOld := old[name]
		l, hasLive := live[name]
		switch {
		case !hasOld:
			parts = append(parts, name+": new table")
			continue
		case !hasLive:
			parts = append(parts, name+": table gone")
			continue
		}

		cols := make(map[string]bool)
		for col := range o {
			cols[col] = true
		}
		for col := range l {
			cols[col] = true
		}
		colNames := make([]string, 0, len(cols))
		for col := range cols {
			colNames = append(colNames, col)
		}
		sort.Strings(colNames)

		var changes []string
		for _, col := range colNames {
			ov, inOld := o[col]
			lv, inLive := l[col]
			switch {
			case !inOld:
				changes = append(changes, "+"+col)
			case !inLive:
				changes = append(changes, "-"+col)
			case ov != lv:
				changes = append(changes, col+" "+ov+" to "+lv)
			}
		}
		if len(changes) > 0 {
			parts = append(parts, name+": "+strings.Join(changes, ", "))
		}
	}
	return strings.Join(parts, "; ")
}

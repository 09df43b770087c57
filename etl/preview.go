package etl

import (
	"context"
	"fmt"
	"strings"

	"github.com/oarkflow/pipeline/pkg/contracts"
	"github.com/oarkflow/pipeline/pkg/sandbox"
	"github.com/oarkflow/pipeline/pkg/tabular"
)

// DefaultPreviewLimit bounds preview output when the caller gives no limit.
const DefaultPreviewLimit = 1000

// PreviewSource names one input table for a transformation preview.
type PreviewSource struct {
	DataSourceID    string   `json:"datasourceId"`
	SelectedColumns []string `json:"selectedColumns,omitempty"`
	TableName       string   `json:"tableName,omitempty"`
}

type PreviewRequest struct {
	Sources   []PreviewSource `json:"sources"`
	Prompt    string          `json:"prompt"`
	Limit     int             `json:"limit,omitempty"`
	ModelHint string          `json:"modelHint,omitempty"`
}

// PreviewResult carries the bounded output of a dry run plus the artifacts
// needed to save the transform as a node afterwards.
type PreviewResult struct {
	Columns       []string                     `json:"columns"`
	Rows          []tabular.Row                `json:"rows"`
	RowCount      int                          `json:"rowCount"`
	GeneratedCode string                       `json:"generatedCode"`
	SourceSchemas map[string]map[string]string `json:"sourceSchemas"`
}

// PreviewTransformation loads the named sources in full, synthesizes
// transform code for the prompt against their live schemas, runs it in the
// sandbox, and returns at most limit rows of the result. Nothing is
// persisted and no Execution is recorded.
func (m *Manager) PreviewTransformation(ctx context.Context, req PreviewRequest) (PreviewResult, error) {
	if len(req.Sources) == 0 {
		return PreviewResult{}, fmt.Errorf("preview requires at least one source")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return PreviewResult{}, fmt.Errorf("preview requires a prompt")
	}
	if m.data == nil {
		return PreviewResult{}, fmt.Errorf("no data plane configured")
	}
	if m.generator == nil {
		return PreviewResult{}, fmt.Errorf("no code generator configured")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPreviewLimit
	}

	inputs := make(map[string]*tabular.Table, len(req.Sources))
	schemas := make(map[string]map[string]string, len(req.Sources))
	for i, src := range req.Sources {
		name := src.TableName
		if name == "" {
			name = fmt.Sprintf("table_%d", i+1)
		}
		var opts []contracts.Option
		if len(src.SelectedColumns) > 0 {
			opts = append(opts, contracts.WithColumns(src.SelectedColumns...))
		}
		table, err := m.data.LoadTable(ctx, src.DataSourceID, opts...)
		if err != nil {
			return PreviewResult{}, fmt.Errorf("failed to load source %s: %w", name, err)
		}
		inputs[name] = table
		schemas[name] = table.Schema()
	}

	code, err := m.generator.Generate(ctx, req.Prompt, schemas, req.ModelHint)
	if err != nil {
		return PreviewResult{}, err
	}

	out, err := sandbox.Run(code, m.sandboxEngine(), inputs)
	if err != nil {
		return PreviewResult{}, err
	}

	bounded := out.Head(limit)
	return PreviewResult{
		Columns:       out.Columns(),
		Rows:          bounded.Rows,
		RowCount:      bounded.Len(),
		GeneratedCode: code,
		SourceSchemas: schemas,
	}, nil
}

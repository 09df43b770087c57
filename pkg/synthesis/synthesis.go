// Package synthesis turns natural-language transformation prompts into
// transform scripts by calling an OpenAI-compatible chat-completions
// endpoint. It owns prompt construction and response cleanup only; whether
// the generated code actually defines a usable transform is decided by the
// sandbox at execution time.
package synthesis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/oarkflow/json"
	"github.com/oarkflow/log"
)

var (
	// ErrCodeGeneration marks a failed Generate call. Callers treat it as
	// fatal: there is no code to fall back to.
	ErrCodeGeneration = errors.New("code generation failed")

	// ErrCodeRepair marks a failed Repair call. The drift guard treats it
	// as non-fatal and keeps the original code.
	ErrCodeRepair = errors.New("code repair failed")
)

// Schemas maps table name to column name to declared type.
type Schemas = map[string]map[string]string

// Generator produces and adapts transform scripts.
type Generator interface {
	Generate(ctx context.Context, prompt string, schemas Schemas, modelHint string) (string, error)
	Repair(ctx context.Context, code string, oldSchemas, newSchemas Schemas) (string, error)
}

type Config struct {
	BaseURL     string  `json:"base_url"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Timeout     string  `json:"timeout"`
}

const (
	defaultBaseURL     = "https://api.openai.com/v1"
	defaultModel       = "gpt-4o"
	defaultTemperature = 0.1
)

// Client talks to a chat-completions endpoint. Any server speaking the
// OpenAI wire format works, which keeps self-hosted gateways in play.
type Client struct {
	cfg    Config
	client *http.Client
	logger *log.Logger
}

func New(cfg Config, logger *log.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if logger == nil {
		logger = &log.DefaultLogger
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: parseDuration(cfg.Timeout)},
		logger: logger,
	}
}

func parseDuration(s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return 60 * time.Second
}

const scriptContract = `You are an expert data engineer writing transform scripts.
Write a single function named transform and bind it with let:

let transform = fn(engine, inputs) {
    let orders = inputs["orders"]
    return filter(orders, "amount > 100")
}

'inputs' is a hash of table name to table. The function must return a table.

Available builtins (tables are immutable; every call returns a new table):
columns(t), rows(t), select(t, col...), drop(t, col...), rename(t, old, new),
filter(t, expr), derive(t, name, expr), limit(t, n), sort(t, col, desc?),
join(left, right, on, onRight?, how?), groupBy(t, keys, aggs), union(a, b),
distinct(t, col...), len(x), keys(h), str(x), num(x), print(x).

filter and derive take an expression string evaluated once per row with the
row's columns as identifiers, for example filter(t, "amount > 100 && status == 'paid'").
groupBy aggregates are a hash like {"total": "sum(amount)", "n": "count()"};
supported functions are count, sum, avg, min, max.
join modes are "inner" (default) and "left".
engine.table(rows) builds a table from an array of row hashes.

Rules:
1. Return ONLY the script. No markdown fences, no explanations.
2. Use only the builtins listed above.
3. The transform function must return a table.`

// Generate builds a transform script for prompt against the given input
// schemas. modelHint overrides the configured model for this call only.
func (c *Client) Generate(ctx context.Context, prompt string, schemas Schemas, modelHint string) (string, error) {
	user := fmt.Sprintf("Available Input Schemas:\n%s\n\nUser Request: %s\n\nWrite the transform function.",
		formatSchemas(schemas), prompt)

	code, err := c.complete(ctx, modelHint, scriptContract, user)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCodeGeneration, err)
	}
	return code, nil
}

// Repair asks for an adaptation of code from oldSchemas to newSchemas,
// preserving the transformation's intent.
func (c *Client) Repair(ctx context.Context, code string, oldSchemas, newSchemas Schemas) (string, error) {
	user := fmt.Sprintf(`The input schemas for an existing transform changed. Rewrite the script so it
works against the new schemas while preserving its intent.

Old Schemas:
%s

New Schemas:
%s

Current Script:
%s

Write the updated transform function.`, formatSchemas(oldSchemas), formatSchemas(newSchemas), code)

	repaired, err := c.complete(ctx, "", scriptContract, user)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCodeRepair, err)
	}
	return repaired, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) complete(ctx context.Context, modelHint, system, user string) (string, error) {
	model := c.cfg.Model
	if modelHint != "" {
		model = modelHint
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Temperature: c.cfg.Temperature,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("model endpoint returned status %d: %s", resp.StatusCode, truncate(string(payload), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("decode model response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("model endpoint error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}

	c.logger.Debug().
		Str("model", model).
		Dur("elapsed", time.Since(start)).
		Msg("chat completion finished")

	code := StripFences(parsed.Choices[0].Message.Content)
	if code == "" {
		return "", errors.New("model returned empty code")
	}
	return code, nil
}

// formatSchemas renders the schema listing fed to the model. Tables and
// columns are sorted so identical schemas always produce identical prompts.
func formatSchemas(schemas Schemas) string {
	if len(schemas) == 0 {
		return "(none)"
	}
	tables := make([]string, 0, len(schemas))
	for name := range schemas {
		tables = append(tables, name)
	}
	sort.Strings(tables)

	var sb strings.Builder
	for _, table := range tables {
		fmt.Fprintf(&sb, "Table '%s':\n", table)
		cols := make([]string, 0, len(schemas[table]))
		for col := range schemas[table] {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		for _, col := range cols {
			fmt.Fprintf(&sb, "  - %s: %s\n", col, schemas[table][col])
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// StripFences removes a leading and trailing markdown code fence, with or
// without a language tag. Models add them despite instructions.
func StripFences(s string) string {
	out := strings.TrimSpace(s)
	if !strings.HasPrefix(out, "```") {
		return out
	}
	if idx := strings.Index(out, "\n"); idx >= 0 {
		out = out[idx+1:]
	} else {
		out = strings.TrimPrefix(out, "```")
	}
	out = strings.TrimSpace(out)
	if strings.HasSuffix(out, "```") {
		out = strings.TrimSpace(strings.TrimSuffix(out, "```"))
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Generator = (*Client)(nil)

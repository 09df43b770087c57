package webadapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/oarkflow/dipper"
	"github.com/oarkflow/json"

	"github.com/oarkflow/pipeline/pkg/contracts"
	"github.com/oarkflow/pipeline/pkg/tabular"
)

// FieldMapping extracts one column from a scraped row. Target selects what
// to read from the matched element: "text" (default), "html", or an
// attribute name such as "href".
type FieldMapping struct {
	Field    string `json:"field"`
	Selector string `json:"selector"`
	Target   string `json:"target,omitempty"`
}

// Config describes a web source. With RowSelector set, pages are scraped
// as HTML and each match becomes a row. Without it, responses are decoded
// as JSON and DataPath picks the record array out of the document. Web
// sources are read-only.
type Config struct {
	BaseURL       string         `json:"base_url"`
	RowSelector   string         `json:"row_selector,omitempty"`
	FieldMappings []FieldMapping `json:"field_mappings,omitempty"`
	DataPath      string         `json:"data_path,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	Timeout       string         `json:"timeout,omitempty"`
}

func (cfg Config) Validate() error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("web config: base_url must be provided")
	}
	return nil
}

type Adapter struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, contracts.WrapErr(contracts.KindWeb, contracts.OpConnect, err)
	}
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: parseDuration(cfg.Timeout)},
	}, nil
}

func parseDuration(d string) time.Duration {
	dur, err := time.ParseDuration(d)
	if err != nil {
		return 10 * time.Second
	}
	return dur
}

func (a *Adapter) url(target string) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	if target == "" {
		return a.cfg.BaseURL
	}
	return strings.TrimSuffix(a.cfg.BaseURL, "/") + "/" + strings.TrimPrefix(target, "/")
}

func (a *Adapter) fetch(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", a.url(target), nil)
	if err != nil {
		return nil, err
	}
	if a.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", a.cfg.UserAgent)
	}
	return a.client.Do(req)
}

func (a *Adapter) Load(ctx context.Context, target string, opts ...contracts.Option) (*tabular.Table, error) {
	opt := &contracts.LoadOption{}
	for _, op := range opts {
		op(opt)
	}
	resp, err := a.fetch(ctx, target)
	if err != nil {
		return nil, contracts.Errorf(contracts.KindWeb, contracts.OpRead, "fetch %s: %v", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, contracts.Errorf(contracts.KindWeb, contracts.OpRead, "fetch %s: status %d", target, resp.StatusCode)
	}

	var table *tabular.Table
	if a.cfg.RowSelector != "" {
		table, err = a.scrape(resp.Body)
	} else {
		table, err = a.decodeJSON(resp.Body)
	}
	if err != nil {
		return nil, contracts.WrapErr(contracts.KindWeb, contracts.OpRead, err)
	}
	if len(opt.Columns) > 0 {
		table, err = table.Project(opt.Columns)
		if err != nil {
			return nil, contracts.WrapErr(contracts.KindWeb, contracts.OpRead, err)
		}
	}
	if opt.Limit > 0 {
		table = table.Head(opt.Limit)
	}
	return table, nil
}

func (a *Adapter) scrape(body io.Reader) (*tabular.Table, error) {
	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, err
	}
	var rows []tabular.Row
	doc.Find(a.cfg.RowSelector).Each(func(i int, row *goquery.Selection) {
		if len(a.cfg.FieldMappings) == 0 {
			rows = append(rows, tabular.Row{"text": strings.TrimSpace(row.Text())})
			return
		}
		record := make(tabular.Row, len(a.cfg.FieldMappings))
		for _, mapping := range a.cfg.FieldMappings {
			elem := row.Find(mapping.Selector)
			var value string
			switch mapping.Target {
			case "", "text":
				value = strings.TrimSpace(elem.Text())
			case "html":
				value, _ = elem.Html()
			default:
				value = elem.AttrOr(mapping.Target, "")
			}
			record[mapping.Field] = tabular.InferValue(value)
		}
		rows = append(rows, record)
	})
	columns := make([]string, 0, len(a.cfg.FieldMappings))
	for _, mapping := range a.cfg.FieldMappings {
		columns = append(columns, mapping.Field)
	}
	if len(columns) == 0 {
		columns = []string{"text"}
	}
	return tabular.FromOrderedRows(columns, rows), nil
}

func (a *Adapter) decodeJSON(body io.Reader) (*tabular.Table, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	var rawData any
	if err := json.Unmarshal(data, &rawData); err != nil {
		return nil, err
	}
	if a.cfg.DataPath != "" {
		rawData, err = dipper.Get(rawData, a.cfg.DataPath)
		if err != nil {
			return nil, fmt.Errorf("data path %s: %w", a.cfg.DataPath, err)
		}
	}
	slice, ok := rawData.([]any)
	if !ok {
		return nil, fmt.Errorf("response is not an array of records")
	}
	var rows []tabular.Row
	for _, item := range slice {
		if rec, ok := item.(map[string]any); ok {
			rows = append(rows, rec)
		}
	}
	return tabular.FromRows(rows), nil
}

func (a *Adapter) Write(ctx context.Context, table *tabular.Table, target string, mode contracts.WriteMode) error {
	return contracts.Errorf(contracts.KindWeb, contracts.OpWrite, "web sources are read-only")
}

func (a *Adapter) Test(ctx context.Context, target string) (bool, string) {
	resp, err := a.fetch(ctx, target)
	if err != nil {
		return false, fmt.Sprintf("fetch failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, fmt.Sprintf("status %d", resp.StatusCode)
	}
	return true, fmt.Sprintf("endpoint responded with status %d", resp.StatusCode)
}

func (a *Adapter) Close() error {
	return nil
}

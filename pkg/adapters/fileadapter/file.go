package fileadapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/oarkflow/pipeline/pkg/contracts"
	"github.com/oarkflow/pipeline/pkg/tabular"
)

// Config points at a directory of table files. Targets are paths relative
// to BaseDir; the extension picks the serialization format.
type Config struct {
	BaseDir string `json:"base_dir"`
}

func (cfg Config) Validate() error {
	if cfg.BaseDir == "" {
		return fmt.Errorf("file config: base_dir must be provided")
	}
	return nil
}

type Adapter struct {
	baseDir string
}

func New(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, contracts.WrapErr(contracts.KindFile, contracts.OpConnect, err)
	}
	return &Adapter{baseDir: cfg.BaseDir}, nil
}

func (a *Adapter) path(target string) (string, error) {
	full := filepath.Clean(filepath.Join(a.baseDir, target))
	base := filepath.Clean(a.baseDir)
	if full != base && !strings.HasPrefix(full, base+string(filepath.Separator)) {
		return "", fmt.Errorf("target %s escapes base directory", target)
	}
	return full, nil
}

func (a *Adapter) Load(ctx context.Context, target string, opts ...contracts.Option) (*tabular.Table, error) {
	opt := &contracts.LoadOption{}
	for _, op := range opts {
		op(opt)
	}
	path, err := a.path(target)
	if err != nil {
		return nil, contracts.WrapErr(contracts.KindFile, contracts.OpRead, err)
	}
	format := tabular.FormatForPath(path)
	if format == "" {
		return nil, contracts.Errorf(contracts.KindFile, contracts.OpRead, "unsupported file extension: %s", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, contracts.Errorf(contracts.KindFile, contracts.OpRead, "read %s: %v", target, err)
	}
	table, err := tabular.Decode(data, format)
	if err != nil {
		return nil, contracts.WrapErr(contracts.KindFile, contracts.OpRead, err)
	}
	if len(opt.Columns) > 0 {
		table, err = table.Project(opt.Columns)
		if err != nil {
			return nil, contracts.WrapErr(contracts.KindFile, contracts.OpRead, err)
		}
	}
	if opt.Limit > 0 {
		table = table.Head(opt.Limit)
	}
	return table, nil
}

func (a *Adapter) Write(ctx context.Context, table *tabular.Table, target string, mode contracts.WriteMode) error {
	path, err := a.path(target)
	if err != nil {
		return contracts.WrapErr(contracts.KindFile, contracts.OpWrite, err)
	}
	format := tabular.FormatForPath(path)
	if format == "" {
		return contracts.Errorf(contracts.KindFile, contracts.OpWrite, "unsupported file extension: %s", filepath.Ext(path))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return contracts.WrapErr(contracts.KindFile, contracts.OpWrite, err)
	}
	if mode == contracts.WriteOverwrite {
		data, err := tabular.Encode(table, format)
		if err != nil {
			return contracts.WrapErr(contracts.KindFile, contracts.OpWrite, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return contracts.Errorf(contracts.KindFile, contracts.OpWrite, "write %s: %v", target, err)
		}
		return nil
	}
	if err := a.appendRows(path, format, table); err != nil {
		return contracts.Errorf(contracts.KindFile, contracts.OpWrite, "append %s: %v", target, err)
	}
	return nil
}

// appendRows holds a file lock across the append so concurrent writers do
// not interleave. Line-oriented formats append in place; CSV and JSON are
// rewritten so the header and array framing stay valid.
func (a *Adapter) appendRows(path, format string, table *tabular.Table) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return err
	}
	defer func() {
		_ = lock.Unlock()
	}()

	switch format {
	case tabular.FormatNDJSON, tabular.FormatText:
		data, err := tabular.Encode(table, format)
		if err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	default:
		merged := table
		if existing, err := os.ReadFile(path); err == nil && len(existing) > 0 {
			prev, err := tabular.Decode(existing, format)
			if err != nil {
				return err
			}
			rows := append([]tabular.Row{}, prev.Rows...)
			rows = append(rows, table.Rows...)
			merged = tabular.FromRows(rows)
		}
		data, err := tabular.Encode(merged, format)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	}
}

func (a *Adapter) Test(ctx context.Context, target string) (bool, string) {
	if _, err := os.Stat(a.baseDir); err != nil {
		return false, fmt.Sprintf("base directory not reachable: %v", err)
	}
	if target != "" {
		path, err := a.path(target)
		if err != nil {
			return false, err.Error()
		}
		if _, err := os.Stat(path); err != nil {
			return false, fmt.Sprintf("file %s not reachable: %v", target, err)
		}
	}
	return true, "directory is reachable"
}

func (a *Adapter) Close() error {
	return nil
}

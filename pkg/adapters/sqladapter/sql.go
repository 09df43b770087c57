package sqladapter

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/oarkflow/log"
	"github.com/oarkflow/squealx"
	"github.com/oarkflow/squealx/connection"
	"github.com/oarkflow/transaction"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/oarkflow/pipeline/pkg/contracts"
	"github.com/oarkflow/pipeline/pkg/tabular"
)

// Config describes one relational or warehouse endpoint. Driver is derived
// from the service kind when empty.
type Config struct {
	Driver       string `json:"driver,omitempty"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Database     string `json:"database"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	SSLMode      string `json:"ssl_mode,omitempty"`
	MaxOpenConns int    `json:"max_open_conns,omitempty"`
	MaxIdleConns int    `json:"max_idle_conns,omitempty"`
}

func (cfg Config) Validate() error {
	if cfg.Host == "" || cfg.Database == "" {
		return fmt.Errorf("sql config: host and database must be provided")
	}
	return nil
}

// Adapter reads and writes tables over a pooled squealx connection.
type Adapter struct {
	db     *squealx.DB
	kind   contracts.Kind
	driver string
	logger *log.Logger
}

// DriverFor resolves the database/sql driver name for a service kind.
func DriverFor(kind contracts.Kind, cfg Config) string {
	if cfg.Driver != "" {
		return cfg.Driver
	}
	if kind == contracts.KindMySQL {
		return "mysql"
	}
	// postgres and warehouse kinds both speak the postgres protocol
	return "postgres"
}

func New(kind contracts.Kind, cfg Config, logger *log.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, contracts.WrapErr(kind, contracts.OpConnect, err)
	}
	driver := DriverFor(kind, cfg)
	db, _, err := connection.FromConfig(squealx.Config{
		Driver:      driver,
		Host:        cfg.Host,
		Port:        cfg.Port,
		Username:    cfg.Username,
		Password:    cfg.Password,
		Database:    cfg.Database,
		MaxIdleCons: cfg.MaxIdleConns,
		MaxOpenCons: cfg.MaxOpenConns,
	})
	if err != nil {
		return nil, contracts.Errorf(kind, contracts.OpConnect, "open %s database %s: %v", driver, cfg.Database, err)
	}
	return &Adapter{db: db, kind: kind, driver: driver, logger: logger}, nil
}

func (a *Adapter) Load(ctx context.Context, target string, opts ...contracts.Option) (*tabular.Table, error) {
	opt := &contracts.LoadOption{}
	for _, op := range opts {
		op(opt)
	}
	projection := "*"
	if len(opt.Columns) > 0 {
		projection = strings.Join(opt.Columns, ", ")
	}
	query := fmt.Sprintf("SELECT %s FROM %s", projection, target)
	if opt.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opt.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, contracts.Errorf(a.kind, contracts.OpRead, "query %s: %v", target, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, contracts.WrapErr(a.kind, contracts.OpRead, err)
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, contracts.WrapErr(a.kind, contracts.OpRead, err)
	}

	fields := make([]tabular.Field, len(cols))
	for i, name := range cols {
		nullable, known := colTypes[i].Nullable()
		fields[i] = tabular.Field{
			Name:     name,
			Type:     canonicalType(colTypes[i].DatabaseTypeName()),
			Nullable: nullable || !known,
		}
	}

	var out []tabular.Row
	for rows.Next() {
		columns := make([]any, len(cols))
		pointers := make([]any, len(cols))
		for i := range columns {
			pointers[i] = &columns[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, contracts.WrapErr(a.kind, contracts.OpRead, err)
		}
		rec := make(tabular.Row, len(cols))
		for i, colName := range cols {
			var val any
			if b, ok := columns[i].([]byte); ok {
				if b == nil {
					val = nil
				} else {
					dbType := colTypes[i].DatabaseTypeName()
					_, scale, _ := colTypes[i].DecimalSize()
					switch dbType {
					case "INT", "INTEGER", "BIGINT", "TINYINT", "SMALLINT", "MEDIUMINT", "INT2", "INT4", "INT8":
						if num, err := strconv.ParseInt(string(b), 10, 64); err == nil {
							val = num
						} else {
							val = string(b)
						}
					case "NUMERIC", "DECIMAL":
						if scale == 0 {
							if num, err := strconv.ParseInt(string(b), 10, 64); err == nil {
								val = num
								break
							}
						}
						if num, err := strconv.ParseFloat(string(b), 64); err == nil {
							val = num
						} else {
							val = string(b)
						}
					case "FLOAT", "DOUBLE", "REAL", "FLOAT4", "FLOAT8":
						if num, err := strconv.ParseFloat(string(b), 64); err == nil {
							val = num
						} else {
							val = string(b)
						}
					default:
						val = string(b)
					}
				}
			} else {
				val = columns[i]
			}
			rec[colName] = val
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, contracts.WrapErr(a.kind, contracts.OpRead, err)
	}
	return tabular.New(fields, out), nil
}

func (a *Adapter) Write(ctx context.Context, table *tabular.Table, target string, mode contracts.WriteMode) error {
	if table == nil {
		return contracts.Errorf(a.kind, contracts.OpWrite, "nil table for %s", target)
	}
	exists, err := a.tableExists(target)
	if err != nil {
		return contracts.WrapErr(a.kind, contracts.OpWrite, err)
	}
	if mode == contracts.WriteOverwrite && exists {
		if err := a.truncate(ctx, target); err != nil {
			return contracts.WrapErr(a.kind, contracts.OpWrite, err)
		}
	}
	if !exists {
		if err := a.createTable(ctx, target, table.Fields); err != nil {
			return contracts.WrapErr(a.kind, contracts.OpWrite, err)
		}
	}
	if table.Len() == 0 {
		return nil
	}

	columns := table.Columns()
	schema := table.Schema()
	batch := make([]map[string]any, 0, table.Len())
	for _, row := range table.Rows {
		rec := make(tabular.Row, len(columns))
		for _, col := range columns {
			rec[col] = row[col]
		}
		normalized, err := tabular.NormalizeRow(rec, schema)
		if err != nil {
			return contracts.WrapErr(a.kind, contracts.OpWrite, err)
		}
		batch = append(batch, normalized)
	}

	placeholders := make([]string, len(columns))
	for i, col := range columns {
		placeholders[i] = ":" + col
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		target, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	err = transaction.RunInTransaction(ctx, func(tx *transaction.Transaction) error {
		_, execErr := a.db.NamedExec(query, batch)
		return execErr
	})
	if err != nil {
		return contracts.Errorf(a.kind, contracts.OpWrite, "insert into %s: %v", target, err)
	}
	if a.logger != nil {
		a.logger.Debug().Str("table", target).Int("rows", len(batch)).Msg("sql write complete")
	}
	return nil
}

func (a *Adapter) Test(ctx context.Context, target string) (bool, string) {
	if target == "" {
		var one int
		if err := a.db.QueryRow("SELECT 1").Scan(&one); err != nil {
			return false, fmt.Sprintf("connection failed: %v", err)
		}
		return true, "connection successful"
	}
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 1", target))
	if err != nil {
		return false, fmt.Sprintf("read %s failed: %v", target, err)
	}
	rows.Close()
	return true, fmt.Sprintf("table %s is readable", target)
}

func (a *Adapter) Close() error {
	return a.db.Close()
}

func (a *Adapter) tableExists(table string) (bool, error) {
	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM information_schema.tables WHERE table_name = '%s'", table)
	if err := a.db.QueryRow(query).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (a *Adapter) truncate(ctx context.Context, table string) error {
	_, err := a.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", table))
	return err
}

func (a *Adapter) createTable(ctx context.Context, table string, fields []tabular.Field) error {
	if len(fields) == 0 {
		return fmt.Errorf("cannot create table %s without columns", table)
	}
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = fmt.Sprintf("%s %s", f.Name, sqlType(f.Type, a.driver))
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, strings.Join(columns, ", "))
	_, err := a.db.ExecContext(ctx, stmt)
	return err
}

var mysqlTypes = map[string]string{
	"int":      "BIGINT",
	"float":    "DOUBLE",
	"bool":     "TINYINT(1)",
	"string":   "TEXT",
	"datetime": "DATETIME",
}

var postgresTypes = map[string]string{
	"int":      "BIGINT",
	"float":    "DOUBLE PRECISION",
	"bool":     "BOOLEAN",
	"string":   "TEXT",
	"datetime": "TIMESTAMP",
}

func sqlType(canonical, driver string) string {
	var m map[string]string
	if driver == "mysql" {
		m = mysqlTypes
	} else {
		m = postgresTypes
	}
	if t, ok := m[canonical]; ok {
		return t
	}
	return "TEXT"
}

func canonicalType(dbType string) string {
	switch strings.ToUpper(dbType) {
	case "INT", "INTEGER", "BIGINT", "TINYINT", "SMALLINT", "MEDIUMINT",
		"INT2", "INT4", "INT8", "SERIAL", "BIGSERIAL", "YEAR":
		return "int"
	case "FLOAT", "DOUBLE", "REAL", "DECIMAL", "NUMERIC", "FLOAT4", "FLOAT8",
		"DOUBLE PRECISION":
		return "float"
	case "BOOL", "BOOLEAN":
		return "bool"
	case "DATE", "DATETIME", "TIMESTAMP", "TIMESTAMPTZ", "TIME",
		"TIMESTAMP WITH TIME ZONE":
		return "datetime"
	default:
		return "string"
	}
}

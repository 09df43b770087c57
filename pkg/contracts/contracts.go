package contracts

import (
	"context"
	"errors"
	"fmt"

	"github.com/oarkflow/pipeline/pkg/tabular"
)

// Kind identifies a backend family a linked service can point at.
type Kind string

const (
	KindMySQL     Kind = "mysql"
	KindPostgres  Kind = "postgres"
	KindWarehouse Kind = "warehouse"
	KindS3        Kind = "s3"
	KindFile      Kind = "file"
	KindMongo     Kind = "mongodb"
	KindRabbitMQ  Kind = "rabbitmq"
	KindWeb       Kind = "web"
)

// WriteMode selects the backend's native write semantics.
type WriteMode string

const (
	WriteAppend    WriteMode = "append"
	WriteOverwrite WriteMode = "overwrite"
)

// LoadOption carries per-read settings.
type LoadOption struct {
	Columns []string
	Limit   int
}

// Option configures a single Load call.
type Option func(*LoadOption)

// WithColumns restricts a read to the given columns, in order.
func WithColumns(columns ...string) Option {
	return func(o *LoadOption) {
		o.Columns = columns
	}
}

// WithLimit bounds a read to at most n rows. Zero means unbounded.
func WithLimit(n int) Option {
	return func(o *LoadOption) {
		o.Limit = n
	}
}

// Connector is the uniform surface every backend adapter implements. A
// connector is constructed from one decrypted connection config and reads or
// writes targets relative to that config (a table name, an object key, a
// database.collection pair, a queue name, or a row selector depending on
// kind).
type Connector interface {
	Load(ctx context.Context, target string, opts ...Option) (*tabular.Table, error)
	Write(ctx context.Context, table *tabular.Table, target string, mode WriteMode) error
	Test(ctx context.Context, target string) (ok bool, message string)
	Close() error
}

// Op names the connector operation that failed.
type Op string

const (
	OpConnect Op = "connect"
	OpRead    Op = "read"
	OpWrite   Op = "write"
)

// ErrUnsupportedKind is returned when no adapter exists for a service type.
var ErrUnsupportedKind = errors.New("unsupported backend kind")

// ConnectorError wraps a backend failure with its kind and operation. The
// wrapped cause must never carry credential material.
type ConnectorError struct {
	Kind Kind
	Op   Op
	Err  error
}

func (e *ConnectorError) Error() string {
	return fmt.Sprintf("connector %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ConnectorError) Unwrap() error {
	return e.Err
}

// Errorf builds a ConnectorError from a format string.
func Errorf(kind Kind, op Op, format string, args ...any) error {
	return &ConnectorError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WrapErr tags err with kind and op unless it already is a ConnectorError.
func WrapErr(kind Kind, op Op, err error) error {
	if err == nil {
		return nil
	}
	var ce *ConnectorError
	if errors.As(err, &ce) {
		return err
	}
	return &ConnectorError{Kind: kind, Op: op, Err: err}
}

package objectadapter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/oarkflow/pipeline/pkg/contracts"
	"github.com/oarkflow/pipeline/pkg/tabular"
)

// Config describes an S3-compatible object store. Objects are read and
// written whole; the serialization format follows the object key extension
// and falls back to NDJSON.
type Config struct {
	Endpoint  string `json:"endpoint"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	UseSSL    bool   `json:"use_ssl,omitempty"`
}

func (cfg Config) Validate() error {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return fmt.Errorf("object store config: endpoint and bucket must be provided")
	}
	return nil
}

type Adapter struct {
	client *minio.Client
	bucket string
	prefix string
}

func New(cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, contracts.WrapErr(contracts.KindS3, contracts.OpConnect, err)
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, contracts.Errorf(contracts.KindS3, contracts.OpConnect, "new client for %s: %v", cfg.Endpoint, err)
	}
	return &Adapter{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *Adapter) key(target string) string {
	if a.prefix == "" {
		return target
	}
	return strings.TrimSuffix(a.prefix, "/") + "/" + strings.TrimPrefix(target, "/")
}

func (a *Adapter) Load(ctx context.Context, target string, opts ...contracts.Option) (*tabular.Table, error) {
	opt := &contracts.LoadOption{}
	for _, op := range opts {
		op(opt)
	}
	key := a.key(target)
	obj, err := a.client.GetObject(ctx, a.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, contracts.Errorf(contracts.KindS3, contracts.OpRead, "get %s/%s: %v", a.bucket, key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, contracts.Errorf(contracts.KindS3, contracts.OpRead, "read %s/%s: %v", a.bucket, key, err)
	}
	format := tabular.FormatForPath(key)
	if format == "" {
		format = tabular.FormatNDJSON
	}
	table, err := tabular.Decode(data, format)
	if err != nil {
		return nil, contracts.WrapErr(contracts.KindS3, contracts.OpRead, err)
	}
	if len(opt.Columns) > 0 {
		table, err = table.Project(opt.Columns)
		if err != nil {
			return nil, contracts.WrapErr(contracts.KindS3, contracts.OpRead, err)
		}
	}
	if opt.Limit > 0 {
		table = table.Head(opt.Limit)
	}
	return table, nil
}

func (a *Adapter) Write(ctx context.Context, table *tabular.Table, target string, mode contracts.WriteMode) error {
	key := a.key(target)
	format := tabular.FormatForPath(key)
	if format == "" {
		format = tabular.FormatNDJSON
	}
	if mode == contracts.WriteAppend {
		if existing, err := a.Load(ctx, target); err == nil && existing.Len() > 0 {
			merged := append([]tabular.Row{}, existing.Rows...)
			merged = append(merged, table.Rows...)
			table = tabular.FromRows(merged)
		}
	}
	data, err := tabular.Encode(table, format)
	if err != nil {
		return contracts.WrapErr(contracts.KindS3, contracts.OpWrite, err)
	}
	_, err = a.client.PutObject(
		ctx,
		a.bucket,
		key,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType(format)},
	)
	if err != nil {
		return contracts.Errorf(contracts.KindS3, contracts.OpWrite, "put %s/%s: %v", a.bucket, key, err)
	}
	return nil
}

func (a *Adapter) Test(ctx context.Context, target string) (bool, string) {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return false, fmt.Sprintf("bucket check failed: %v", err)
	}
	if !exists {
		return false, fmt.Sprintf("bucket %s does not exist", a.bucket)
	}
	if target != "" {
		if _, err := a.client.StatObject(ctx, a.bucket, a.key(target), minio.StatObjectOptions{}); err != nil {
			return false, fmt.Sprintf("object %s not reachable: %v", target, err)
		}
	}
	return true, fmt.Sprintf("bucket %s is reachable", a.bucket)
}

// Close is a no-op; the minio client holds no persistent connection.
func (a *Adapter) Close() error {
	return nil
}

func contentType(format string) string {
	switch format {
	case tabular.FormatCSV:
		return "text/csv"
	case tabular.FormatJSON:
		return "application/json"
	case tabular.FormatText:
		return "text/plain"
	default:
		return "application/x-ndjson"
	}
}

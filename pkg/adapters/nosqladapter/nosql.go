package nosqladapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/oarkflow/pipeline/pkg/contracts"
	"github.com/oarkflow/pipeline/pkg/tabular"
)

// Config describes a MongoDB deployment. Targets name a collection, either
// as "database.collection" or as a bare collection resolved against Database.
type Config struct {
	URI      string `json:"uri"`
	Database string `json:"database,omitempty"`
}

func (cfg Config) Validate() error {
	if cfg.URI == "" {
		return fmt.Errorf("mongodb config: uri must be provided")
	}
	return nil
}

type Adapter struct {
	client   *mongo.Client
	database string
}

func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, contracts.WrapErr(contracts.KindMongo, contracts.OpConnect, err)
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, contracts.Errorf(contracts.KindMongo, contracts.OpConnect, "connect: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, contracts.Errorf(contracts.KindMongo, contracts.OpConnect, "ping: %v", err)
	}
	return &Adapter{client: client, database: cfg.Database}, nil
}

func (a *Adapter) collection(target string) (*mongo.Collection, error) {
	db, coll := a.database, target
	if parts := strings.SplitN(target, ".", 2); len(parts) == 2 {
		db, coll = parts[0], parts[1]
	}
	if db == "" || coll == "" {
		return nil, fmt.Errorf("target must be 'database.collection', got %q", target)
	}
	return a.client.Database(db).Collection(coll), nil
}

func (a *Adapter) Load(ctx context.Context, target string, opts ...contracts.Option) (*tabular.Table, error) {
	opt := &contracts.LoadOption{}
	for _, op := range opts {
		op(opt)
	}
	coll, err := a.collection(target)
	if err != nil {
		return nil, contracts.WrapErr(contracts.KindMongo, contracts.OpRead, err)
	}
	findOpts := options.Find()
	if opt.Limit > 0 {
		findOpts.SetLimit(int64(opt.Limit))
	}
	cursor, err := coll.Find(ctx, struct{}{}, findOpts)
	if err != nil {
		return nil, contracts.Errorf(contracts.KindMongo, contracts.OpRead, "find %s: %v", target, err)
	}
	defer cursor.Close(ctx)
	var rows []tabular.Row
	for cursor.Next(ctx) {
		var rec tabular.Row
		if err := cursor.Decode(&rec); err != nil {
			return nil, contracts.WrapErr(contracts.KindMongo, contracts.OpRead, err)
		}
		rows = append(rows, rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, contracts.WrapErr(contracts.KindMongo, contracts.OpRead, err)
	}
	table := tabular.FromRows(rows)
	if len(opt.Columns) > 0 {
		table, err = table.Project(opt.Columns)
		if err != nil {
			return nil, contracts.WrapErr(contracts.KindMongo, contracts.OpRead, err)
		}
	}
	return table, nil
}

func (a *Adapter) Write(ctx context.Context, table *tabular.Table, target string, mode contracts.WriteMode) error {
	coll, err := a.collection(target)
	if err != nil {
		return contracts.WrapErr(contracts.KindMongo, contracts.OpWrite, err)
	}
	if mode == contracts.WriteOverwrite {
		if err := coll.Drop(ctx); err != nil {
			return contracts.Errorf(contracts.KindMongo, contracts.OpWrite, "drop %s: %v", target, err)
		}
	}
	if table == nil || table.Len() == 0 {
		return nil
	}
	docs := make([]any, 0, table.Len())
	for _, row := range table.Rows {
		docs = append(docs, row)
	}
	if _, err := coll.InsertMany(ctx, docs); err != nil {
		return contracts.Errorf(contracts.KindMongo, contracts.OpWrite, "insert into %s: %v", target, err)
	}
	return nil
}

func (a *Adapter) Test(ctx context.Context, target string) (bool, string) {
	if err := a.client.Ping(ctx, nil); err != nil {
		return false, fmt.Sprintf("ping failed: %v", err)
	}
	if target != "" {
		coll, err := a.collection(target)
		if err != nil {
			return false, err.Error()
		}
		cursor, err := coll.Find(ctx, struct{}{}, options.Find().SetLimit(1))
		if err != nil {
			return false, fmt.Sprintf("read %s failed: %v", target, err)
		}
		cursor.Close(ctx)
	}
	return true, "connection successful"
}

func (a *Adapter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return a.client.Disconnect(ctx)
}

package connections

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/oarkflow/errors"
	"github.com/oarkflow/log"
	"github.com/oarkflow/xid/wuid"

	"github.com/oarkflow/pipeline/pkg/adapters/fileadapter"
	"github.com/oarkflow/pipeline/pkg/adapters/mqadapter"
	"github.com/oarkflow/pipeline/pkg/adapters/nosqladapter"
	"github.com/oarkflow/pipeline/pkg/adapters/objectadapter"
	"github.com/oarkflow/pipeline/pkg/adapters/sqladapter"
	"github.com/oarkflow/pipeline/pkg/adapters/webadapter"
	"github.com/oarkflow/pipeline/pkg/contracts"
	"github.com/oarkflow/pipeline/pkg/tabular"
)

// Manager owns linked services and datasources, pools one connector per
// service, and is the only layer that touches raw credentials. Errors and
// messages leaving the manager have secret values scrubbed.
type Manager struct {
	services    ServiceStore
	sources     DataSourceStore
	logger      *log.Logger
	engine      *Engine
	connectors  map[string]contracts.Connector
	schemaCache *ristretto.Cache
	schemaTTL   time.Duration
	m           sync.Mutex
}

type Options func(*Manager)

func WithServiceStore(store ServiceStore) Options {
	return func(m *Manager) {
		m.services = store
	}
}

func WithDataSourceStore(store DataSourceStore) Options {
	return func(m *Manager) {
		m.sources = store
	}
}

func WithLogger(logger *log.Logger) Options {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithSchemaTTL(ttl time.Duration) Options {
	return func(m *Manager) {
		m.schemaTTL = ttl
	}
}

func New(opts ...Options) *Manager {
	m := &Manager{
		services:   NewInMemoryServiceStore(),
		sources:    NewInMemoryDataSourceStore(),
		logger:     &log.DefaultLogger,
		engine:     SharedEngine(),
		connectors: make(map[string]contracts.Connector),
		schemaTTL:  5 * time.Minute,
	}
	for _, opt := range opts {
		opt(m)
	}
	// schema cache is advisory; a nil cache just means every GetSchema
	// hits the backend
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err == nil {
		m.schemaCache = cache
	}
	return m
}

// --- linked service CRUD ---

func (m *Manager) AddService(svc LinkedService) (LinkedService, error) {
	if svc.ID == "" {
		svc.ID = wuid.New().String()
	}
	now := time.Now()
	svc.CreatedAt = now
	svc.UpdatedAt = now
	if err := svc.Validate(); err != nil {
		return LinkedService{}, err
	}
	if err := m.services.AddService(svc); err != nil {
		return LinkedService{}, err
	}
	return svc, nil
}

func (m *Manager) GetService(id string) (LinkedService, error) {
	return m.services.GetService(id)
}

func (m *Manager) ListServices() ([]LinkedService, error) {
	return m.services.ListServices()
}

func (m *Manager) UpdateService(svc LinkedService) (LinkedService, error) {
	existing, err := m.services.GetService(svc.ID)
	if err != nil {
		return LinkedService{}, err
	}
	svc.CreatedAt = existing.CreatedAt
	svc.UpdatedAt = time.Now()
	if err := svc.Validate(); err != nil {
		return LinkedService{}, err
	}
	if err := m.services.UpdateService(svc); err != nil {
		return LinkedService{}, err
	}
	m.invalidate(svc.ID)
	return svc, nil
}

func (m *Manager) DeleteService(id string) error {
	if err := m.sources.DeleteDataSourcesByService(id); err != nil {
		return err
	}
	if err := m.services.DeleteService(id); err != nil {
		return err
	}
	m.invalidate(id)
	return nil
}

// --- datasource CRUD ---

func (m *Manager) AddDataSource(source DataSource) (DataSource, error) {
	if source.ID == "" {
		source.ID = wuid.New().String()
	}
	now := time.Now()
	source.CreatedAt = now
	source.UpdatedAt = now
	if err := source.Validate(); err != nil {
		return DataSource{}, err
	}
	if _, err := m.services.GetService(source.LinkedServiceID); err != nil {
		return DataSource{}, err
	}
	if err := m.sources.AddDataSource(source); err != nil {
		return DataSource{}, err
	}
	return source, nil
}

func (m *Manager) GetDataSource(id string) (DataSource, error) {
	return m.sources.GetDataSource(id)
}

func (m *Manager) ListDataSources() ([]DataSource, error) {
	return m.sources.ListDataSources()
}

func (m *Manager) ListDataSourcesByService(serviceID string) ([]DataSource, error) {
	return m.sources.ListDataSourcesByService(serviceID)
}

func (m *Manager) UpdateDataSource(source DataSource) (DataSource, error) {
	existing, err := m.sources.GetDataSource(source.ID)
	if err != nil {
		return DataSource{}, err
	}
	source.CreatedAt = existing.CreatedAt
	source.UpdatedAt = time.Now()
	if err := source.Validate(); err != nil {
		return DataSource{}, err
	}
	if _, err := m.services.GetService(source.LinkedServiceID); err != nil {
		return DataSource{}, err
	}
	if err := m.sources.UpdateDataSource(source); err != nil {
		return DataSource{}, err
	}
	m.dropSchema(source.ID)
	return source, nil
}

func (m *Manager) DeleteDataSource(id string) error {
	if err := m.sources.DeleteDataSource(id); err != nil {
		return err
	}
	m.dropSchema(id)
	return nil
}

// --- data plane ---

// LoadTable reads the table behind a datasource. Column projection and row
// limits are pushed down to the connector where the backend supports it.
func (m *Manager) LoadTable(ctx context.Context, dataSourceID string, opts ...contracts.Option) (*tabular.Table, error) {
	svc, ds, err := m.resolve(dataSourceID)
	if err != nil {
		return nil, err
	}
	conn, err := m.connector(ctx, svc)
	if err != nil {
		return nil, m.maskErr(err, svc)
	}
	table, err := conn.Load(ctx, ds.TableOrPath, opts...)
	if err != nil {
		return nil, m.maskErr(err, svc)
	}
	return table, nil
}

// WriteTable writes a table to the destination behind a datasource.
func (m *Manager) WriteTable(ctx context.Context, dataSourceID string, table *tabular.Table, mode contracts.WriteMode) error {
	svc, ds, err := m.resolve(dataSourceID)
	if err != nil {
		return err
	}
	conn, err := m.connector(ctx, svc)
	if err != nil {
		return m.maskErr(err, svc)
	}
	if err := conn.Write(ctx, table, ds.TableOrPath, mode); err != nil {
		return m.maskErr(err, svc)
	}
	m.dropSchema(dataSourceID)
	return nil
}

// GetSchema reads one row from the datasource and reports the field list.
// Results are cached briefly; the cache is advisory and never consulted by
// pipeline executions.
func (m *Manager) GetSchema(ctx context.Context, dataSourceID string) ([]tabular.Field, error) {
	cacheKey := "schema:" + dataSourceID
	if m.schemaCache != nil {
		if v, ok := m.schemaCache.Get(cacheKey); ok {
			if fields, ok := v.([]tabular.Field); ok {
				return fields, nil
			}
		}
	}
	table, err := m.LoadTable(ctx, dataSourceID, contracts.WithLimit(1))
	if err != nil {
		return nil, err
	}
	fields := table.Fields
	if m.schemaCache != nil {
		m.schemaCache.SetWithTTL(cacheKey, fields, 1, m.schemaTTL)
	}
	return fields, nil
}

// TestService checks reachability of a service config without saving it.
// It never returns an error; failures come back as (false, reason). A
// non-empty target additionally probes that table, key, or collection.
func (m *Manager) TestService(ctx context.Context, svc LinkedService, target string) (bool, string) {
	if svc.Config == nil {
		return false, "config is required"
	}
	if err := svc.Config.Validate(); err != nil {
		return false, ScrubSecrets(err.Error(), svc.Config)
	}
	conn, err := m.openConnector(ctx, svc)
	if err != nil {
		return false, ScrubSecrets(err.Error(), svc.Config)
	}
	defer func() {
		_ = conn.Close()
	}()
	ok, message := conn.Test(ctx, target)
	return ok, ScrubSecrets(message, svc.Config)
}

// TestServiceByID checks reachability of a stored service.
func (m *Manager) TestServiceByID(ctx context.Context, id string) (bool, string) {
	svc, err := m.services.GetService(id)
	if err != nil {
		return false, err.Error()
	}
	return m.TestService(ctx, svc, "")
}

// TestDataSource checks that the table behind a datasource is readable.
func (m *Manager) TestDataSource(ctx context.Context, id string) (bool, string) {
	svc, ds, err := m.resolve(id)
	if err != nil {
		return false, err.Error()
	}
	conn, err := m.connector(ctx, svc)
	if err != nil {
		return false, ScrubSecrets(err.Error(), svc.Config)
	}
	ok, message := conn.Test(ctx, ds.TableOrPath)
	return ok, ScrubSecrets(message, svc.Config)
}

// CloseAll closes every pooled connector.
func (m *Manager) CloseAll() error {
	m.m.Lock()
	defer m.m.Unlock()
	var firstErr error
	for id, conn := range m.connectors {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(m.connectors, id)
	}
	return firstErr
}

func (m *Manager) resolve(dataSourceID string) (LinkedService, DataSource, error) {
	ds, err := m.sources.GetDataSource(dataSourceID)
	if err != nil {
		return LinkedService{}, DataSource{}, err
	}
	svc, err := m.services.GetService(ds.LinkedServiceID)
	if err != nil {
		return LinkedService{}, DataSource{}, err
	}
	return svc, ds, nil
}

func (m *Manager) connector(ctx context.Context, svc LinkedService) (contracts.Connector, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if conn, ok := m.connectors[svc.ID]; ok {
		return conn, nil
	}
	conn, err := m.openConnector(ctx, svc)
	if err != nil {
		return nil, err
	}
	if svc.ID != "" {
		m.connectors[svc.ID] = conn
	}
	return conn, nil
}

func (m *Manager) openConnector(ctx context.Context, svc LinkedService) (contracts.Connector, error) {
	return m.engine.Stage(func() (contracts.Connector, error) {
		switch cfg := svc.Config.(type) {
		case sqladapter.Config:
			return sqladapter.New(svc.Kind, cfg, m.logger)
		case objectadapter.Config:
			return objectadapter.New(cfg)
		case fileadapter.Config:
			return fileadapter.New(cfg)
		case nosqladapter.Config:
			return nosqladapter.New(ctx, cfg)
		case mqadapter.Config:
			return mqadapter.New(cfg)
		case webadapter.Config:
			return webadapter.New(cfg)
		default:
			return nil, fmt.Errorf("%w: %s", contracts.ErrUnsupportedKind, svc.Kind)
		}
	})
}

func (m *Manager) invalidate(serviceID string) {
	m.m.Lock()
	defer m.m.Unlock()
	if conn, ok := m.connectors[serviceID]; ok {
		_ = conn.Close()
		delete(m.connectors, serviceID)
	}
}

func (m *Manager) dropSchema(dataSourceID string) {
	if m.schemaCache != nil {
		m.schemaCache.Del("schema:" + dataSourceID)
	}
}

func (m *Manager) maskErr(err error, svc LinkedService) error {
	if err == nil {
		return nil
	}
	masked := ScrubSecrets(err.Error(), svc.Config)
	m.logger.Error().Str("service", svc.ID).Str("kind", string(svc.Kind)).Msg(masked)
	return errors.New(masked)
}

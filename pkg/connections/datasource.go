package connections

import (
	"fmt"
	"sync"
	"time"
)

// DataSource binds a linked service to one addressable table, object,
// collection, queue, or page.
type DataSource struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	LinkedServiceID string    `json:"linked_service_id"`
	TableOrPath     string    `json:"table_or_path"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (d *DataSource) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("datasource name is required")
	}
	if d.LinkedServiceID == "" {
		return fmt.Errorf("datasource '%s': linked_service_id is required", d.Name)
	}
	if d.TableOrPath == "" {
		return fmt.Errorf("datasource '%s': table_or_path is required", d.Name)
	}
	return nil
}

type DataSourceStore interface {
	AddDataSource(DataSource) error
	GetDataSource(string) (DataSource, error)
	UpdateDataSource(DataSource) error
	DeleteDataSource(string) error
	ListDataSources() ([]DataSource, error)
	ListDataSourcesByService(string) ([]DataSource, error)
	DeleteDataSourcesByService(string) error
}

type InMemoryDataSourceStore struct {
	sources map[string]DataSource
	mu      sync.RWMutex
}

func NewInMemoryDataSourceStore() *InMemoryDataSourceStore {
	return &InMemoryDataSourceStore{
		sources: make(map[string]DataSource),
	}
}

func (s *InMemoryDataSourceStore) AddDataSource(source DataSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sources[source.ID]; exists {
		return fmt.Errorf("datasource already exists: %s", source.ID)
	}
	s.sources[source.ID] = source
	return nil
}

func (s *InMemoryDataSourceStore) GetDataSource(id string) (DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	source, exists := s.sources[id]
	if !exists {
		return DataSource{}, fmt.Errorf("datasource not found: %s", id)
	}
	return source, nil
}

func (s *InMemoryDataSourceStore) UpdateDataSource(source DataSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sources[source.ID]; !exists {
		return fmt.Errorf("datasource not found: %s", source.ID)
	}
	s.sources[source.ID] = source
	return nil
}

func (s *InMemoryDataSourceStore) DeleteDataSource(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sources[id]; !exists {
		return fmt.Errorf("datasource not found: %s", id)
	}
	delete(s.sources, id)
	return nil
}

func (s *InMemoryDataSourceStore) ListDataSources() ([]DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sources := make([]DataSource, 0, len(s.sources))
	for _, source := range s.sources {
		sources = append(sources, source)
	}
	return sources, nil
}

func (s *InMemoryDataSourceStore) ListDataSourcesByService(serviceID string) ([]DataSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sources []DataSource
	for _, source := range s.sources {
		if source.LinkedServiceID == serviceID {
			sources = append(sources, source)
		}
	}
	return sources, nil
}

func (s *InMemoryDataSourceStore) DeleteDataSourcesByService(serviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, source := range s.sources {
		if source.LinkedServiceID == serviceID {
			delete(s.sources, id)
		}
	}
	return nil
}

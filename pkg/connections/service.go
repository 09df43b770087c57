package connections

import (
	"fmt"
	"sync"
	"time"

	"github.com/oarkflow/json"

	"github.com/oarkflow/pipeline/pkg/adapters/fileadapter"
	"github.com/oarkflow/pipeline/pkg/adapters/mqadapter"
	"github.com/oarkflow/pipeline/pkg/adapters/nosqladapter"
	"github.com/oarkflow/pipeline/pkg/adapters/objectadapter"
	"github.com/oarkflow/pipeline/pkg/adapters/sqladapter"
	"github.com/oarkflow/pipeline/pkg/adapters/webadapter"
	"github.com/oarkflow/pipeline/pkg/contracts"
)

// ServiceConfig is the kind-specific connection configuration of a linked
// service. Concrete types live with their adapters.
type ServiceConfig interface {
	Validate() error
}

// LinkedService is a named, reusable connection to an external system.
// Its config carries credentials and is encrypted by persistent stores;
// API responses must go through Masked.
type LinkedService struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Kind      contracts.Kind `json:"kind"`
	Config    ServiceConfig  `json:"config"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (s *LinkedService) UnmarshalJSON(data []byte) error {
	type Alias LinkedService
	aux := &struct {
		Config json.RawMessage `json:"config"`
		*Alias
	}{Alias: (*Alias)(s)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}
	cfg, err := DecodeConfig(s.Kind, aux.Config)
	if err != nil {
		return fmt.Errorf("service '%s': %w", s.Name, err)
	}
	s.Config = cfg
	return nil
}

// DecodeConfig parses a raw config document into the concrete type for the
// given kind.
func DecodeConfig(kind contracts.Kind, raw []byte) (ServiceConfig, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("config is required")
	}
	switch kind {
	case contracts.KindMySQL, contracts.KindPostgres, contracts.KindWarehouse:
		var cfg sqladapter.Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	case contracts.KindS3:
		var cfg objectadapter.Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	case contracts.KindFile:
		var cfg fileadapter.Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	case contracts.KindMongo:
		var cfg nosqladapter.Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	case contracts.KindRabbitMQ:
		var cfg mqadapter.Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	case contracts.KindWeb:
		var cfg webadapter.Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	default:
		return nil, fmt.Errorf("%w: %s", contracts.ErrUnsupportedKind, kind)
	}
}

func (s *LinkedService) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if s.Config == nil {
		return fmt.Errorf("service '%s': config is required", s.Name)
	}
	if _, known := knownKinds[s.Kind]; !known {
		return fmt.Errorf("service '%s': %w: %s", s.Name, contracts.ErrUnsupportedKind, s.Kind)
	}
	if err := s.Config.Validate(); err != nil {
		return fmt.Errorf("service '%s': %w", s.Name, err)
	}
	return nil
}

var knownKinds = map[contracts.Kind]struct{}{
	contracts.KindMySQL:     {},
	contracts.KindPostgres:  {},
	contracts.KindWarehouse: {},
	contracts.KindS3:        {},
	contracts.KindFile:      {},
	contracts.KindMongo:     {},
	contracts.KindRabbitMQ:  {},
	contracts.KindWeb:       {},
}

type ServiceStore interface {
	AddService(LinkedService) error
	GetService(string) (LinkedService, error)
	UpdateService(LinkedService) error
	DeleteService(string) error
	ListServices() ([]LinkedService, error)
}

type InMemoryServiceStore struct {
	services map[string]LinkedService
	mu       sync.RWMutex
}

func NewInMemoryServiceStore() *InMemoryServiceStore {
	return &InMemoryServiceStore{
		services: make(map[string]LinkedService),
	}
}

func (s *InMemoryServiceStore) AddService(service LinkedService) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.services[service.ID]; exists {
		return fmt.Errorf("service already exists: %s", service.ID)
	}
	s.services[service.ID] = service
	return nil
}

func (s *InMemoryServiceStore) GetService(id string) (LinkedService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	service, exists := s.services[id]
	if !exists {
		return LinkedService{}, fmt.Errorf("service not found: %s", id)
	}
	return service, nil
}

func (s *InMemoryServiceStore) UpdateService(service LinkedService) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.services[service.ID]; !exists {
		return fmt.Errorf("service not found: %s", service.ID)
	}
	s.services[service.ID] = service
	return nil
}

func (s *InMemoryServiceStore) DeleteService(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.services[id]; !exists {
		return fmt.Errorf("service not found: %s", id)
	}
	delete(s.services, id)
	return nil
}

func (s *InMemoryServiceStore) ListServices() ([]LinkedService, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	services := make([]LinkedService, 0, len(s.services))
	for _, service := range s.services {
		services = append(services, service)
	}
	return services, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oarkflow/json"

	"github.com/oarkflow/pipeline/pkg/connections"
	"github.com/oarkflow/pipeline/pkg/contracts"
)

var _ connections.ServiceStore = (*Store)(nil)

type serviceRecord struct {
	ID        string
	Name      string
	Kind      string
	Config    []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AddService inserts a linked service with its config encrypted at rest.
func (s *Store) AddService(svc connections.LinkedService) error {
	blob, err := s.sealConfig(svc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		context.Background(),
		`INSERT INTO linked_services (id, name, kind, config, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		svc.ID, svc.Name, string(svc.Kind), blob, svc.CreatedAt, svc.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("service already exists: %s", svc.ID)
	}
	return err
}

func (s *Store) GetService(id string) (connections.LinkedService, error) {
	row := s.db.QueryRowContext(
		context.Background(),
		`SELECT id, name, kind, config, created_at, updated_at FROM linked_services WHERE id = ?`, id,
	)
	rec := serviceRecord{}
	if err := row.Scan(&rec.ID, &rec.Name, &rec.Kind, &rec.Config, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return connections.LinkedService{}, fmt.Errorf("service not found: %s", id)
		}
		return connections.LinkedService{}, err
	}
	return s.hydrateService(rec)
}

func (s *Store) UpdateService(svc connections.LinkedService) error {
	blob, err := s.sealConfig(svc)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		context.Background(),
		`UPDATE linked_services SET name = ?, kind = ?, config = ?, updated_at = ? WHERE id = ?`,
		svc.Name, string(svc.Kind), blob, svc.UpdatedAt, svc.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("service not found: %s", svc.ID)
	}
	return nil
}

func (s *Store) DeleteService(id string) error {
	res, err := s.db.ExecContext(context.Background(), `DELETE FROM linked_services WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("service not found: %s", id)
	}
	return nil
}

func (s *Store) ListServices() ([]connections.LinkedService, error) {
	rows, err := s.db.QueryContext(
		context.Background(),
		`SELECT id, name, kind, config, created_at, updated_at FROM linked_services ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []connections.LinkedService
	for rows.Next() {
		rec := serviceRecord{}
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Kind, &rec.Config, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		svc, err := s.hydrateService(rec)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// sealConfig serializes and encrypts the kind-specific connection config.
// Credentials only ever touch disk through this path.
func (s *Store) sealConfig(svc connections.LinkedService) ([]byte, error) {
	if svc.Config == nil {
		return nil, fmt.Errorf("service '%s': config is required", svc.Name)
	}
	payload, err := json.Marshal(svc.Config)
	if err != nil {
		return nil, err
	}
	blob, err := s.secret.encrypt(payload)
	if err != nil {
		return nil, fmt.Errorf("encrypt service config: %w", err)
	}
	return blob, nil
}

func (s *Store) hydrateService(rec serviceRecord) (connections.LinkedService, error) {
	payload, err := s.secret.decrypt(rec.Config)
	if err != nil {
		return connections.LinkedService{}, fmt.Errorf("decrypt service config: %w", err)
	}
	kind := contracts.Kind(rec.Kind)
	cfg, err := connections.DecodeConfig(kind, payload)
	if err != nil {
		return connections.LinkedService{}, err
	}
	return connections.LinkedService{
		ID:        rec.ID,
		Name:      rec.Name,
		Kind:      kind,
		Config:    cfg,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

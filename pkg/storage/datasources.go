package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/oarkflow/pipeline/pkg/connections"
)

var _ connections.DataSourceStore = (*Store)(nil)

func (s *Store) AddDataSource(src connections.DataSource) error {
	_, err := s.db.ExecContext(
		context.Background(),
		`INSERT INTO datasources (id, name, linked_service_id, table_or_path, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		src.ID, src.Name, src.LinkedServiceID, src.TableOrPath, src.CreatedAt, src.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("datasource already exists: %s", src.ID)
	}
	return err
}

func (s *Store) GetDataSource(id string) (connections.DataSource, error) {
	row := s.db.QueryRowContext(
		context.Background(),
		`SELECT id, name, linked_service_id, table_or_path, created_at, updated_at FROM datasources WHERE id = ?`, id,
	)
	var src connections.DataSource
	if err := row.Scan(&src.ID, &src.Name, &src.LinkedServiceID, &src.TableOrPath, &src.CreatedAt, &src.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return connections.DataSource{}, fmt.Errorf("datasource not found: %s", id)
		}
		return connections.DataSource{}, err
	}
	return src, nil
}

func (s *Store) UpdateDataSource(src connections.DataSource) error {
	res, err := s.db.ExecContext(
		context.Background(),
		`UPDATE datasources SET name = ?, linked_service_id = ?, table_or_path = ?, updated_at = ? WHERE id = ?`,
		src.Name, src.LinkedServiceID, src.TableOrPath, src.UpdatedAt, src.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("datasource not found: %s", src.ID)
	}
	return nil
}

func (s *Store) DeleteDataSource(id string) error {
	res, err := s.db.ExecContext(context.Background(), `DELETE FROM datasources WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("datasource not found: %s", id)
	}
	return nil
}

func (s *Store) ListDataSources() ([]connections.DataSource, error) {
	return s.queryDataSources(`SELECT id, name, linked_service_id, table_or_path, created_at, updated_at FROM datasources ORDER BY created_at, id`)
}

func (s *Store) ListDataSourcesByService(serviceID string) ([]connections.DataSource, error) {
	return s.queryDataSources(
		`SELECT id, name, linked_service_id, table_or_path, created_at, updated_at FROM datasources WHERE linked_service_id = ? ORDER BY created_at, id`,
		serviceID,
	)
}

func (s *Store) DeleteDataSourcesByService(serviceID string) error {
	_, err := s.db.ExecContext(context.Background(), `DELETE FROM datasources WHERE linked_service_id = ?`, serviceID)
	return err
}

func (s *Store) queryDataSources(query string, args ...any) ([]connections.DataSource, error) {
	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []connections.DataSource
	for rows.Next() {
		var src connections.DataSource
		if err := rows.Scan(&src.ID, &src.Name, &src.LinkedServiceID, &src.TableOrPath, &src.CreatedAt, &src.UpdatedAt); err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

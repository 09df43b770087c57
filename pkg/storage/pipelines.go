package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/oarkflow/json"

	"github.com/oarkflow/pipeline/etl"
)

var _ etl.PipelineStore = (*Store)(nil)

// AddPipeline stores a pipeline as its JSON document. The node payload
// union round-trips through the same codec the API uses.
func (s *Store) AddPipeline(p etl.Pipeline) error {
	definition, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		context.Background(),
		`INSERT INTO pipelines (id, name, definition, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, string(definition), p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("pipeline already exists: %s", p.ID)
	}
	return err
}

func (s *Store) GetPipeline(id string) (etl.Pipeline, error) {
	row := s.db.QueryRowContext(context.Background(), `SELECT definition FROM pipelines WHERE id = ?`, id)
	var definition string
	if err := row.Scan(&definition); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return etl.Pipeline{}, fmt.Errorf("pipeline not found: %s", id)
		}
		return etl.Pipeline{}, err
	}
	var p etl.Pipeline
	if err := json.Unmarshal([]byte(definition), &p); err != nil {
		return etl.Pipeline{}, fmt.Errorf("decode pipeline %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) UpdatePipeline(p etl.Pipeline) error {
	definition, err := json.Marshal(p)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(
		context.Background(),
		`UPDATE pipelines SET name = ?, definition = ?, updated_at = ? WHERE id = ?`,
		p.Name, string(definition), p.UpdatedAt, p.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pipeline not found: %s", p.ID)
	}
	return nil
}

func (s *Store) DeletePipeline(id string) error {
	res, err := s.db.ExecContext(context.Background(), `DELETE FROM pipelines WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pipeline not found: %s", id)
	}
	return nil
}

func (s *Store) ListPipelines() ([]etl.Pipeline, error) {
	rows, err := s.db.QueryContext(context.Background(), `SELECT definition FROM pipelines ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pipelines []etl.Pipeline
	for rows.Next() {
		var definition string
		if err := rows.Scan(&definition); err != nil {
			return nil, err
		}
		var p etl.Pipeline
		if err := json.Unmarshal([]byte(definition), &p); err != nil {
			return nil, fmt.Errorf("decode pipeline: %w", err)
		}
		pipelines = append(pipelines, p)
	}
	return pipelines, rows.Err()
}

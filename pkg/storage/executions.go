package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/oarkflow/json"

	"github.com/oarkflow/pipeline/etl"
)

var (
	_ etl.ExecutionStore = (*Store)(nil)
	_ etl.HealEventStore = (*Store)(nil)
)

func (s *Store) AddExecution(e etl.Execution) error {
	logs, err := json.Marshal(e.Logs)
	if err != nil {
		return err
	}
	var finished any
	if e.FinishedAt != nil {
		finished = *e.FinishedAt
	}
	_, err = s.db.ExecContext(
		context.Background(),
		`INSERT INTO executions (id, pipeline_id, status, started_at, finished_at, error, logs) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PipelineID, string(e.Status), e.StartedAt, finished, e.Error, string(logs),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("execution already exists: %s", e.ID)
	}
	return err
}

func (s *Store) UpdateExecution(e etl.Execution) error {
	logs, err := json.Marshal(e.Logs)
	if err != nil {
		return err
	}
	var finished any
	if e.FinishedAt != nil {
		finished = *e.FinishedAt
	}
	res, err := s.db.ExecContext(
		context.Background(),
		`UPDATE executions SET status = ?, finished_at = ?, error = ?, logs = ? WHERE id = ?`,
		string(e.Status), finished, e.Error, string(logs), e.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("execution not found: %s", e.ID)
	}
	return nil
}

func (s *Store) GetExecution(id string) (etl.Execution, error) {
	row := s.db.QueryRowContext(
		context.Background(),
		`SELECT id, pipeline_id, status, started_at, finished_at, error, logs FROM executions WHERE id = ?`, id,
	)
	e, err := scanExecution(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return etl.Execution{}, fmt.Errorf("execution not found: %s", id)
		}
		return etl.Execution{}, err
	}
	return e, nil
}

func (s *Store) ListExecutions(pipelineID string) ([]etl.Execution, error) {
	query := `SELECT id, pipeline_id, status, started_at, finished_at, error, logs FROM executions ORDER BY started_at DESC`
	args := []any{}
	if pipelineID != "" {
		query = `SELECT id, pipeline_id, status, started_at, finished_at, error, logs FROM executions WHERE pipeline_id = ? ORDER BY started_at DESC`
		args = append(args, pipelineID)
	}
	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []etl.Execution
	for rows.Next() {
		e, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

func scanExecution(scan func(...any) error) (etl.Execution, error) {
	var (
		e        etl.Execution
		status   string
		finished sql.NullTime
		errMsg   sql.NullString
		logs     sql.NullString
	)
	if err := scan(&e.ID, &e.PipelineID, &status, &e.StartedAt, &finished, &errMsg, &logs); err != nil {
		return etl.Execution{}, err
	}
	e.Status = etl.ExecutionStatus(status)
	if finished.Valid {
		t := finished.Time
		e.FinishedAt = &t
	}
	if errMsg.Valid {
		e.Error = errMsg.String
	}
	if logs.Valid && logs.String != "" {
		if err := json.Unmarshal([]byte(logs.String), &e.Logs); err != nil {
			return etl.Execution{}, fmt.Errorf("decode execution logs: %w", err)
		}
	}
	return e, nil
}

func (s *Store) AddHealEvent(e etl.HealEvent) error {
	oldSchema, err := json.Marshal(e.OldSchema)
	if err != nil {
		return err
	}
	newSchema, err := json.Marshal(e.NewSchema)
	if err != nil {
		return err
	}
	persisted := 0
	if e.Persisted {
		persisted = 1
	}
	_, err = s.db.ExecContext(
		context.Background(),
		`INSERT INTO heal_events (id, pipeline_id, node_id, execution_id, old_schema, new_schema, old_code, new_code, persisted, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.PipelineID, e.NodeID, e.ExecutionID, string(oldSchema), string(newSchema), e.OldCode, e.NewCode, persisted, e.CreatedAt,
	)
	return err
}

func (s *Store) ListHealEvents(pipelineID string) ([]etl.HealEvent, error) {
	query := `SELECT id, pipeline_id, node_id, execution_id, old_schema, new_schema, old_code, new_code, persisted, created_at FROM heal_events ORDER BY created_at, id`
	args := []any{}
	if pipelineID != "" {
		query = `SELECT id, pipeline_id, node_id, execution_id, old_schema, new_schema, old_code, new_code, persisted, created_at FROM heal_events WHERE pipeline_id = ? ORDER BY created_at, id`
		args = append(args, pipelineID)
	}
	rows, err := s.db.QueryContext(context.Background(), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []etl.HealEvent
	for rows.Next() {
		var (
			e         etl.HealEvent
			oldSchema string
			newSchema string
			persisted int
		)
		if err := rows.Scan(&e.ID, &e.PipelineID, &e.NodeID, &e.ExecutionID, &oldSchema, &newSchema, &e.OldCode, &e.NewCode, &persisted, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(oldSchema), &e.OldSchema); err != nil {
			return nil, fmt.Errorf("decode heal event schema: %w", err)
		}
		if err := json.Unmarshal([]byte(newSchema), &e.NewSchema); err != nil {
			return nil, fmt.Errorf("decode heal event schema: %w", err)
		}
		e.Persisted = persisted != 0
		events = append(events, e)
	}
	return events, rows.Err()
}

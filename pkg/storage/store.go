// Package storage persists the control plane in SQLite: linked services,
// datasources, pipelines, executions, and heal events. Connection configs
// are encrypted at rest when an encryption key is configured.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Config controls how the storage layer is initialized.
type Config struct {
	Path          string
	EncryptionKey string
}

// Store is a SQLite backed implementation of the service, datasource,
// pipeline, execution, and heal event stores. Its methods match the
// in-memory store interfaces, which carry no context; statements run
// against the background context.
type Store struct {
	db     *sql.DB
	secret *secretCipher
}

// New creates a storage instance, ensuring the database is migrated.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		cfg.Path = "data/app.db"
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetConnMaxLifetime(time.Minute * 5)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	secret, err := newSecretCipher(cfg.EncryptionKey)
	if err != nil {
		db.Close()
		return nil, err
	}

	store := &Store{db: db, secret: secret}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases all database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS linked_services (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            kind TEXT NOT NULL,
            config BLOB NOT NULL,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS datasources (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            linked_service_id TEXT NOT NULL,
            table_or_path TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            FOREIGN KEY (linked_service_id) REFERENCES linked_services(id) ON DELETE CASCADE
        );`,
		`CREATE TABLE IF NOT EXISTS pipelines (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            definition TEXT NOT NULL,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS executions (
            id TEXT PRIMARY KEY,
            pipeline_id TEXT NOT NULL,
            status TEXT NOT NULL,
            started_at DATETIME NOT NULL,
            finished_at DATETIME,
            error TEXT,
            logs TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS heal_events (
            id TEXT PRIMARY KEY,
            pipeline_id TEXT NOT NULL,
            node_id TEXT NOT NULL,
            execution_id TEXT,
            old_schema TEXT NOT NULL,
            new_schema TEXT NOT NULL,
            old_code TEXT NOT NULL,
            new_code TEXT NOT NULL,
            persisted INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_datasources_service ON datasources(linked_service_id);`,
		`CREATE INDEX IF NOT EXISTS idx_executions_pipeline ON executions(pipeline_id, started_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_heal_events_pipeline ON heal_events(pipeline_id, created_at);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

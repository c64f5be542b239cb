// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store provides the SQLite persistence layer: automations,
// executions with their state log and step results, RSS poll state, and
// per-user OAuth tokens.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/relay/pkg/errors"
)

// Store is the SQLite-backed durable store.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Config contains store configuration.
type Config struct {
	// Path is the database file path; ":memory:" for tests.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// Open opens the database, applies pragmas, and runs migrations.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}

	// SQLite serializes writes, so a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "connecting to database")
	}

	s := &Store{db: db, logger: logger}

	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "configuring pragmas")
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "running migrations")
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS automations (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT,
			trigger TEXT NOT NULL,
			steps TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'draft',
			state TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_automations_user ON automations(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_automations_status ON automations(status)`,
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			automation_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			trigger_type TEXT,
			input TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			error TEXT,
			context_snapshot TEXT,
			started_at TEXT,
			finished_at TEXT,
			duration_ms INTEGER DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (automation_id) REFERENCES automations(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_automation ON executions(automation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_created_at ON executions(created_at)`,
		`CREATE TABLE IF NOT EXISTS state_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			metadata TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_state_log_execution ON state_log(execution_id)`,
		`CREATE TABLE IF NOT EXISTS step_logs (
			execution_id TEXT NOT NULL,
			step_index INTEGER NOT NULL,
			tool TEXT NOT NULL,
			status TEXT NOT NULL,
			retries INTEGER DEFAULT 0,
			duration_ms INTEGER DEFAULT 0,
			output TEXT,
			error TEXT,
			created_at TEXT NOT NULL,
			PRIMARY KEY (execution_id, step_index),
			FOREIGN KEY (execution_id) REFERENCES executions(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS rss_poll_state (
			automation_id TEXT PRIMARY KEY,
			last_poll_at TEXT,
			seen_ids TEXT,
			feed_url TEXT,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (automation_id) REFERENCES automations(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS user_tokens (
			user_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			token_type TEXT,
			expiry TEXT,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (user_id, provider)
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// formatTime renders an optional timestamp as RFC3339 text.
func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

// parseTime parses an optional RFC3339 timestamp column.
func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

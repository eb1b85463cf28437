// Copyright 2025 The Workflow Authors
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

// Package sqlite implements the storage contracts on SQLite for single-node
// deployments. SQLite supports RETURNING, so every write is a single
// statement. Timestamps are stored as fixed-width UTC strings so that string
// comparison inside SQL matches chronological order.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ejc3/workflow/internal/storage"
	sqlitedriver "modernc.org/sqlite"
)

// Compile-time interface assertions.
var (
	_ storage.RunStore   = (*Store)(nil)
	_ storage.StepStore  = (*Store)(nil)
	_ storage.EventStore = (*Store)(nil)
	_ storage.HookStore  = (*Store)(nil)
	_ storage.ChunkStore = (*Store)(nil)
	_ storage.JobStore   = (*Store)(nil)
	_ storage.Store      = (*Store)(nil)
)

// Store is the SQLite storage backend.
type Store struct {
	db *sql.DB

	// jobs is the queue table name, <jobPrefix>jobs.
	jobs string
}

// New creates the backend on an open connection and runs the idempotent
// schema migration. jobPrefix names the queue table (<jobPrefix>jobs).
func New(ctx context.Context, db *sql.DB, jobPrefix string) (*Store, error) {
	s := &Store{db: db, jobs: jobPrefix + "jobs"}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// migrate runs database migrations.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id TEXT PRIMARY KEY,
			deployment_id TEXT NOT NULL,
			workflow_name TEXT NOT NULL,
			status TEXT NOT NULL,
			input TEXT,
			output TEXT,
			execution_context TEXT,
			error TEXT,
			error_code TEXT,
			started_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_workflow_name ON workflow_runs(workflow_name)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_status ON workflow_runs(status)`,
		`CREATE TABLE IF NOT EXISTS workflow_steps (
			step_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			step_name TEXT NOT NULL,
			status TEXT NOT NULL,
			input TEXT,
			output TEXT,
			error TEXT,
			error_code TEXT,
			attempt INTEGER NOT NULL DEFAULT 1,
			started_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_steps_run_id ON workflow_steps(run_id)`,
		`CREATE TABLE IF NOT EXISTS workflow_events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			correlation_id TEXT,
			event_data TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_events_run_id ON workflow_events(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_events_correlation_id ON workflow_events(correlation_id)`,
		`CREATE TABLE IF NOT EXISTS workflow_hooks (
			hook_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			token TEXT NOT NULL,
			owner_id TEXT,
			project_id TEXT,
			environment TEXT,
			metadata TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_hooks_token ON workflow_hooks(token)`,
		`CREATE TABLE IF NOT EXISTS workflow_stream_chunks (
			stream_id TEXT NOT NULL,
			chunk_id TEXT NOT NULL,
			chunk_data BLOB,
			eof INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			PRIMARY KEY (stream_id, chunk_id)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			queue_name TEXT NOT NULL,
			payload TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 3,
			locked_until TEXT,
			scheduled_for TEXT NOT NULL,
			idempotency_key TEXT,
			error TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`, s.jobs),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_poll ON %s(queue_name, status, scheduled_for)`, s.jobs, s.jobs),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_idempotency_key ON %s(idempotency_key)`, s.jobs, s.jobs),
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// timeLayout is fixed-width (millisecond precision, explicit UTC) so stored
// strings compare lexicographically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// nullString binds empty strings as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullJSON binds empty JSON documents as NULL.
func nullJSON(j json.RawMessage) any {
	if len(j) == 0 {
		return nil
	}
	return string(j)
}

func scanTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp %q: %w", ns.String, err)
	}
	return &t, nil
}

func scanJSON(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

// SQLite extended result codes for primary-key and unique violations.
const (
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

func isUniqueViolation(err error) bool {
	var se *sqlitedriver.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqliteConstraintPrimaryKey || code == sqliteConstraintUnique
	}
	return false
}

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

// Package postgres implements the storage contracts on PostgreSQL. Every
// write is a single statement using RETURNING, timestamps are TIMESTAMPTZ,
// and JSON documents are JSONB. NOTIFY wakeups are issued by callers through
// the db adapter, not here, so this package stays plain database/sql.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ejc3/workflow/internal/storage"
	"github.com/jackc/pgx/v5/pgconn"
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

// Store is the PostgreSQL storage backend.
type Store struct {
	db *sql.DB

	// jobs is the queue table name, <jobPrefix>jobs.
	jobs string
}

// New creates the backend on an open connection pool and runs the idempotent
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
			input JSONB,
			output JSONB,
			execution_context JSONB,
			error TEXT,
			error_code TEXT,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_workflow_name ON workflow_runs(workflow_name)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_runs_status ON workflow_runs(status)`,
		`CREATE TABLE IF NOT EXISTS workflow_steps (
			step_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			step_name TEXT NOT NULL,
			status TEXT NOT NULL,
			input JSONB,
			output JSONB,
			error TEXT,
			error_code TEXT,
			attempt INTEGER NOT NULL DEFAULT 1,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_steps_run_id ON workflow_steps(run_id)`,
		`CREATE TABLE IF NOT EXISTS workflow_events (
			event_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			correlation_id TEXT,
			event_data JSONB,
			created_at TIMESTAMPTZ NOT NULL
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
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_workflow_hooks_token ON workflow_hooks(token)`,
		`CREATE TABLE IF NOT EXISTS workflow_stream_chunks (
			stream_id TEXT NOT NULL,
			chunk_id TEXT NOT NULL,
			chunk_data BYTEA,
			eof BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (stream_id, chunk_id)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			queue_name TEXT NOT NULL,
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL DEFAULT 3,
			locked_until TIMESTAMPTZ,
			scheduled_for TIMESTAMPTZ NOT NULL,
			idempotency_key TEXT,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
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
	return []byte(j)
}

func scanTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func scanJSON(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

// pgUniqueViolation is the PostgreSQL error code for unique_violation,
// raised for both primary-key and unique-index conflicts.
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

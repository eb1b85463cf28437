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

// Package mysql implements the storage contracts on MySQL. MySQL has no
// RETURNING, so every mutation executes the DML and reads the row back by
// primary key, and duplicate-key errors (1062) stand in for ON CONFLICT.
// Deletes that must return the prior row run SELECT-then-DELETE in one
// transaction. The db adapter forces clientFoundRows so affected-row checks
// count matched rows like the other backends.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ejc3/workflow/internal/storage"
	"github.com/go-sql-driver/mysql"
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

// Store is the MySQL storage backend.
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

// migrate runs database migrations. Indexes are declared inline because
// MySQL has no CREATE INDEX IF NOT EXISTS.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id VARCHAR(255) PRIMARY KEY,
			deployment_id VARCHAR(255) NOT NULL,
			workflow_name VARCHAR(255) NOT NULL,
			status VARCHAR(255) NOT NULL,
			input JSON,
			output JSON,
			execution_context JSON,
			error TEXT,
			error_code VARCHAR(255),
			started_at DATETIME(6),
			completed_at DATETIME(6),
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_workflow_runs_workflow_name (workflow_name),
			INDEX idx_workflow_runs_status (status)
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_steps (
			step_id VARCHAR(255) PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			step_name VARCHAR(255) NOT NULL,
			status VARCHAR(255) NOT NULL,
			input JSON,
			output JSON,
			error TEXT,
			error_code VARCHAR(255),
			attempt INT NOT NULL DEFAULT 1,
			started_at DATETIME(6),
			completed_at DATETIME(6),
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_workflow_steps_run_id (run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_events (
			event_id VARCHAR(255) PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			event_type VARCHAR(255) NOT NULL,
			correlation_id VARCHAR(255),
			event_data JSON,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_workflow_events_run_id (run_id),
			INDEX idx_workflow_events_correlation_id (correlation_id)
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_hooks (
			hook_id VARCHAR(255) PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			token VARCHAR(255) NOT NULL,
			owner_id VARCHAR(255),
			project_id VARCHAR(255),
			environment VARCHAR(255),
			metadata JSON,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_workflow_hooks_token (token)
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_stream_chunks (
			stream_id VARCHAR(255) NOT NULL,
			chunk_id VARCHAR(255) NOT NULL,
			chunk_data LONGBLOB,
			eof TINYINT(1) NOT NULL DEFAULT 0,
			created_at DATETIME(6) NOT NULL,
			PRIMARY KEY (stream_id, chunk_id)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) PRIMARY KEY,
			queue_name VARCHAR(255) NOT NULL,
			payload JSON NOT NULL,
			status VARCHAR(255) NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL DEFAULT 3,
			locked_until DATETIME(6),
			scheduled_for DATETIME(6) NOT NULL,
			idempotency_key VARCHAR(255),
			error TEXT,
			created_at DATETIME(6) NOT NULL,
			updated_at DATETIME(6) NOT NULL,
			INDEX idx_%s_poll (queue_name, status, scheduled_for),
			UNIQUE KEY idx_%s_idempotency_key (idempotency_key)
		)`, s.jobs, s.jobs, s.jobs),
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

// mysqlDuplicateEntry is ER_DUP_ENTRY, raised for both primary-key and
// unique-index conflicts.
const mysqlDuplicateEntry = 1062

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

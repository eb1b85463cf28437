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

package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ejc3/workflow/internal/ident"
	"github.com/ejc3/workflow/internal/storage"
	wferrors "github.com/ejc3/workflow/pkg/errors"
)

const runColumns = `run_id, deployment_id, workflow_name, status, input, output, execution_context, error, error_code, started_at, completed_at, created_at, updated_at`

func scanRun(row rowScanner) (*storage.Run, error) {
	var (
		run                    storage.Run
		input, output, execCtx []byte
		errMsg, errCode        sql.NullString
		startedAt, completedAt sql.NullTime
	)
	if err := row.Scan(
		&run.RunID, &run.DeploymentID, &run.WorkflowName, &run.Status,
		&input, &output, &execCtx, &errMsg, &errCode,
		&startedAt, &completedAt, &run.CreatedAt, &run.UpdatedAt,
	); err != nil {
		return nil, err
	}

	run.Input = scanJSON(input)
	run.Output = scanJSON(output)
	run.ExecutionContext = scanJSON(execCtx)
	run.Error = errMsg.String
	run.ErrorCode = errCode.String
	run.StartedAt = scanTimePtr(startedAt)
	run.CompletedAt = scanTimePtr(completedAt)
	return &run, nil
}

// CreateRun inserts a new run with status pending and a generated id.
func (s *Store) CreateRun(ctx context.Context, params storage.CreateRunParams) (*storage.Run, error) {
	runID := ident.RunID()
	now := time.Now()

	query := `INSERT INTO workflow_runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, NULL, ?, NULL, NULL, NULL, NULL, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		runID, params.DeploymentID, params.WorkflowName, storage.RunPending,
		nullJSON(params.Input), nullJSON(params.ExecutionContext), now, now,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return nil, &wferrors.ConflictError{Resource: "run", ID: runID}
		}
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return s.GetRun(ctx, runID)
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*storage.Run, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE run_id = ?`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wferrors.NotFoundError{Resource: "run", ID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// UpdateRun applies a partial update and reads the row back by primary key.
// The current row is read first to decide whether this call is the first
// transition to running or to a terminal state; the COALESCE guards keep
// startedAt and completedAt write-once even when two updaters race.
func (s *Store) UpdateRun(ctx context.Context, runID string, patch storage.RunPatch) (*storage.Run, error) {
	current, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sets := []string{"updated_at = ?"}
	args := []any{now}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
		if *patch.Status == storage.RunRunning && current.StartedAt == nil {
			sets = append(sets, "started_at = COALESCE(started_at, ?)")
			args = append(args, now)
		}
		if patch.Status.Terminal() && current.CompletedAt == nil {
			sets = append(sets, "completed_at = COALESCE(completed_at, ?)")
			args = append(args, now)
		}
	}
	if patch.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, nullJSON(*patch.Output))
	}
	if patch.ExecutionContext != nil {
		sets = append(sets, "execution_context = ?")
		args = append(args, nullJSON(*patch.ExecutionContext))
	}
	if patch.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullString(*patch.Error))
	}
	if patch.ErrorCode != nil {
		sets = append(sets, "error_code = ?")
		args = append(args, nullString(*patch.ErrorCode))
	}

	args = append(args, runID)
	query := `UPDATE workflow_runs SET ` + strings.Join(sets, ", ") + ` WHERE run_id = ?`

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to update run: %w", err)
	}
	return s.GetRun(ctx, runID)
}

// CancelRun moves a non-terminal run to cancelled. A run that is already
// terminal is returned unchanged, preserving its completedAt.
func (s *Store) CancelRun(ctx context.Context, runID string) (*storage.Run, error) {
	now := time.Now()
	query := `UPDATE workflow_runs
		SET status = ?, completed_at = COALESCE(completed_at, ?), updated_at = ?
		WHERE run_id = ? AND status NOT IN (?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		storage.RunCancelled, now, now, runID,
		storage.RunCompleted, storage.RunFailed, storage.RunCancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel run: %w", err)
	}
	// Read back by primary key: the guard no longer matches the row it
	// just updated, and a terminal run should come back unchanged.
	return s.GetRun(ctx, runID)
}

// PauseRun moves a pending or running run to paused. Pausing a paused run
// is a no-op; a terminal run is returned unchanged.
func (s *Store) PauseRun(ctx context.Context, runID string) (*storage.Run, error) {
	query := `UPDATE workflow_runs SET status = ?, updated_at = ?
		WHERE run_id = ? AND status IN (?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		storage.RunPaused, time.Now(), runID,
		storage.RunPending, storage.RunRunning, storage.RunPaused,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pause run: %w", err)
	}
	return s.GetRun(ctx, runID)
}

// ResumeRun moves a paused run back to running.
func (s *Store) ResumeRun(ctx context.Context, runID string) (*storage.Run, error) {
	now := time.Now()
	query := `UPDATE workflow_runs
		SET status = ?, started_at = COALESCE(started_at, ?), updated_at = ?
		WHERE run_id = ? AND status = ?`

	result, err := s.db.ExecContext(ctx, query,
		storage.RunRunning, now, now, runID, storage.RunPaused,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resume run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to resume run: %w", err)
	}
	if affected == 0 {
		return nil, &wferrors.NotFoundError{Resource: "paused run", ID: runID}
	}
	return s.GetRun(ctx, runID)
}

// ListRuns pages runs by descending run_id.
func (s *Store) ListRuns(ctx context.Context, params storage.ListRunsParams) (*storage.RunPage, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE 1=1`
	args := []any{}

	if params.WorkflowName != "" {
		query += " AND workflow_name = ?"
		args = append(args, params.WorkflowName)
	}
	if params.Status != "" {
		query += " AND status = ?"
		args = append(args, params.Status)
	}
	if params.Cursor != "" {
		query += " AND run_id < ?"
		args = append(args, params.Cursor)
	}

	limit := storage.Limit(params.Limit)
	query += " ORDER BY run_id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	page := &storage.RunPage{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		page.Runs = append(page.Runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	if len(page.Runs) > limit {
		page.Runs = page.Runs[:limit]
		page.HasMore = true
	}
	if len(page.Runs) > 0 {
		page.Cursor = page.Runs[len(page.Runs)-1].RunID
	}
	return page, nil
}

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

package postgres

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
		VALUES ($1, $2, $3, $4, $5, NULL, $6, NULL, NULL, NULL, NULL, $7, $8)
		RETURNING ` + runColumns

	run, err := scanRun(s.db.QueryRowContext(ctx, query,
		runID, params.DeploymentID, params.WorkflowName, storage.RunPending,
		nullJSON(params.Input), nullJSON(params.ExecutionContext), now, now,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &wferrors.ConflictError{Resource: "run", ID: runID}
		}
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return run, nil
}

// GetRun retrieves a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (*storage.Run, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE run_id = $1`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wferrors.NotFoundError{Resource: "run", ID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// UpdateRun applies a partial update. The current row is read first to
// decide whether this call is the first transition to running or to a
// terminal state; the COALESCE guards keep startedAt and completedAt
// write-once even when two updaters race.
func (s *Store) UpdateRun(ctx context.Context, runID string, patch storage.RunPatch) (*storage.Run, error) {
	current, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sets := []string{"updated_at = $1"}
	args := []any{now}
	idx := 2

	if patch.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", idx))
		args = append(args, *patch.Status)
		idx++
		if *patch.Status == storage.RunRunning && current.StartedAt == nil {
			sets = append(sets, fmt.Sprintf("started_at = COALESCE(started_at, $%d)", idx))
			args = append(args, now)
			idx++
		}
		if patch.Status.Terminal() && current.CompletedAt == nil {
			sets = append(sets, fmt.Sprintf("completed_at = COALESCE(completed_at, $%d)", idx))
			args = append(args, now)
			idx++
		}
	}
	if patch.Output != nil {
		sets = append(sets, fmt.Sprintf("output = $%d", idx))
		args = append(args, nullJSON(*patch.Output))
		idx++
	}
	if patch.ExecutionContext != nil {
		sets = append(sets, fmt.Sprintf("execution_context = $%d", idx))
		args = append(args, nullJSON(*patch.ExecutionContext))
		idx++
	}
	if patch.Error != nil {
		sets = append(sets, fmt.Sprintf("error = $%d", idx))
		args = append(args, nullString(*patch.Error))
		idx++
	}
	if patch.ErrorCode != nil {
		sets = append(sets, fmt.Sprintf("error_code = $%d", idx))
		args = append(args, nullString(*patch.ErrorCode))
		idx++
	}

	args = append(args, runID)
	query := `UPDATE workflow_runs SET ` + strings.Join(sets, ", ") +
		fmt.Sprintf(` WHERE run_id = $%d RETURNING `, idx) + runColumns

	run, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wferrors.NotFoundError{Resource: "run", ID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update run: %w", err)
	}
	return run, nil
}

// CancelRun moves a non-terminal run to cancelled. A run that is already
// terminal is returned unchanged, preserving its completedAt.
func (s *Store) CancelRun(ctx context.Context, runID string) (*storage.Run, error) {
	now := time.Now()
	query := `UPDATE workflow_runs
		SET status = $1, completed_at = COALESCE(completed_at, $2), updated_at = $2
		WHERE run_id = $3 AND status NOT IN ($4, $5, $6)
		RETURNING ` + runColumns

	run, err := scanRun(s.db.QueryRowContext(ctx, query,
		storage.RunCancelled, now, runID,
		storage.RunCompleted, storage.RunFailed, storage.RunCancelled,
	))
	if errors.Is(err, sql.ErrNoRows) {
		// Already terminal, or missing; GetRun distinguishes the two.
		return s.GetRun(ctx, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to cancel run: %w", err)
	}
	return run, nil
}

// PauseRun moves a pending or running run to paused. Pausing a paused run
// is a no-op; a terminal run is returned unchanged.
func (s *Store) PauseRun(ctx context.Context, runID string) (*storage.Run, error) {
	query := `UPDATE workflow_runs SET status = $1, updated_at = $2
		WHERE run_id = $3 AND status IN ($4, $5, $6)
		RETURNING ` + runColumns

	run, err := scanRun(s.db.QueryRowContext(ctx, query,
		storage.RunPaused, time.Now(), runID,
		storage.RunPending, storage.RunRunning, storage.RunPaused,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return s.GetRun(ctx, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pause run: %w", err)
	}
	return run, nil
}

// ResumeRun moves a paused run back to running.
func (s *Store) ResumeRun(ctx context.Context, runID string) (*storage.Run, error) {
	now := time.Now()
	query := `UPDATE workflow_runs
		SET status = $1, started_at = COALESCE(started_at, $2), updated_at = $2
		WHERE run_id = $3 AND status = $4
		RETURNING ` + runColumns

	run, err := scanRun(s.db.QueryRowContext(ctx, query,
		storage.RunRunning, now, runID, storage.RunPaused,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wferrors.NotFoundError{Resource: "paused run", ID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resume run: %w", err)
	}
	return run, nil
}

// ListRuns pages runs by descending run_id.
func (s *Store) ListRuns(ctx context.Context, params storage.ListRunsParams) (*storage.RunPage, error) {
	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE 1=1`
	args := []any{}
	idx := 1

	if params.WorkflowName != "" {
		query += fmt.Sprintf(" AND workflow_name = $%d", idx)
		args = append(args, params.WorkflowName)
		idx++
	}
	if params.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, params.Status)
		idx++
	}
	if params.Cursor != "" {
		query += fmt.Sprintf(" AND run_id < $%d", idx)
		args = append(args, params.Cursor)
		idx++
	}

	limit := storage.Limit(params.Limit)
	query += fmt.Sprintf(" ORDER BY run_id DESC LIMIT $%d", idx)
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

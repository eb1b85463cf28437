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

const stepColumns = `step_id, run_id, step_name, status, input, output, error, error_code, attempt, started_at, completed_at, created_at, updated_at`

func scanStep(row rowScanner) (*storage.Step, error) {
	var (
		step                   storage.Step
		input, output          []byte
		errMsg, errCode        sql.NullString
		startedAt, completedAt sql.NullTime
	)
	if err := row.Scan(
		&step.StepID, &step.RunID, &step.StepName, &step.Status,
		&input, &output, &errMsg, &errCode, &step.Attempt,
		&startedAt, &completedAt, &step.CreatedAt, &step.UpdatedAt,
	); err != nil {
		return nil, err
	}

	step.Input = scanJSON(input)
	step.Output = scanJSON(output)
	step.Error = errMsg.String
	step.ErrorCode = errCode.String
	step.StartedAt = scanTimePtr(startedAt)
	step.CompletedAt = scanTimePtr(completedAt)
	return &step, nil
}

// CreateStep inserts a step. A caller-supplied StepID makes the call
// idempotent: a duplicate insert is ignored and the existing row returned.
func (s *Store) CreateStep(ctx context.Context, params storage.CreateStepParams) (*storage.Step, error) {
	stepID := params.StepID
	if stepID == "" {
		stepID = ident.StepID()
	}
	attempt := params.Attempt
	if attempt <= 0 {
		attempt = 1
	}
	now := time.Now()

	query := `INSERT INTO workflow_steps (` + stepColumns + `)
		VALUES ($1, $2, $3, $4, $5, NULL, NULL, NULL, $6, NULL, NULL, $7, $8)
		ON CONFLICT (step_id) DO NOTHING
		RETURNING ` + stepColumns

	step, err := scanStep(s.db.QueryRowContext(ctx, query,
		stepID, params.RunID, params.StepName, storage.StepPending,
		nullJSON(params.Input), attempt, now, now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		// Insert was a no-op; hand back the row that won.
		existing, getErr := s.GetStep(ctx, stepID)
		if getErr != nil {
			if wferrors.IsNotFound(getErr) {
				return nil, &wferrors.ConflictError{Resource: "step", ID: stepID}
			}
			return nil, getErr
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create step: %w", err)
	}
	return step, nil
}

// GetStep retrieves a step by id.
func (s *Store) GetStep(ctx context.Context, stepID string) (*storage.Step, error) {
	query := `SELECT ` + stepColumns + ` FROM workflow_steps WHERE step_id = $1`

	step, err := scanStep(s.db.QueryRowContext(ctx, query, stepID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wferrors.NotFoundError{Resource: "step", ID: stepID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return step, nil
}

// UpdateStep applies a partial update with the run state machine's
// startedAt/completedAt rules.
func (s *Store) UpdateStep(ctx context.Context, stepID string, patch storage.StepPatch) (*storage.Step, error) {
	current, err := s.GetStep(ctx, stepID)
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
		if *patch.Status == storage.StepRunning && current.StartedAt == nil {
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
	if patch.Attempt != nil {
		sets = append(sets, fmt.Sprintf("attempt = $%d", idx))
		args = append(args, *patch.Attempt)
		idx++
	}

	args = append(args, stepID)
	query := `UPDATE workflow_steps SET ` + strings.Join(sets, ", ") +
		fmt.Sprintf(` WHERE step_id = $%d RETURNING `, idx) + stepColumns

	step, err := scanStep(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wferrors.NotFoundError{Resource: "step", ID: stepID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update step: %w", err)
	}
	return step, nil
}

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

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ejc3/workflow/internal/storage"
	wferrors "github.com/ejc3/workflow/pkg/errors"
)

const jobColumns = `id, queue_name, payload, status, attempts, max_attempts, locked_until, scheduled_for, idempotency_key, error, created_at, updated_at`

func scanJob(row rowScanner) (*storage.Job, error) {
	var (
		job                              storage.Job
		payload                          string
		lockedUntil, idemKey, errMsg     sql.NullString
		scheduledFor, createdAt, updated string
	)
	if err := row.Scan(
		&job.ID, &job.QueueName, &payload, &job.Status,
		&job.Attempts, &job.MaxAttempts, &lockedUntil, &scheduledFor,
		&idemKey, &errMsg, &createdAt, &updated,
	); err != nil {
		return nil, err
	}

	job.Payload = []byte(payload)
	job.IdempotencyKey = idemKey.String
	job.Error = errMsg.String

	var err error
	if job.LockedUntil, err = scanTimePtr(lockedUntil); err != nil {
		return nil, err
	}
	if job.ScheduledFor, err = parseTime(scheduledFor); err != nil {
		return nil, err
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &job, nil
}

// EnqueueJob inserts a job row. A duplicate idempotency key returns the
// existing row instead of inserting.
func (s *Store) EnqueueJob(ctx context.Context, params storage.EnqueueJobParams) (*storage.Job, error) {
	if params.IdempotencyKey != "" {
		existing, err := s.GetJobByIdempotencyKey(ctx, params.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !wferrors.IsNotFound(err) {
			return nil, err
		}
	}

	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	now := time.Now()
	scheduledFor := params.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = now
	}

	query := `INSERT INTO ` + s.jobs + ` (` + jobColumns + `)
		VALUES (?, ?, ?, 'pending', 0, ?, NULL, ?, ?, NULL, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
		RETURNING ` + jobColumns

	job, err := scanJob(s.db.QueryRowContext(ctx, query,
		params.ID, params.QueueName, string(params.Payload), maxAttempts,
		formatTime(scheduledFor), nullString(params.IdempotencyKey),
		formatTime(now), formatTime(now),
	))
	if errors.Is(err, sql.ErrNoRows) {
		// A concurrent enqueue with the same key won the insert.
		return s.GetJobByIdempotencyKey(ctx, params.IdempotencyKey)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &wferrors.ConflictError{Resource: "job", ID: params.ID}
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*storage.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM ` + s.jobs + ` WHERE id = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wferrors.NotFoundError{Resource: "job", ID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetJobByIdempotencyKey retrieves a job by idempotency key.
func (s *Store) GetJobByIdempotencyKey(ctx context.Context, key string) (*storage.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM ` + s.jobs + ` WHERE idempotency_key = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wferrors.NotFoundError{Resource: "job", ID: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job by idempotency key: %w", err)
	}
	return job, nil
}

// ListDueJobs returns jobs ready to lease: pending and scheduled, or
// processing with an expired lock (stealable).
func (s *Store) ListDueJobs(ctx context.Context, queueName string, now time.Time, limit int) ([]*storage.Job, error) {
	if limit <= 0 {
		limit = 10
	}
	nowStr := formatTime(now)

	query := `SELECT ` + jobColumns + ` FROM ` + s.jobs + `
		WHERE queue_name = ? AND scheduled_for <= ?
		AND (
			(status = 'pending' AND (locked_until IS NULL OR locked_until <= ?))
			OR (status = 'processing' AND locked_until IS NOT NULL AND locked_until <= ?)
		)
		ORDER BY id ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, queueName, nowStr, nowStr, nowStr, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*storage.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list due jobs: %w", err)
	}
	return jobs, nil
}

// LeaseJob attempts the conditional lease. Exactly one concurrent caller
// observes an affected row and wins.
func (s *Store) LeaseJob(ctx context.Context, jobID string, now, until time.Time) (bool, error) {
	query := `UPDATE ` + s.jobs + `
		SET status = 'processing', locked_until = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'processing')
		AND (locked_until IS NULL OR locked_until <= ?)
		AND scheduled_for <= ?`

	nowStr := formatTime(now)
	result, err := s.db.ExecContext(ctx, query, formatTime(until), nowStr, jobID, nowStr, nowStr)
	if err != nil {
		return false, fmt.Errorf("failed to lease job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to lease job: %w", err)
	}
	return affected == 1, nil
}

// CompleteJob marks a job completed and clears its lock.
func (s *Store) CompleteJob(ctx context.Context, jobID string) error {
	query := `UPDATE ` + s.jobs + `
		SET status = 'completed', locked_until = NULL, updated_at = ?
		WHERE id = ?`
	return s.execJobUpdate(ctx, jobID, query, formatTime(time.Now()), jobID)
}

// FailJob marks a job failed, records the error, and clears its lock.
func (s *Store) FailJob(ctx context.Context, jobID string, jobErr string) error {
	query := `UPDATE ` + s.jobs + `
		SET status = 'failed', locked_until = NULL, error = ?, updated_at = ?
		WHERE id = ?`
	return s.execJobUpdate(ctx, jobID, query, nullString(jobErr), formatTime(time.Now()), jobID)
}

// RetryJob returns a job to pending with a new scheduled time.
func (s *Store) RetryJob(ctx context.Context, jobID string, jobErr string, scheduledFor time.Time) error {
	query := `UPDATE ` + s.jobs + `
		SET status = 'pending', locked_until = NULL, scheduled_for = ?, error = ?, updated_at = ?
		WHERE id = ?`
	return s.execJobUpdate(ctx, jobID, query,
		formatTime(scheduledFor), nullString(jobErr), formatTime(time.Now()), jobID)
}

func (s *Store) execJobUpdate(ctx context.Context, jobID, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	if affected == 0 {
		return &wferrors.NotFoundError{Resource: "job", ID: jobID}
	}
	return nil
}

// CountJobsByStatus returns job counts grouped by status.
func (s *Store) CountJobsByStatus(ctx context.Context, queueName string) (map[storage.JobStatus]int, error) {
	query := `SELECT status, COUNT(*) FROM ` + s.jobs
	args := []any{}
	if queueName != "" {
		query += ` WHERE queue_name = ?`
		args = append(args, queueName)
	}
	query += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[storage.JobStatus]int)
	for rows.Next() {
		var status storage.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	return counts, nil
}

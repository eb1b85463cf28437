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

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ejc3/workflow/internal/log"
	"github.com/ejc3/workflow/internal/metrics"
	"github.com/ejc3/workflow/internal/storage"
)

// maxBackoff caps the retry delay.
const maxBackoff = 60 * time.Second

// backoff returns the delay before the next delivery after the given
// attempt count: 2s, 4s, 8s, ... capped at maxBackoff.
func backoff(attempts int) time.Duration {
	if attempts > 6 {
		return maxBackoff
	}
	d := time.Duration(1000<<uint(attempts)) * time.Millisecond
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// worker polls one logical queue until the queue is stopped or the
// context is cancelled. Each worker carries a uuid so interleaved logs
// from concurrent workers stay attributable.
func (q *Queue) worker(ctx context.Context, queueName, callerPrefix string, wake <-chan struct{}) {
	defer q.wg.Done()

	worker := uuid.NewString()
	logger := q.logger.With(
		slog.String(log.QueueKey, queueName),
		slog.String("worker", worker),
	)

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			return
		case <-ticker.C:
		case <-wake:
		}
		q.poll(ctx, queueName, callerPrefix, worker, logger)
	}
}

// poll fetches one batch of due jobs and dispatches every job this worker
// manages to lease. Lease losses are expected under concurrency and are
// skipped silently.
func (q *Queue) poll(ctx context.Context, queueName, callerPrefix, worker string, logger *slog.Logger) {
	now := time.Now()
	due, err := q.store.ListDueJobs(ctx, queueName, now, q.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			metrics.RecordStorageError("ListDueJobs", metrics.ErrorType(err))
			logger.Warn("failed to list due jobs", slog.Any("error", err))
		}
		return
	}

	for _, job := range due {
		select {
		case <-ctx.Done():
			return
		case <-q.stopCh:
			// Unleased candidates stay due for the next poller.
			return
		default:
		}

		now = time.Now()
		won, err := q.store.LeaseJob(ctx, job.ID, now, now.Add(q.leaseFor))
		if err != nil {
			metrics.RecordStorageError("LeaseJob", metrics.ErrorType(err))
			logger.Warn("failed to lease job",
				slog.String(log.JobIDKey, job.ID),
				slog.Any("error", err),
			)
			continue
		}
		if !won {
			continue
		}

		// The lease bumped the attempt counter past the candidate row.
		q.dispatch(ctx, queueName, callerPrefix, worker, job, job.Attempts+1, logger)
	}
}

// dispatch decodes a leased job, runs the handler under the lease
// deadline, and records the outcome: completed, retried with backoff, or
// failed once the attempt budget is spent.
func (q *Queue) dispatch(ctx context.Context, queueName, callerPrefix, worker string, job *storage.Job, attempt int, logger *slog.Logger) {
	var msg MessageData
	if err := json.Unmarshal(job.Payload, &msg); err != nil {
		// An undecodable payload can never succeed; retrying is pointless.
		logger.Error("failed to decode job payload",
			slog.String(log.JobIDKey, job.ID),
			slog.Any("error", err),
		)
		if ferr := q.store.FailJob(ctx, job.ID, fmt.Sprintf("undecodable payload: %v", err)); ferr != nil {
			metrics.RecordStorageError("FailJob", metrics.ErrorType(ferr))
			logger.Error("failed to mark job failed", slog.String(log.JobIDKey, job.ID), slog.Any("error", ferr))
			return
		}
		metrics.RecordJobFailed(queueName)
		return
	}
	msg.Attempt = attempt

	req := &log.DispatchRequest{
		Queue:     queueName,
		JobID:     job.ID,
		MessageID: msg.MessageID,
		Attempt:   attempt,
		Worker:    worker,
	}

	start := time.Now()
	err := q.mw.Handler(req, func() error {
		hctx, cancel := context.WithTimeout(ctx, q.leaseFor)
		defer cancel()
		return q.handler(hctx, callerPrefix+msg.ID, msg)
	})
	metrics.ObserveJobDuration(queueName, time.Since(start).Seconds())

	switch {
	case err == nil:
		if cerr := q.store.CompleteJob(ctx, job.ID); cerr != nil {
			metrics.RecordStorageError("CompleteJob", metrics.ErrorType(cerr))
			logger.Error("failed to complete job", slog.String(log.JobIDKey, job.ID), slog.Any("error", cerr))
			return
		}
		metrics.RecordJobCompleted(queueName)

	case attempt >= job.MaxAttempts:
		if ferr := q.store.FailJob(ctx, job.ID, err.Error()); ferr != nil {
			metrics.RecordStorageError("FailJob", metrics.ErrorType(ferr))
			logger.Error("failed to mark job failed", slog.String(log.JobIDKey, job.ID), slog.Any("error", ferr))
			return
		}
		metrics.RecordJobFailed(queueName)
		logger.Error("job failed permanently",
			slog.String(log.JobIDKey, job.ID),
			slog.Int("attempts", attempt),
			slog.Any("error", err),
		)

	default:
		retryAt := time.Now().Add(backoff(attempt))
		if rerr := q.store.RetryJob(ctx, job.ID, err.Error(), retryAt); rerr != nil {
			metrics.RecordStorageError("RetryJob", metrics.ErrorType(rerr))
			logger.Error("failed to schedule job retry", slog.String(log.JobIDKey, job.ID), slog.Any("error", rerr))
			return
		}
		metrics.RecordJobRetried(queueName)
		logger.Warn("job scheduled for retry",
			slog.String(log.JobIDKey, job.ID),
			slog.Int("attempts", attempt),
			slog.Time("retry_at", retryAt),
			slog.Any("error", err),
		)
	}
}

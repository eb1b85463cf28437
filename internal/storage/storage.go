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

// Package storage defines the persistence contracts for runs, steps,
// events, hooks, stream chunks, and queue jobs.
//
// # Interface Hierarchy
//
// The package uses interface segregation so components depend only on the
// entities they touch:
//
//   - RunStore: run lifecycle, state machine transitions, pagination
//   - StepStore: step attempts within a run
//   - EventStore: append-only event log with correlation lookup
//   - HookStore: external callback registrations addressed by token
//   - ChunkStore: append-only stream chunks in chunk-id order
//   - JobStore: the leased job table backing the queue
//
// Store composes all of them. One implementation exists per backend
// (postgres, mysql, sqlite); each creates its schema with idempotent DDL on
// construction. Every write returns the post-write row state.
//
// Failure semantics: a missing row yields *errors.NotFoundError, a duplicate
// primary key on create yields *errors.ConflictError, and all other driver
// errors surface wrapped.
package storage

import (
	"context"
	"time"
)

// RunStore is the run lifecycle contract.
//
// State machine: pending -> running -> (paused <-> running) -> completed |
// failed | cancelled. Terminal states are completed, failed, and cancelled.
// startedAt is set exactly once, on the first transition to running;
// completedAt is set on the first transition to a terminal state and never
// cleared.
type RunStore interface {
	// CreateRun inserts a new run with status pending and a generated id.
	CreateRun(ctx context.Context, params CreateRunParams) (*Run, error)

	// GetRun retrieves a run by id.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// UpdateRun applies a partial update. Nil patch fields are left
	// unchanged. Transitions to running and to terminal states maintain
	// startedAt/completedAt per the state machine rules.
	UpdateRun(ctx context.Context, runID string, patch RunPatch) (*Run, error)

	// CancelRun moves a non-terminal run to cancelled and stamps
	// completedAt. Cancelling an already-terminal run is a no-op that
	// returns the current row.
	CancelRun(ctx context.Context, runID string) (*Run, error)

	// PauseRun moves a non-terminal run to paused. Pausing an
	// already-paused run is a no-op that returns the current row.
	PauseRun(ctx context.Context, runID string) (*Run, error)

	// ResumeRun moves a paused run back to running. Any other current
	// status yields a "paused run" NotFoundError.
	ResumeRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns pages runs by descending runId.
	ListRuns(ctx context.Context, params ListRunsParams) (*RunPage, error)
}

// StepStore records individual step attempts within a run.
type StepStore interface {
	// CreateStep inserts a step. When params.StepID is set the call is
	// idempotent: a duplicate id returns the existing row instead of
	// failing. An empty StepID gets a generated id.
	CreateStep(ctx context.Context, params CreateStepParams) (*Step, error)

	// GetStep retrieves a step by id.
	GetStep(ctx context.Context, stepID string) (*Step, error)

	// UpdateStep applies a partial update with the same
	// startedAt/completedAt rules as runs (completed or failed stamps
	// completedAt).
	UpdateStep(ctx context.Context, stepID string, patch StepPatch) (*Step, error)
}

// EventStore is the append-only event log.
type EventStore interface {
	// CreateEvent appends an event and returns it with the assigned
	// id and createdAt.
	CreateEvent(ctx context.Context, params CreateEventParams) (*Event, error)

	// ListEvents pages the events of a run, ascending by eventId unless
	// params.Descending is set.
	ListEvents(ctx context.Context, runID string, params ListEventsParams) (*EventPage, error)

	// ListEventsByCorrelation pages events sharing a correlation id
	// across runs, same ordering rules as ListEvents.
	ListEventsByCorrelation(ctx context.Context, correlationID string, params ListEventsParams) (*EventPage, error)
}

// HookStore persists external callback registrations.
type HookStore interface {
	// CreateHook inserts a hook with a generated id.
	CreateHook(ctx context.Context, params CreateHookParams) (*Hook, error)

	// GetHookByToken retrieves a hook by its opaque token.
	GetHookByToken(ctx context.Context, token string) (*Hook, error)

	// DisposeHook removes a hook and returns the prior row.
	DisposeHook(ctx context.Context, hookID string) (*Hook, error)
}

// ChunkStore is the append-only chunk log backing byte streams.
type ChunkStore interface {
	// AppendChunk appends a chunk with a generated, time-ordered chunk id.
	AppendChunk(ctx context.Context, streamID string, data []byte, eof bool) (*Chunk, error)

	// ListChunks returns up to limit chunks of a stream with
	// chunkId > afterChunkID, ascending. An empty afterChunkID starts at
	// the beginning; limit <= 0 selects the default batch size.
	ListChunks(ctx context.Context, streamID string, afterChunkID string, limit int) ([]*Chunk, error)
}

// JobStore is the leased job table used by the queue. Leases make delivery
// at-least-once: a job whose lock expired is visible to ListDueJobs again
// and can be re-leased by any worker.
type JobStore interface {
	// EnqueueJob inserts a job row. When params.IdempotencyKey is set and
	// a job with the same key already exists, the existing row is
	// returned without inserting; a lost insert race on the key's unique
	// index degrades to the same read-back.
	EnqueueJob(ctx context.Context, params EnqueueJobParams) (*Job, error)

	// GetJob retrieves a job by id.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// GetJobByIdempotencyKey retrieves a job by idempotency key.
	GetJobByIdempotencyKey(ctx context.Context, key string) (*Job, error)

	// ListDueJobs returns up to limit jobs of a queue that are ready to
	// lease at now: pending and scheduled, or processing with an expired
	// lock. Rows come back in primary-key order.
	ListDueJobs(ctx context.Context, queueName string, now time.Time, limit int) ([]*Job, error)

	// LeaseJob attempts to lease a job until the given deadline,
	// incrementing its attempt counter. It reports whether this caller
	// won the lease.
	LeaseJob(ctx context.Context, jobID string, now, until time.Time) (bool, error)

	// CompleteJob marks a job completed and clears its lock.
	CompleteJob(ctx context.Context, jobID string) error

	// FailJob marks a job failed, records the error, and clears its lock.
	FailJob(ctx context.Context, jobID string, jobErr string) error

	// RetryJob returns a job to pending with a new scheduled time,
	// records the error, and clears its lock.
	RetryJob(ctx context.Context, jobID string, jobErr string, scheduledFor time.Time) error

	// CountJobsByStatus returns job counts grouped by status. An empty
	// queueName counts across all queues.
	CountJobsByStatus(ctx context.Context, queueName string) (map[JobStatus]int, error)
}

// Store is the composite persistence interface implemented by each backend.
type Store interface {
	RunStore
	StepStore
	EventStore
	HookStore
	ChunkStore
	JobStore
}

// DefaultListLimit applies when a list operation is called with limit <= 0.
const DefaultListLimit = 50

// DefaultChunkBatch is the chunk page size used by stream readers.
const DefaultChunkBatch = 100

// Limit normalizes a caller-provided page size.
func Limit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

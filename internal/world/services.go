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

package world

import (
	"context"
	"fmt"

	"github.com/ejc3/workflow/internal/auth"
	"github.com/ejc3/workflow/internal/metrics"
	"github.com/ejc3/workflow/internal/storage"
)

// RunService exposes the run lifecycle. Every failing storage call is
// counted by operation and error type before the error surfaces unchanged,
// so callers keep the typed errors and dashboards see the failure rate.
type RunService struct {
	store storage.RunStore
}

// Create inserts a new run in status pending.
func (s *RunService) Create(ctx context.Context, params storage.CreateRunParams) (*storage.Run, error) {
	run, err := s.store.CreateRun(ctx, params)
	if err != nil {
		metrics.RecordStorageError("CreateRun", metrics.ErrorType(err))
		return nil, err
	}
	return run, nil
}

// Get fetches a run by id.
func (s *RunService) Get(ctx context.Context, runID string) (*storage.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		metrics.RecordStorageError("GetRun", metrics.ErrorType(err))
		return nil, err
	}
	return run, nil
}

// Update applies a partial update and returns the new row state.
func (s *RunService) Update(ctx context.Context, runID string, patch storage.RunPatch) (*storage.Run, error) {
	run, err := s.store.UpdateRun(ctx, runID, patch)
	if err != nil {
		metrics.RecordStorageError("UpdateRun", metrics.ErrorType(err))
		return nil, err
	}
	return run, nil
}

// Cancel moves a non-terminal run to cancelled.
func (s *RunService) Cancel(ctx context.Context, runID string) (*storage.Run, error) {
	run, err := s.store.CancelRun(ctx, runID)
	if err != nil {
		metrics.RecordStorageError("CancelRun", metrics.ErrorType(err))
		return nil, err
	}
	return run, nil
}

// Pause moves a running run to paused.
func (s *RunService) Pause(ctx context.Context, runID string) (*storage.Run, error) {
	run, err := s.store.PauseRun(ctx, runID)
	if err != nil {
		metrics.RecordStorageError("PauseRun", metrics.ErrorType(err))
		return nil, err
	}
	return run, nil
}

// Resume moves a paused run back to running.
func (s *RunService) Resume(ctx context.Context, runID string) (*storage.Run, error) {
	run, err := s.store.ResumeRun(ctx, runID)
	if err != nil {
		metrics.RecordStorageError("ResumeRun", metrics.ErrorType(err))
		return nil, err
	}
	return run, nil
}

// List pages runs newest first.
func (s *RunService) List(ctx context.Context, params storage.ListRunsParams) (*storage.RunPage, error) {
	page, err := s.store.ListRuns(ctx, params)
	if err != nil {
		metrics.RecordStorageError("ListRuns", metrics.ErrorType(err))
		return nil, err
	}
	return page, nil
}

// StepService exposes step attempts within a run.
type StepService struct {
	store storage.StepStore
}

// Create inserts a step attempt, idempotently when a step id is supplied.
func (s *StepService) Create(ctx context.Context, params storage.CreateStepParams) (*storage.Step, error) {
	step, err := s.store.CreateStep(ctx, params)
	if err != nil {
		metrics.RecordStorageError("CreateStep", metrics.ErrorType(err))
		return nil, err
	}
	return step, nil
}

// Get fetches a step by id.
func (s *StepService) Get(ctx context.Context, stepID string) (*storage.Step, error) {
	step, err := s.store.GetStep(ctx, stepID)
	if err != nil {
		metrics.RecordStorageError("GetStep", metrics.ErrorType(err))
		return nil, err
	}
	return step, nil
}

// Update applies a partial update and returns the new row state.
func (s *StepService) Update(ctx context.Context, stepID string, patch storage.StepPatch) (*storage.Step, error) {
	step, err := s.store.UpdateStep(ctx, stepID, patch)
	if err != nil {
		metrics.RecordStorageError("UpdateStep", metrics.ErrorType(err))
		return nil, err
	}
	return step, nil
}

// EventService exposes the append-only run event log.
type EventService struct {
	store storage.EventStore
}

// Create appends an event to a run's log.
func (s *EventService) Create(ctx context.Context, params storage.CreateEventParams) (*storage.Event, error) {
	event, err := s.store.CreateEvent(ctx, params)
	if err != nil {
		metrics.RecordStorageError("CreateEvent", metrics.ErrorType(err))
		return nil, err
	}
	return event, nil
}

// List pages a run's events in insertion order.
func (s *EventService) List(ctx context.Context, runID string, params storage.ListEventsParams) (*storage.EventPage, error) {
	page, err := s.store.ListEvents(ctx, runID, params)
	if err != nil {
		metrics.RecordStorageError("ListEvents", metrics.ErrorType(err))
		return nil, err
	}
	return page, nil
}

// ListByCorrelation pages events across runs that share a correlation id.
func (s *EventService) ListByCorrelation(ctx context.Context, correlationID string, params storage.ListEventsParams) (*storage.EventPage, error) {
	page, err := s.store.ListEventsByCorrelation(ctx, correlationID, params)
	if err != nil {
		metrics.RecordStorageError("ListEventsByCorrelation", metrics.ErrorType(err))
		return nil, err
	}
	return page, nil
}

// HookService exposes external callback registrations. Creation stamps the
// tenant identity from the auth provider onto the hook row; any tenant
// fields the caller set are replaced.
type HookService struct {
	store    storage.HookStore
	provider auth.Provider
}

// Create registers a hook addressed by its token.
func (s *HookService) Create(ctx context.Context, params storage.CreateHookParams) (*storage.Hook, error) {
	identity, err := s.provider.Identity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve identity: %w", err)
	}
	params.Environment = identity.Environment
	params.OwnerID = identity.OwnerID
	params.ProjectID = identity.ProjectID

	hook, err := s.store.CreateHook(ctx, params)
	if err != nil {
		metrics.RecordStorageError("CreateHook", metrics.ErrorType(err))
		return nil, err
	}
	return hook, nil
}

// GetByToken resolves a hook from its opaque token.
func (s *HookService) GetByToken(ctx context.Context, token string) (*storage.Hook, error) {
	hook, err := s.store.GetHookByToken(ctx, token)
	if err != nil {
		metrics.RecordStorageError("GetHookByToken", metrics.ErrorType(err))
		return nil, err
	}
	return hook, nil
}

// Dispose deletes a hook and returns its final state.
func (s *HookService) Dispose(ctx context.Context, hookID string) (*storage.Hook, error) {
	hook, err := s.store.DisposeHook(ctx, hookID)
	if err != nil {
		metrics.RecordStorageError("DisposeHook", metrics.ErrorType(err))
		return nil, err
	}
	return hook, nil
}

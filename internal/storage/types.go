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

package storage

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// StepStatus is the lifecycle state of a step attempt.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Terminal reports whether the step status admits no further transitions.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// JobStatus is the lifecycle state of a queue job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Run is a workflow run in storage.
type Run struct {
	RunID            string          `json:"run_id"`
	DeploymentID     string          `json:"deployment_id"`
	WorkflowName     string          `json:"workflow_name"`
	Status           RunStatus       `json:"status"`
	Input            json.RawMessage `json:"input,omitempty"`
	Output           json.RawMessage `json:"output,omitempty"`
	ExecutionContext json.RawMessage `json:"execution_context,omitempty"`
	Error            string          `json:"error,omitempty"`
	ErrorCode        string          `json:"error_code,omitempty"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// CreateRunParams are the caller-supplied fields of a new run.
type CreateRunParams struct {
	DeploymentID     string
	WorkflowName     string
	Input            json.RawMessage
	ExecutionContext json.RawMessage
}

// RunPatch is a partial run update. Nil fields are left unchanged.
type RunPatch struct {
	Status           *RunStatus
	Output           *json.RawMessage
	ExecutionContext *json.RawMessage
	Error            *string
	ErrorCode        *string
}

// ListRunsParams filter and page a run listing.
type ListRunsParams struct {
	// WorkflowName filters by workflow when non-empty.
	WorkflowName string

	// Status filters by status when non-empty.
	Status RunStatus

	// Limit is the page size; <= 0 selects DefaultListLimit.
	Limit int

	// Cursor is the runId of the last row of the previous page. Pages
	// run descending, so the next page holds runIds below the cursor.
	Cursor string
}

// RunPage is one page of a run listing.
type RunPage struct {
	Runs []*Run `json:"runs"`

	// Cursor continues the listing when HasMore is true.
	Cursor string `json:"cursor,omitempty"`

	// HasMore reports whether rows beyond this page exist.
	HasMore bool `json:"has_more"`
}

// Step is one attempt of a named step inside a run.
type Step struct {
	StepID      string          `json:"step_id"`
	RunID       string          `json:"run_id"`
	StepName    string          `json:"step_name"`
	Status      StepStatus      `json:"status"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	Attempt     int             `json:"attempt"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CreateStepParams are the caller-supplied fields of a new step.
type CreateStepParams struct {
	// StepID makes creation idempotent when set; empty means generate.
	StepID   string
	RunID    string
	StepName string
	Input    json.RawMessage

	// Attempt defaults to 1 when <= 0.
	Attempt int
}

// StepPatch is a partial step update. Nil fields are left unchanged.
type StepPatch struct {
	Status    *StepStatus
	Output    *json.RawMessage
	Error     *string
	ErrorCode *string
	Attempt   *int
}

// Event is an immutable record in a run's event log.
type Event struct {
	EventID       string          `json:"event_id"`
	RunID         string          `json:"run_id"`
	EventType     string          `json:"event_type"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	EventData     json.RawMessage `json:"event_data,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// CreateEventParams are the caller-supplied fields of a new event.
type CreateEventParams struct {
	RunID         string
	EventType     string
	CorrelationID string
	EventData     json.RawMessage
}

// ListEventsParams page an event listing.
type ListEventsParams struct {
	// Limit is the page size; <= 0 selects DefaultListLimit.
	Limit int

	// Cursor is the eventId of the last row of the previous page.
	Cursor string

	// Descending flips the default ascending eventId order.
	Descending bool
}

// EventPage is one page of an event listing.
type EventPage struct {
	Events  []*Event `json:"events"`
	Cursor  string   `json:"cursor,omitempty"`
	HasMore bool     `json:"has_more"`
}

// Hook is an external callback registration addressed by an opaque token.
type Hook struct {
	HookID      string          `json:"hook_id"`
	RunID       string          `json:"run_id"`
	Token       string          `json:"token"`
	OwnerID     string          `json:"owner_id,omitempty"`
	ProjectID   string          `json:"project_id,omitempty"`
	Environment string          `json:"environment,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CreateHookParams are the caller-supplied fields of a new hook.
type CreateHookParams struct {
	RunID       string
	Token       string
	OwnerID     string
	ProjectID   string
	Environment string
	Metadata    json.RawMessage
}

// Chunk is one element of an append-only byte stream. Chunk ids are
// time-ordered, so ascending chunkId is write order.
type Chunk struct {
	StreamID  string    `json:"stream_id"`
	ChunkID   string    `json:"chunk_id"`
	Data      []byte    `json:"data,omitempty"`
	EOF       bool      `json:"eof"`
	CreatedAt time.Time `json:"created_at"`
}

// Job is a row in the leased job table.
type Job struct {
	ID             string          `json:"id"`
	QueueName      string          `json:"queue_name"`
	Payload        json.RawMessage `json:"payload"`
	Status         JobStatus       `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	LockedUntil    *time.Time      `json:"locked_until,omitempty"`
	ScheduledFor   time.Time       `json:"scheduled_for"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// EnqueueJobParams are the fields of a new job row.
type EnqueueJobParams struct {
	// ID is the caller-minted message id (msg_<ulid>) used as primary key.
	ID        string
	QueueName string
	Payload   json.RawMessage

	// MaxAttempts defaults to 3 when <= 0.
	MaxAttempts int

	// ScheduledFor defaults to now when zero.
	ScheduledFor time.Time

	// IdempotencyKey deduplicates enqueues when non-empty.
	IdempotencyKey string
}

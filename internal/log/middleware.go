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

package log

import (
	"log/slog"
	"time"
)

// DispatchRequest describes one queue job dispatch for logging purposes.
type DispatchRequest struct {
	// Queue is the logical queue name the job was leased from.
	Queue string

	// JobID is the job row identifier.
	JobID string

	// MessageID is the caller-visible message identifier.
	MessageID string

	// Attempt is the delivery attempt number, starting at 1.
	Attempt int

	// Worker identifies the worker goroutine that leased the job.
	Worker string
}

// DispatchResult describes the outcome of one dispatch.
type DispatchResult struct {
	// Success indicates whether the handler returned without error.
	Success bool

	// Error is the handler error message if the dispatch failed.
	Error string

	// DurationMs is the handler execution time in milliseconds.
	DurationMs int64
}

// LogDispatch logs a leased job about to be handed to the executor.
func LogDispatch(logger *slog.Logger, req *DispatchRequest) {
	logger.Debug("dispatching job",
		QueueKey, req.Queue,
		JobIDKey, req.JobID,
		"message_id", req.MessageID,
		"attempt", req.Attempt,
		"worker", req.Worker,
	)
}

// LogDispatchResult logs the outcome of a dispatched job.
func LogDispatchResult(logger *slog.Logger, req *DispatchRequest, res *DispatchResult) {
	attrs := []any{
		QueueKey, req.Queue,
		JobIDKey, req.JobID,
		"message_id", req.MessageID,
		"attempt", req.Attempt,
		"worker", req.Worker,
		DurationKey, res.DurationMs,
	}

	if res.Error != "" {
		attrs = append(attrs, "error", res.Error)
	}

	level := slog.LevelInfo
	message := "job completed"

	if !res.Success {
		level = slog.LevelWarn
		message = "job handler failed"
	}

	logger.Log(nil, level, message, attrs...)
}

// DispatchMiddleware wraps a job handler invocation with request and
// result logging.
type DispatchMiddleware struct {
	logger *slog.Logger
}

// NewDispatchMiddleware creates a new dispatch logging middleware.
func NewDispatchMiddleware(logger *slog.Logger) *DispatchMiddleware {
	return &DispatchMiddleware{
		logger: logger,
	}
}

// Handler runs the given handler function, logging the dispatch on entry
// and its outcome with duration on return. The handler error is passed
// through unchanged.
func (m *DispatchMiddleware) Handler(req *DispatchRequest, handler func() error) error {
	start := time.Now()

	LogDispatch(m.logger, req)

	err := handler()

	res := &DispatchResult{
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		res.Error = err.Error()
	}

	LogDispatchResult(m.logger, req, res)

	return err
}

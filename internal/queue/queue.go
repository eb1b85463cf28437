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

// Package queue implements the leased, at-least-once job queue on top of
// the job store.
//
// Producers call Enqueue with a caller-facing queue name
// (__wkf_workflow_<id> or __wkf_step_<id>); the prefix selects one of two
// logical job queues (<jobPrefix>flows, <jobPrefix>steps) and the message
// is persisted as a job row. Start spawns a fixed number of polling
// workers per logical queue. Each worker leases due jobs with a
// conditional update, dispatches them to the injected Handler, and marks
// them completed, retried with exponential backoff, or failed once the
// attempt budget is exhausted. Leases expire, so a job held by a crashed
// worker becomes due again and is re-leased by another worker; handlers
// must tolerate repeated delivery.
//
// Polling runs on every backend. On PostgreSQL an enqueue additionally
// notifies JobAvailableChannel so the daemon can Wake the workers without
// waiting out the poll interval.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ejc3/workflow/internal/ident"
	"github.com/ejc3/workflow/internal/log"
	"github.com/ejc3/workflow/internal/metrics"
	"github.com/ejc3/workflow/internal/storage"
	wferrors "github.com/ejc3/workflow/pkg/errors"
)

// Caller-facing queue name prefixes. The id after the prefix is opaque.
const (
	WorkflowQueuePrefix = "__wkf_workflow_"
	StepQueuePrefix     = "__wkf_step_"
)

// Logical job queue suffixes appended to the job prefix.
const (
	flowsSuffix = "flows"
	stepsSuffix = "steps"
)

// JobAvailableChannel is the PostgreSQL notification channel signalled
// after each enqueue.
const JobAvailableChannel = "workflow_job_available"

// MessageData is the persisted job payload. Field names are part of the
// wire format shared with the executor.
type MessageData struct {
	// ID is the opaque queue id parsed out of the caller-facing name.
	ID string `json:"id"`

	// Data is the caller's message, serialized.
	Data json.RawMessage `json:"data"`

	// Attempt is the delivery attempt number, starting at 1. The stored
	// payload keeps the enqueue-time value; workers overwrite it with
	// the current attempt before dispatching.
	Attempt int `json:"attempt"`

	// MessageID is the job row id (msg_<ulid>).
	MessageID string `json:"messageId"`

	// IdempotencyKey echoes the enqueue option when one was given.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// Handler processes one dispatched message. name is the reconstructed
// caller-facing queue name (prefix plus queue id). Returning an error
// schedules a retry until the job's attempt budget is exhausted.
type Handler func(ctx context.Context, name string, msg MessageData) error

// Notifier publishes an enqueue wakeup. The postgres adapter implements
// it; the other backends run without one.
type Notifier interface {
	Notify(ctx context.Context, channel, payload string) error
}

// Config contains queue tuning. Zero values select the defaults.
type Config struct {
	// JobPrefix names the logical queues (<prefix>flows, <prefix>steps).
	// Defaults to "workflow_".
	JobPrefix string

	// Concurrency is the number of workers per logical queue.
	// Defaults to 10.
	Concurrency int

	// PollInterval is the worker poll cadence. Defaults to 200ms.
	PollInterval time.Duration

	// LeaseFor is the lease duration and handler timeout.
	// Defaults to 30s.
	LeaseFor time.Duration

	// BatchSize is the maximum number of due jobs fetched per poll.
	// Defaults to 10.
	BatchSize int

	// MaxAttempts is the attempt budget stamped on new jobs.
	// Defaults to 3.
	MaxAttempts int
}

// Option customizes a Queue.
type Option func(*Queue)

// WithNotifier makes Enqueue signal JobAvailableChannel after each insert.
func WithNotifier(n Notifier) Option {
	return func(q *Queue) {
		q.notifier = n
	}
}

// WithLogger overrides the default component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// EnqueueOption customizes a single enqueue.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	idempotencyKey string
}

// WithIdempotencyKey deduplicates enqueues: a second call with the same
// key returns the first call's message id without inserting a row.
func WithIdempotencyKey(key string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.idempotencyKey = key
	}
}

// Queue is the polling job queue. It is safe for concurrent use.
type Queue struct {
	store    storage.JobStore
	handler  Handler
	notifier Notifier
	logger   *slog.Logger
	mw       *log.DispatchMiddleware

	jobPrefix    string
	concurrency  int
	pollInterval time.Duration
	leaseFor     time.Duration
	batchSize    int
	maxAttempts  int

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wakeChs []chan struct{}
	wg      sync.WaitGroup
}

// New creates a queue over the given job store. The handler is invoked by
// workers for every leased job once Start has been called.
func New(cfg Config, store storage.JobStore, handler Handler, opts ...Option) *Queue {
	if cfg.JobPrefix == "" {
		cfg.JobPrefix = "workflow_"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 200 * time.Millisecond
	}
	if cfg.LeaseFor <= 0 {
		cfg.LeaseFor = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	q := &Queue{
		store:        store,
		handler:      handler,
		logger:       slog.Default().With(slog.String("component", "queue")),
		jobPrefix:    cfg.JobPrefix,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		leaseFor:     cfg.LeaseFor,
		batchSize:    cfg.BatchSize,
		maxAttempts:  cfg.MaxAttempts,
	}

	for _, opt := range opts {
		opt(q)
	}
	q.mw = log.NewDispatchMiddleware(q.logger)

	return q
}

// splitName parses a caller-facing queue name into its prefix and opaque id.
func splitName(name string) (prefix, id string, err error) {
	for _, p := range []string{WorkflowQueuePrefix, StepQueuePrefix} {
		if strings.HasPrefix(name, p) && len(name) > len(p) {
			return p, name[len(p):], nil
		}
	}
	return "", "", &wferrors.ValidationError{
		Field:      "name",
		Message:    fmt.Sprintf("queue name %q is not recognized", name),
		Suggestion: fmt.Sprintf("use %s<id> or %s<id>", WorkflowQueuePrefix, StepQueuePrefix),
	}
}

// queueName maps a caller-facing prefix to its logical job queue.
func (q *Queue) queueName(prefix string) string {
	if prefix == WorkflowQueuePrefix {
		return q.jobPrefix + flowsSuffix
	}
	return q.jobPrefix + stepsSuffix
}

// Enqueue serializes message and inserts a pending job on the logical
// queue selected by the name prefix. It returns the message id. With an
// idempotency key, a repeat enqueue returns the original message id and
// inserts nothing. Enqueue never blocks on workers.
func (q *Queue) Enqueue(ctx context.Context, name string, message any, opts ...EnqueueOption) (string, error) {
	var options enqueueOptions
	for _, opt := range opts {
		opt(&options)
	}

	prefix, queueID, err := splitName(name)
	if err != nil {
		return "", err
	}
	queueName := q.queueName(prefix)

	data, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	messageID := ident.MessageID()
	payload, err := json.Marshal(MessageData{
		ID:             queueID,
		Data:           data,
		Attempt:        1,
		MessageID:      messageID,
		IdempotencyKey: options.idempotencyKey,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}

	job, err := q.store.EnqueueJob(ctx, storage.EnqueueJobParams{
		ID:             messageID,
		QueueName:      queueName,
		Payload:        payload,
		MaxAttempts:    q.maxAttempts,
		IdempotencyKey: options.idempotencyKey,
	})
	if err != nil {
		metrics.RecordStorageError("EnqueueJob", metrics.ErrorType(err))
		return "", err
	}

	if job.ID == messageID {
		metrics.RecordJobEnqueued(queueName)
		q.logger.Debug("job enqueued",
			slog.String(log.QueueKey, queueName),
			slog.String(log.JobIDKey, job.ID),
		)
	}

	if q.notifier != nil {
		// Wakeup only; pollers find the job regardless.
		if nerr := q.notifier.Notify(ctx, JobAvailableChannel, queueName); nerr != nil {
			q.logger.Warn("failed to notify job availability",
				slog.String(log.QueueKey, queueName),
				slog.Any("error", nerr),
			)
		}
	}

	return job.ID, nil
}

// Start spawns the polling workers. Calling Start on a running queue is a
// no-op. The context bounds all worker activity, including in-flight
// handlers.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true
	q.stopCh = make(chan struct{})
	q.wakeChs = nil

	queues := []struct {
		name   string
		prefix string
	}{
		{q.jobPrefix + flowsSuffix, WorkflowQueuePrefix},
		{q.jobPrefix + stepsSuffix, StepQueuePrefix},
	}
	for _, spec := range queues {
		for i := 0; i < q.concurrency; i++ {
			wake := make(chan struct{}, 1)
			q.wakeChs = append(q.wakeChs, wake)
			q.wg.Add(1)
			go q.worker(ctx, spec.name, spec.prefix, wake)
		}
	}

	q.logger.Info("queue started",
		slog.Int("concurrency", q.concurrency),
		slog.Duration("poll_interval", q.pollInterval),
	)
}

// Stop halts polling and waits for in-flight handlers to finish, or for
// the context to expire. The queue can be started again afterwards.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	close(q.stopCh)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain queue workers: %w", ctx.Err())
	}
}

// Wake nudges every worker to poll immediately instead of waiting out the
// poll interval. The daemon calls it when a job-available notification
// arrives; a wakeup with no due jobs is harmless.
func (q *Queue) Wake() {
	q.mu.Lock()
	chs := q.wakeChs
	q.mu.Unlock()

	for _, ch := range chs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Stats returns job counts grouped by status for one logical queue, or
// across all queues when name is empty. The name is a caller-facing queue
// name such as "__wkf_workflow_x"; pass "flows" or "steps" to address a
// logical queue directly.
func (q *Queue) Stats(ctx context.Context, name string) (map[storage.JobStatus]int, error) {
	queueName := ""
	switch {
	case name == "":
	case name == flowsSuffix || name == stepsSuffix:
		queueName = q.jobPrefix + name
	default:
		prefix, _, err := splitName(name)
		if err != nil {
			return nil, err
		}
		queueName = q.queueName(prefix)
	}

	counts, err := q.store.CountJobsByStatus(ctx, queueName)
	if err != nil {
		metrics.RecordStorageError("CountJobsByStatus", metrics.ErrorType(err))
		return nil, err
	}
	return counts, nil
}

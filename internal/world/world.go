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

// Package world composes the durable workflow substrate over one database.
//
// New selects the backend from configuration and Start connects it, runs
// the migrations, and brings up the background machinery. The resulting
// World hands out the run, step, event, and hook services together with
// the job queue, the chunk streamer, and a health checker, all sharing the
// adapter's connection pool.
//
// On PostgreSQL the queue and streamer additionally ride LISTEN/NOTIFY:
// enqueues and appends NOTIFY, and one dedicated listener connection per
// concern feeds wakeups back in, so work is picked up without waiting out
// a poll interval. MySQL and SQLite run on polling alone.
package world

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ejc3/workflow/internal/auth"
	"github.com/ejc3/workflow/internal/config"
	"github.com/ejc3/workflow/internal/db"
	"github.com/ejc3/workflow/internal/health"
	"github.com/ejc3/workflow/internal/log"
	"github.com/ejc3/workflow/internal/queue"
	"github.com/ejc3/workflow/internal/storage"
	"github.com/ejc3/workflow/internal/storage/mysql"
	"github.com/ejc3/workflow/internal/storage/postgres"
	"github.com/ejc3/workflow/internal/storage/sqlite"
	"github.com/ejc3/workflow/internal/stream"
)

// reconnectDelay paces job listener reconnection attempts.
const reconnectDelay = time.Second

// Option customizes a World.
type Option func(*World)

// WithHandler sets the function queue workers invoke for every leased job.
// Without a handler the queue accepts enqueues but starts no workers, which
// is the mode command-line tools use against a shared database.
func WithHandler(h queue.Handler) Option {
	return func(w *World) {
		w.handler = h
	}
}

// WithLogger sets the base logger that component loggers derive from.
// Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(w *World) {
		w.base = logger
	}
}

// World is the assembled substrate: one database adapter, the storage
// implementation for its backend, and the queue, streamer, auth, and
// health components wired over it.
//
// The component accessors are valid between a successful Start and Stop.
type World struct {
	cfg       *config.Config
	base      *slog.Logger
	logger    *slog.Logger
	handler   queue.Handler
	jobPrefix string

	adapter  db.Adapter
	store    storage.Store
	queue    *queue.Queue
	streamer *stream.Streamer
	provider auth.Provider
	checker  *health.Checker

	runs   *RunService
	steps  *StepService
	events *EventService
	hooks  *HookService

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a World for the backend named by the configuration. The
// database is not touched until Start.
func New(cfg *config.Config, opts ...Option) (*World, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	adapter, err := db.New(cfg.ResolveDatabaseType(), db.Config{URL: cfg.SQL.URL})
	if err != nil {
		return nil, fmt.Errorf("failed to create database adapter: %w", err)
	}

	jobPrefix := cfg.SQL.JobPrefix
	if jobPrefix == "" {
		jobPrefix = "workflow_"
	}

	w := &World{
		cfg:       cfg,
		jobPrefix: jobPrefix,
		adapter:   adapter,
		provider: auth.NewStaticProvider(auth.Identity{
			Environment: cfg.Tenant.Environment,
			OwnerID:     cfg.Tenant.OwnerID,
			ProjectID:   cfg.Tenant.ProjectID,
		}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.base == nil {
		w.base = slog.Default()
	}
	w.logger = log.WithComponent(w.base, "world")
	return w, nil
}

// Start connects the database, runs the idempotent migrations, and starts
// the queue workers and notification listeners. Calling Start on a started
// World is a no-op. The context bounds setup and all background work.
func (w *World) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}

	if err := w.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", w.adapter.Type(), err)
	}

	store, err := w.newStore(ctx)
	if err != nil {
		if derr := w.adapter.Disconnect(ctx); derr != nil {
			w.logger.Warn("failed to disconnect after setup error", slog.Any("error", derr))
		}
		return err
	}
	w.store = store

	identity, err := w.provider.Identity(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve identity: %w", err)
	}

	queueOpts := []queue.Option{queue.WithLogger(log.WithComponent(w.base, "queue"))}
	streamOpts := []stream.Option{stream.WithLogger(log.WithComponent(w.base, "streamer"))}
	pg, _ := w.adapter.(*db.Postgres)
	if pg != nil {
		queueOpts = append(queueOpts, queue.WithNotifier(pg))
		streamOpts = append(streamOpts, stream.WithNotifier(pg), stream.WithListenerSource(pg))
	}

	w.queue = queue.New(queue.Config{
		JobPrefix:   w.jobPrefix,
		Concurrency: w.cfg.SQL.WorkerConcurrency,
	}, store, w.handler, queueOpts...)
	w.streamer = stream.New(store, streamOpts...)
	w.checker = health.New(w.adapter, store, identity)

	w.runs = &RunService{store: store}
	w.steps = &StepService{store: store}
	w.events = &EventService{store: store}
	w.hooks = &HookService{store: store, provider: w.provider}

	w.streamer.Start(ctx)
	if w.handler != nil {
		w.queue.Start(ctx)
		if pg != nil {
			lctx, cancel := context.WithCancel(ctx)
			w.cancel = cancel
			w.wg.Add(1)
			go w.listenJobs(lctx, pg)
		}
	} else {
		w.logger.Info("no job handler configured, queue workers disabled")
	}

	w.started = true
	w.logger.Info("world started",
		slog.String("backend", string(w.adapter.Type())),
	)
	return nil
}

// Stop drains the queue workers, stops the streamer and the job listener,
// and closes the connection pool. The context bounds the drain. Calling
// Stop on a stopped World is a no-op.
func (w *World) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return nil
	}
	w.started = false

	var firstErr error
	if err := w.queue.Stop(ctx); err != nil {
		w.logger.Warn("failed to stop queue", slog.Any("error", err))
		firstErr = err
	}
	if err := w.streamer.Stop(ctx); err != nil {
		w.logger.Warn("failed to stop streamer", slog.Any("error", err))
		if firstErr == nil {
			firstErr = err
		}
	}

	if w.cancel != nil {
		w.cancel()
		w.cancel = nil

		done := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			w.logger.Warn("failed to drain job listener", slog.Any("error", ctx.Err()))
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to drain job listener: %w", ctx.Err())
			}
		}
	}

	if err := w.adapter.Disconnect(ctx); err != nil {
		w.logger.Warn("failed to disconnect", slog.Any("error", err))
		if firstErr == nil {
			firstErr = err
		}
	}

	w.logger.Info("world stopped")
	return firstErr
}

// newStore creates the storage implementation for the connected backend.
// Each constructor runs its idempotent schema migration.
func (w *World) newStore(ctx context.Context) (storage.Store, error) {
	switch w.adapter.Type() {
	case config.DatabasePostgres:
		store, err := postgres.New(ctx, w.adapter.DB(), w.jobPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres store: %w", err)
		}
		return store, nil
	case config.DatabaseMySQL:
		store, err := mysql.New(ctx, w.adapter.DB(), w.jobPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to create mysql store: %w", err)
		}
		return store, nil
	default:
		store, err := sqlite.New(ctx, w.adapter.DB(), w.jobPrefix)
		if err != nil {
			return nil, fmt.Errorf("failed to create sqlite store: %w", err)
		}
		return store, nil
	}
}

// listenJobs turns job-available notifications into queue wakeups so
// workers poll immediately instead of waiting out the interval.
func (w *World) listenJobs(ctx context.Context, pg *db.Postgres) {
	defer w.wg.Done()
	for {
		err := w.listenJobsOnce(ctx, pg)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.logger.Warn("job listener disconnected", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (w *World) listenJobsOnce(ctx context.Context, pg *db.Postgres) error {
	listener, err := pg.NewListener(ctx)
	if err != nil {
		return fmt.Errorf("failed to open listener connection: %w", err)
	}
	defer listener.Close(context.Background())

	if err := listener.Listen(ctx, queue.JobAvailableChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", queue.JobAvailableChannel, err)
	}

	for {
		// The payload names the logical queue; Wake fans out to every
		// worker and a wakeup with nothing due is harmless.
		if _, err := listener.WaitForNotification(ctx); err != nil {
			return err
		}
		w.queue.Wake()
	}
}

// Runs returns the run service.
func (w *World) Runs() *RunService { return w.runs }

// Steps returns the step service.
func (w *World) Steps() *StepService { return w.steps }

// Events returns the event service.
func (w *World) Events() *EventService { return w.events }

// Hooks returns the hook service.
func (w *World) Hooks() *HookService { return w.hooks }

// Queue returns the job queue.
func (w *World) Queue() *queue.Queue { return w.queue }

// Streamer returns the chunk streamer.
func (w *World) Streamer() *stream.Streamer { return w.streamer }

// Health returns the health checker.
func (w *World) Health() *health.Checker { return w.checker }

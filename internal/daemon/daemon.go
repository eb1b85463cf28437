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

// Package daemon runs the workflowd process: a World with queue workers
// dispatching to the configured HTTP executor, plus the operational HTTP
// surface (liveness, readiness, Prometheus metrics).
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ejc3/workflow/internal/config"
	"github.com/ejc3/workflow/internal/executor"
	"github.com/ejc3/workflow/internal/log"
	"github.com/ejc3/workflow/internal/tracing"
	"github.com/ejc3/workflow/internal/world"
)

// Options contains daemon options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the main workflowd daemon.
type Daemon struct {
	cfg      *config.Config
	opts     Options
	logger   *slog.Logger
	world    *world.World
	provider *tracing.Provider
	server   *http.Server
	ln       net.Listener

	mu      sync.Mutex
	started bool
}

// New creates a new daemon instance. The executor URL is required; jobs
// have nowhere to go without one.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	base := log.New(&log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		AddSource: cfg.Log.AddSource,
	})
	logger := log.WithComponent(base, "daemon")

	exec, err := executor.NewHTTP(cfg.Daemon.ExecutorURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	// Tracing is optional; the daemon serves metrics and dispatches jobs
	// either way.
	var provider *tracing.Provider
	if cfg.Tracing.Enabled {
		p, err := tracing.New(context.Background(), cfg.Tracing, opts.Version)
		if err != nil {
			logger.Warn("failed to initialize tracing provider", log.Error(err))
			logger.Warn("trace export will not be available")
		} else {
			provider = p
			logger.Info("tracing initialized",
				slog.String("protocol", cfg.Tracing.Protocol),
				slog.String("endpoint", cfg.Tracing.Endpoint))
		}
	}

	dispatcher, err := tracing.NewDispatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	w, err := world.New(cfg,
		world.WithHandler(dispatcher.Wrap(exec.Handle)),
		world.WithLogger(base),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create world: %w", err)
	}

	return &Daemon{
		cfg:      cfg,
		opts:     opts,
		logger:   logger,
		world:    w,
		provider: provider,
	}, nil
}

// World exposes the composed substrate for embedders and tests.
func (d *Daemon) World() *world.World {
	return d.world
}

// Addr returns the bound listen address, or "" before Start.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

// Start starts the daemon and blocks until the context is cancelled or
// the HTTP server fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	if err := d.world.Start(ctx); err != nil {
		return fmt.Errorf("failed to start world: %w", err)
	}

	ln, err := net.Listen("tcp", d.cfg.Daemon.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.Daemon.ListenAddr, err)
	}

	d.mu.Lock()
	d.ln = ln
	d.server = &http.Server{
		Handler:      tracing.CorrelationMiddleware(d.logRequests(d.routes())),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	server := d.server
	d.mu.Unlock()

	d.logger.Info("workflowd starting",
		slog.String("version", d.opts.Version),
		slog.String("listen_addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the daemon: first the HTTP surface,
// then the world (draining in-flight jobs), then trace export.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}

	d.logger.Info("graceful shutdown initiated")

	if d.server != nil {
		d.server.SetKeepAlivesEnabled(false)

		shutdownCtx, cancel := context.WithTimeout(ctx, d.cfg.Daemon.ShutdownTimeout.Std())
		defer cancel()

		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("HTTP server shutdown error", log.Error(err))
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, d.cfg.Daemon.ShutdownTimeout.Std())
	defer cancel()
	if err := d.world.Stop(stopCtx); err != nil {
		d.logger.Error("world shutdown error", log.Error(err))
	}

	if d.provider != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := d.provider.Shutdown(flushCtx); err != nil {
			d.logger.Error("tracing provider shutdown error", log.Error(err))
		}
	}

	d.started = false
	d.logger.Info("daemon stopped")
	return nil
}

// routes builds the operational mux. Run and step APIs are not served
// here; clients embed World or point workflowctl at the same database.
func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", d.handleLiveness)
	mux.HandleFunc("GET /readyz", d.handleReadiness)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// handleLiveness reports process liveness only; it must not depend on
// the database.
func (d *Daemon) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "workflowd",
		"version": d.opts.Version,
	})
}

// handleReadiness runs the aggregate health check. Degraded answers 503
// so load balancers stop routing probes here while the database is
// unreachable.
func (d *Daemon) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status := d.world.Health().Check(r.Context())
	code := http.StatusOK
	if !status.Healthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// logRequests logs each request at debug level. Probes arrive every few
// seconds, so this stays below info.
func (d *Daemon) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		defer func() {
			correlationID := tracing.FromContextOrEmpty(req.Context())
			d.logger.Debug("request completed",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.String("correlation_id", string(correlationID)),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		}()
		next.ServeHTTP(w, req)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.Any("error", err))
	}
}

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

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ejc3/workflow/internal/config"
	"github.com/ejc3/workflow/internal/log"
	"github.com/ejc3/workflow/internal/pidfile"
)

// RunOptions configures daemon execution.
type RunOptions struct {
	Version   string
	Commit    string
	BuildDate string

	// Config overrides
	ConfigPath  string
	ListenAddr  string
	ExecutorURL string
	DatabaseURL string
	PIDFile     string
}

// Run starts the daemon and blocks until shutdown. This is the main
// entry point for daemon execution, used by cmd/workflowd.
func Run(opts RunOptions) error {
	// Initialize structured logging from environment
	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		logger.Error("failed to load config", log.Error(err))
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Apply overrides from options
	if opts.ListenAddr != "" {
		cfg.Daemon.ListenAddr = opts.ListenAddr
	}
	if opts.ExecutorURL != "" {
		cfg.Daemon.ExecutorURL = opts.ExecutorURL
	}
	if opts.DatabaseURL != "" {
		cfg.SQL.URL = opts.DatabaseURL
	}
	if opts.PIDFile != "" {
		cfg.Daemon.PIDFile = opts.PIDFile
	}

	// Overrides can change what Load already validated
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", log.Error(err))
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Daemon.PIDFile != "" {
		lock, err := pidfile.Acquire(cfg.Daemon.PIDFile)
		if err != nil {
			logger.Error("failed to acquire pid file", log.Error(err))
			return fmt.Errorf("acquire pid file: %w", err)
		}
		defer func() {
			if err := lock.Release(); err != nil {
				logger.Warn("failed to release pid file", log.Error(err))
			}
		}()
		logger.Info("pid file acquired",
			slog.String("path", cfg.Daemon.PIDFile),
			slog.Int("pid", os.Getpid()))
	}

	d, err := New(cfg, Options{
		Version:   opts.Version,
		Commit:    opts.Commit,
		BuildDate: opts.BuildDate,
	})
	if err != nil {
		logger.Error("failed to create daemon", log.Error(err))
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
		if err := d.Shutdown(context.Background()); err != nil {
			logger.Error("error during shutdown", log.Error(err))
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil {
			logger.Error("daemon error", log.Error(err))
			return fmt.Errorf("daemon error: %w", err)
		}
		return nil
	}
}

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

package shared

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ejc3/workflow/internal/config"
	"github.com/ejc3/workflow/internal/log"
	"github.com/ejc3/workflow/internal/world"
)

// DefaultTimeout bounds one command's round trips to the database.
const DefaultTimeout = 30 * time.Second

// stopTimeout bounds teardown after the command body has returned.
const stopTimeout = 5 * time.Second

// LoadConfig loads configuration from --config, the environment, and the
// defaults, then applies the --db-url override.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, err
	}

	if url := GetDBURL(); url != "" {
		cfg.SQL.URL = url
		// Re-detect the backend; a type pinned in the config file would
		// not match the override.
		cfg.SQL.DatabaseType = ""
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	return cfg, nil
}

// WithWorld opens the substrate against the configured database, runs fn,
// and tears everything down again. No job handler is installed, so queue
// workers stay off and pending jobs are left for the daemon.
func WithWorld(ctx context.Context, fn func(context.Context, *world.World) error) error {
	cfg, err := LoadConfig()
	if err != nil {
		return err
	}

	logger := commandLogger()
	w, err := world.New(cfg, world.WithLogger(logger))
	if err != nil {
		return err
	}

	if err := w.Start(ctx); err != nil {
		return NewUnavailableError("failed to open database", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := w.Stop(stopCtx); err != nil {
			logger.Warn("failed to stop world", slog.Any("error", err))
		}
	}()

	return fn(ctx, w)
}

// commandLogger keeps component logs out of command output unless
// --verbose asks for them.
func commandLogger() *slog.Logger {
	level := "error"
	if GetVerbose() {
		level = "debug"
	}
	return log.New(&log.Config{
		Level:  level,
		Format: log.FormatText,
		Output: os.Stderr,
	})
}

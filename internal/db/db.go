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

// Package db provides connection adapters for the supported backends.
//
// An Adapter owns the *sql.DB pool for one backend and its lifecycle.
// Connect is idempotent per adapter instance; IsHealthy returns a verdict,
// never an error. The PostgreSQL adapter additionally hands out dedicated
// LISTEN connections used by the queue and streamer for low-latency wakeups.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ejc3/workflow/internal/config"
)

// Adapter is the connection lifecycle shared by all backends.
type Adapter interface {
	// Connect opens and validates the connection pool. Calling Connect on
	// an already-connected adapter is a no-op.
	Connect(ctx context.Context) error

	// DB returns the underlying pool, or nil before Connect.
	DB() *sql.DB

	// Type reports the backend this adapter serves.
	Type() config.DatabaseType

	// IsHealthy reports whether the database answers a trivial query.
	IsHealthy(ctx context.Context) bool

	// Disconnect closes the pool. Safe to call multiple times.
	Disconnect(ctx context.Context) error
}

// Config contains connection settings shared by the adapters.
type Config struct {
	// URL is the connection string. For SQLite this is a file path or
	// ":memory:", optionally prefixed with "sqlite:".
	URL string

	// MaxOpenConns caps the pool size. Zero selects the adapter default.
	// Ignored by SQLite, which always serializes writes on one connection.
	MaxOpenConns int

	// MaxIdleConns sets the idle pool size. Zero selects the adapter default.
	MaxIdleConns int

	// ConnMaxLifetime bounds connection age. Zero means unlimited.
	ConnMaxLifetime time.Duration
}

// New returns the adapter for the given backend type.
func New(dbType config.DatabaseType, cfg Config) (Adapter, error) {
	switch dbType {
	case config.DatabasePostgres:
		return NewPostgres(cfg), nil
	case config.DatabaseMySQL:
		return NewMySQL(cfg), nil
	case config.DatabaseSQLite:
		return NewSQLite(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// Notification is a NOTIFY message received on a listener connection.
type Notification struct {
	Channel string
	Payload string
}

// pingTimeout bounds the connection probe during Connect.
const pingTimeout = 5 * time.Second

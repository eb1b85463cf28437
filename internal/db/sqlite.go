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

package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/ejc3/workflow/internal/config"
	_ "modernc.org/sqlite"
)

var _ Adapter = (*SQLite)(nil)

// SQLite is the adapter for single-node deployments backed by a file or an
// in-memory database.
type SQLite struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

// NewSQLite creates a SQLite adapter. The connection opens on Connect.
func NewSQLite(cfg Config) *SQLite {
	return &SQLite{path: sqlitePath(cfg.URL)}
}

// sqlitePath strips an optional sqlite: or sqlite:// scheme so callers can
// pass either a plain path or a URL-shaped connection string.
func sqlitePath(url string) string {
	switch {
	case strings.HasPrefix(url, "sqlite://"):
		return strings.TrimPrefix(url, "sqlite://")
	case strings.HasPrefix(url, "sqlite:"):
		return strings.TrimPrefix(url, "sqlite:")
	default:
		return url
	}
}

// Connect opens the database and applies the session pragmas.
func (s *SQLite) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection. This also keeps an
	// in-memory database on a single connection instead of one per pool slot.
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",  // Concurrent readers while a writer is active
		"PRAGMA foreign_keys=ON",   // Enforce declared constraints
		"PRAGMA busy_timeout=5000", // 5 second timeout for lock contention
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	s.db = db
	return nil
}

// DB returns the underlying pool, or nil before Connect.
func (s *SQLite) DB() *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

// Type reports the backend this adapter serves.
func (s *SQLite) Type() config.DatabaseType {
	return config.DatabaseSQLite
}

// IsHealthy reports whether the database answers a trivial query.
func (s *SQLite) IsHealthy(ctx context.Context) bool {
	db := s.DB()
	if db == nil {
		return false
	}
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return false
	}
	return one == 1
}

// Disconnect closes the pool. Safe to call multiple times.
func (s *SQLite) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

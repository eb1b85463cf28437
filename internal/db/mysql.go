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
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ejc3/workflow/internal/config"
	"github.com/go-sql-driver/mysql"
)

var _ Adapter = (*MySQL)(nil)

// MySQL is the adapter for MySQL deployments. Connect opens the pool without
// probing the server; connections are established lazily on first query and
// health is reported by IsHealthy.
type MySQL struct {
	rawURL          string
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration

	mu sync.Mutex
	db *sql.DB
}

// NewMySQL creates a MySQL adapter. The pool opens on Connect.
func NewMySQL(cfg Config) *MySQL {
	m := &MySQL{
		rawURL:          cfg.URL,
		maxOpenConns:    cfg.MaxOpenConns,
		maxIdleConns:    cfg.MaxIdleConns,
		connMaxLifetime: cfg.ConnMaxLifetime,
	}
	if m.maxOpenConns == 0 {
		m.maxOpenConns = 25
	}
	if m.maxIdleConns == 0 {
		m.maxIdleConns = 5
	}
	if m.connMaxLifetime == 0 {
		// The driver recommends a lifetime below the server's wait_timeout.
		m.connMaxLifetime = 3 * time.Minute
	}
	return m
}

// Connect opens the connection pool. No ping: the server may not be
// reachable yet, and the first query or health check will surface that.
func (m *MySQL) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db != nil {
		return nil
	}

	dsn, err := DSNFromURL(m.rawURL)
	if err != nil {
		return err
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(m.maxOpenConns)
	db.SetMaxIdleConns(m.maxIdleConns)
	db.SetConnMaxLifetime(m.connMaxLifetime)

	m.db = db
	return nil
}

// DB returns the underlying pool, or nil before Connect.
func (m *MySQL) DB() *sql.DB {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db
}

// Type reports the backend this adapter serves.
func (m *MySQL) Type() config.DatabaseType {
	return config.DatabaseMySQL
}

// IsHealthy reports whether the database answers a trivial query.
func (m *MySQL) IsHealthy(ctx context.Context) bool {
	db := m.DB()
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
func (m *MySQL) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// DSNFromURL converts a mysql:// URL into the driver's DSN format. Strings
// that are already DSNs pass through. parseTime is always enabled so
// DATETIME columns scan into time.Time, and clientFoundRows so RowsAffected
// counts matched rows like the other backends.
func DSNFromURL(raw string) (string, error) {
	if !strings.HasPrefix(raw, "mysql://") {
		cfg, err := mysql.ParseDSN(raw)
		if err != nil {
			return "", fmt.Errorf("failed to parse DSN: %w", err)
		}
		cfg.ParseTime = true
		cfg.ClientFoundRows = true
		return cfg.FormatDSN(), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	if u.User != nil {
		cfg.User = u.User.Username()
		if password, ok := u.User.Password(); ok {
			cfg.Passwd = password
		}
	}
	for key, values := range u.Query() {
		if len(values) == 0 {
			continue
		}
		switch key {
		case "parseTime", "clientFoundRows":
			// Already forced on.
		default:
			if cfg.Params == nil {
				cfg.Params = make(map[string]string)
			}
			cfg.Params[key] = values[0]
		}
	}

	return cfg.FormatDSN(), nil
}

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
	"sync"
	"time"

	"github.com/ejc3/workflow/internal/config"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var _ Adapter = (*Postgres)(nil)

// Postgres is the adapter for distributed deployments. Besides the pool it
// can open dedicated listener connections for LISTEN/NOTIFY delivery.
type Postgres struct {
	url             string
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration

	mu sync.Mutex
	db *sql.DB
}

// NewPostgres creates a PostgreSQL adapter. The pool opens on Connect.
func NewPostgres(cfg Config) *Postgres {
	p := &Postgres{
		url:             cfg.URL,
		maxOpenConns:    cfg.MaxOpenConns,
		maxIdleConns:    cfg.MaxIdleConns,
		connMaxLifetime: cfg.ConnMaxLifetime,
	}
	if p.maxOpenConns == 0 {
		p.maxOpenConns = 25
	}
	if p.maxIdleConns == 0 {
		p.maxIdleConns = 5
	}
	return p
}

// Connect opens and validates the connection pool.
func (p *Postgres) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		return nil
	}

	db, err := sql.Open("pgx", p.url)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(p.maxOpenConns)
	db.SetMaxIdleConns(p.maxIdleConns)
	if p.connMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.connMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	p.db = db
	return nil
}

// DB returns the underlying pool, or nil before Connect.
func (p *Postgres) DB() *sql.DB {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db
}

// Type reports the backend this adapter serves.
func (p *Postgres) Type() config.DatabaseType {
	return config.DatabasePostgres
}

// IsHealthy reports whether the database answers a trivial query.
func (p *Postgres) IsHealthy(ctx context.Context) bool {
	db := p.DB()
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
func (p *Postgres) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Notify publishes a payload on a NOTIFY channel through the pool.
func (p *Postgres) Notify(ctx context.Context, channel, payload string) error {
	db := p.DB()
	if db == nil {
		return fmt.Errorf("failed to notify: adapter not connected")
	}
	if _, err := db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, payload); err != nil {
		return fmt.Errorf("failed to notify %s: %w", channel, err)
	}
	return nil
}

// NewListener opens a dedicated connection for LISTEN/NOTIFY. Listener
// connections live outside the pool: WaitForNotification parks the
// connection, which would otherwise starve pooled queries.
func (p *Postgres) NewListener(ctx context.Context) (*Listener, error) {
	conn, err := pgx.Connect(ctx, p.url)
	if err != nil {
		return nil, fmt.Errorf("failed to open listener connection: %w", err)
	}
	return &Listener{conn: conn}, nil
}

// Listener wraps a dedicated pgx connection subscribed to NOTIFY channels.
type Listener struct {
	conn *pgx.Conn
}

// Listen subscribes the connection to a NOTIFY channel.
func (l *Listener) Listen(ctx context.Context, channel string) error {
	if _, err := l.conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", channel, err)
	}
	return nil
}

// WaitForNotification blocks until a notification arrives or the context is
// cancelled.
func (l *Listener) WaitForNotification(ctx context.Context) (*Notification, error) {
	n, err := l.conn.WaitForNotification(ctx)
	if err != nil {
		return nil, err
	}
	return &Notification{Channel: n.Channel, Payload: n.Payload}, nil
}

// Close terminates the listener connection.
func (l *Listener) Close(ctx context.Context) error {
	return l.conn.Close(ctx)
}

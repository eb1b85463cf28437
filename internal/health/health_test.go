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

package health

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ejc3/workflow/internal/auth"
	"github.com/ejc3/workflow/internal/config"
	"github.com/ejc3/workflow/internal/db"
	"github.com/ejc3/workflow/internal/storage/sqlite"
)

func newTestBackend(t *testing.T) (*db.SQLite, *sqlite.Store) {
	t.Helper()
	ctx := context.Background()

	adapter := db.NewSQLite(db.Config{URL: filepath.Join(t.TempDir(), "health_test.db")})
	if err := adapter.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { adapter.Disconnect(context.Background()) })

	store, err := sqlite.New(ctx, adapter.DB(), "workflow_")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return adapter, store
}

type fakePinger struct {
	healthy bool
}

func (f fakePinger) IsHealthy(context.Context) bool { return f.healthy }
func (f fakePinger) Type() config.DatabaseType      { return config.DatabaseSQLite }

func TestCheckHealthy(t *testing.T) {
	adapter, store := newTestBackend(t)
	identity := auth.Identity{Environment: "staging", OwnerID: "acct_1", ProjectID: "proj_1"}

	checker := New(adapter, store, identity)
	status := checker.Check(context.Background())

	if !status.Healthy() || status.Status != StatusHealthy {
		t.Errorf("expected healthy, got %+v", status)
	}
	if status.Checks["database"] != "ok" || status.Checks["storage"] != "ok" {
		t.Errorf("unexpected checks: %v", status.Checks)
	}
	if status.Backend != "sqlite" {
		t.Errorf("expected backend sqlite, got %s", status.Backend)
	}
	if status.Environment != "staging" || status.OwnerID != "acct_1" || status.ProjectID != "proj_1" {
		t.Errorf("identity not echoed: %+v", status)
	}
	if status.Timestamp == "" || status.Uptime == "" {
		t.Error("expected timestamp and uptime to be set")
	}
}

func TestCheckDegradedDatabase(t *testing.T) {
	_, store := newTestBackend(t)

	checker := New(fakePinger{healthy: false}, store, auth.Identity{})
	status := checker.Check(context.Background())

	if status.Healthy() || status.Status != StatusDegraded {
		t.Errorf("expected degraded, got %+v", status)
	}
	if status.Checks["database"] != "unreachable" {
		t.Errorf("unexpected database check: %v", status.Checks)
	}
	if status.Checks["storage"] != "ok" {
		t.Errorf("storage should still pass: %v", status.Checks)
	}
}

func TestCheckDegradedStorage(t *testing.T) {
	adapter, store := newTestBackend(t)
	if err := adapter.Disconnect(context.Background()); err != nil {
		t.Fatalf("failed to disconnect: %v", err)
	}

	checker := New(fakePinger{healthy: true}, store, auth.Identity{})
	status := checker.Check(context.Background())

	if status.Healthy() {
		t.Errorf("expected degraded, got %+v", status)
	}
	if !strings.HasPrefix(status.Checks["storage"], "list runs failed") {
		t.Errorf("unexpected storage check: %v", status.Checks)
	}
}

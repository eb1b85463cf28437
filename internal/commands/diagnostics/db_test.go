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

package diagnostics

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ejc3/workflow/internal/cli"
	"github.com/ejc3/workflow/internal/commands/shared"
	"github.com/ejc3/workflow/internal/health"
)

func executePing(t *testing.T, dbURL string, extra ...string) (string, error) {
	t.Helper()
	shared.ResetFlagsForTest()
	t.Cleanup(shared.ResetFlagsForTest)

	root := cli.NewRootCommand()
	root.AddCommand(NewDBCommand())

	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(append(append([]string{"db", "ping"}, extra...), "--db-url", dbURL))
	err := root.Execute()
	return out.String(), err
}

func TestDBCommand(t *testing.T) {
	cmd := NewDBCommand()
	if cmd.Use != "db" {
		t.Errorf("expected Use to be 'db', got %q", cmd.Use)
	}

	var pingCmd bool
	for _, sub := range cmd.Commands() {
		if sub.Use == "ping" {
			pingCmd = true
			break
		}
	}
	if !pingCmd {
		t.Error("ping subcommand not found")
	}
}

func TestDBPingHealthy(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "workflow.db")

	out, err := executePing(t, dbPath)
	if err != nil {
		t.Fatalf("db ping: %v", err)
	}
	for _, want := range []string{"Backend:", "sqlite", "database: ok", "storage: ok", "healthy"} {
		if !strings.Contains(out, want) {
			t.Errorf("ping output missing %q: %s", want, out)
		}
	}
}

func TestDBPingJSON(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "workflow.db")

	out, err := executePing(t, dbPath, "--output", "json")
	if err != nil {
		t.Fatalf("db ping: %v", err)
	}

	var status health.Status
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("failed to decode status: %v\noutput: %s", err, out)
	}
	if !status.Healthy() {
		t.Errorf("expected healthy status, got %q", status.Status)
	}
	if status.Backend != "sqlite" {
		t.Errorf("expected backend 'sqlite', got %q", status.Backend)
	}
	if status.Checks["database"] != "ok" || status.Checks["storage"] != "ok" {
		t.Errorf("unexpected checks: %v", status.Checks)
	}
}

func TestDBPingUnreachable(t *testing.T) {
	// A database file inside a directory that does not exist cannot be
	// created, so the world fails to start.
	dbPath := filepath.Join(t.TempDir(), "missing", "workflow.db")

	_, err := executePing(t, dbPath)
	if err == nil {
		t.Fatal("expected error for unreachable database, got nil")
	}
	if code := shared.ExitCodeFor(err); code != shared.ExitUnavailable {
		t.Errorf("expected exit code %d, got %d", shared.ExitUnavailable, code)
	}
}

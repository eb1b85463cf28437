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

package management

import (
	"errors"
	"strings"
	"testing"

	"github.com/ejc3/workflow/internal/commands/shared"
	wferrors "github.com/ejc3/workflow/pkg/errors"
)

func TestEventsCommand(t *testing.T) {
	cmd := NewEventsCommand()
	if cmd.Use != "events" {
		t.Errorf("expected Use to be 'events', got %q", cmd.Use)
	}

	var listCmd bool
	for _, sub := range cmd.Commands() {
		if sub.Use == "list [run-id]" {
			listCmd = true
			break
		}
	}
	if !listCmd {
		t.Error("list subcommand not found")
	}
}

func TestEventsListAddressing(t *testing.T) {
	dbPath := testDB(t)

	// Neither a run id nor a correlation id.
	_, err := executeCommand(t, dbPath, "events", "list")
	if err == nil {
		t.Fatal("expected error without a run id, got nil")
	}
	var validation *wferrors.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if code := shared.ExitCodeFor(err); code != shared.ExitUsage {
		t.Errorf("expected exit code %d, got %d", shared.ExitUsage, code)
	}

	// Both at once.
	_, err = executeCommand(t, dbPath, "events", "list", "wrun_x", "--correlation", "wcorr-1")
	if err == nil {
		t.Fatal("expected error with both addressing modes, got nil")
	}
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
}

func TestEventsListEmpty(t *testing.T) {
	dbPath := testDB(t)
	run := createRun(t, dbPath, "order-flow")

	// No engine has touched the run, so its log is empty.
	out, err := executeCommand(t, dbPath, "events", "list", run.RunID)
	if err != nil {
		t.Fatalf("events list: %v", err)
	}
	if !strings.Contains(out, "No events found") {
		t.Errorf("expected empty listing, got: %s", out)
	}

	out, err = executeCommand(t, dbPath, "events", "list", "--correlation", "wcorr-none")
	if err != nil {
		t.Fatalf("events list --correlation: %v", err)
	}
	if !strings.Contains(out, "No events found") {
		t.Errorf("expected empty listing, got: %s", out)
	}
}

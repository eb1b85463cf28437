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
	"encoding/json"
	"strings"
	"testing"

	"github.com/ejc3/workflow/internal/commands/shared"
	"github.com/ejc3/workflow/internal/queue"
)

func TestQueueCommand(t *testing.T) {
	cmd := NewQueueCommand()
	if cmd.Use != "queue" {
		t.Errorf("expected Use to be 'queue', got %q", cmd.Use)
	}

	var enqueueCmd bool
	var statsCmd bool
	for _, sub := range cmd.Commands() {
		switch {
		case strings.HasPrefix(sub.Use, "enqueue"):
			enqueueCmd = true
		case strings.HasPrefix(sub.Use, "stats"):
			statsCmd = true
		}
	}
	if !enqueueCmd {
		t.Error("enqueue subcommand not found")
	}
	if !statsCmd {
		t.Error("stats subcommand not found")
	}
}

func enqueueMessage(t *testing.T, dbPath string, args ...string) string {
	t.Helper()
	out, err := executeCommand(t, dbPath, append(args, "--output", "json")...)
	if err != nil {
		t.Fatalf("queue enqueue: %v", err)
	}
	var result map[string]string
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("failed to decode enqueue result: %v\noutput: %s", err, out)
	}
	return result["message_id"]
}

func TestQueueEnqueueAndStats(t *testing.T) {
	dbPath := testDB(t)

	name := queue.WorkflowQueuePrefix + "wrun_test"
	messageID := enqueueMessage(t, dbPath, "queue", "enqueue", name, "--data", `{"resume": true}`)
	if !strings.HasPrefix(messageID, "msg_") {
		t.Errorf("expected message id with msg_ prefix, got %q", messageID)
	}

	// The pending job shows up on the flows queue and in the all-queues view.
	for _, target := range [][]string{
		{"queue", "stats"},
		{"queue", "stats", "flows"},
		{"queue", "stats", name},
	} {
		out, err := executeCommand(t, dbPath, append(target, "--output", "json")...)
		if err != nil {
			t.Fatalf("queue stats %v: %v", target, err)
		}
		var counts map[string]int
		if err := json.Unmarshal([]byte(out), &counts); err != nil {
			t.Fatalf("failed to decode stats: %v\noutput: %s", err, out)
		}
		if counts["pending"] != 1 {
			t.Errorf("stats %v: expected 1 pending job, got %d", target, counts["pending"])
		}
	}

	// The step queue stays empty.
	out, err := executeCommand(t, dbPath, "queue", "stats", "steps", "--output", "json")
	if err != nil {
		t.Fatalf("queue stats steps: %v", err)
	}
	var counts map[string]int
	if err := json.Unmarshal([]byte(out), &counts); err != nil {
		t.Fatalf("failed to decode stats: %v\noutput: %s", err, out)
	}
	if counts["pending"] != 0 {
		t.Errorf("expected 0 pending step jobs, got %d", counts["pending"])
	}

	// Table mode renders every status and a total row.
	out, err = executeCommand(t, dbPath, "queue", "stats")
	if err != nil {
		t.Fatalf("queue stats table: %v", err)
	}
	for _, want := range []string{"STATUS", "pending", "processing", "total"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats table missing %q: %s", want, out)
		}
	}
}

func TestQueueEnqueueIdempotency(t *testing.T) {
	dbPath := testDB(t)
	name := queue.WorkflowQueuePrefix + "wrun_dedup"

	first := enqueueMessage(t, dbPath, "queue", "enqueue", name, "--idempotency-key", "deploy-42")
	second := enqueueMessage(t, dbPath, "queue", "enqueue", name, "--idempotency-key", "deploy-42")
	if first != second {
		t.Errorf("expected repeat enqueue to return the original message id: %q vs %q", first, second)
	}

	third := enqueueMessage(t, dbPath, "queue", "enqueue", name)
	if third == first {
		t.Error("expected a fresh message id without an idempotency key")
	}

	// Only one job was inserted for the deduplicated pair.
	out, err := executeCommand(t, dbPath, "queue", "stats", "flows", "--output", "json")
	if err != nil {
		t.Fatalf("queue stats: %v", err)
	}
	var counts map[string]int
	if err := json.Unmarshal([]byte(out), &counts); err != nil {
		t.Fatalf("failed to decode stats: %v\noutput: %s", err, out)
	}
	if counts["pending"] != 2 {
		t.Errorf("expected 2 pending jobs, got %d", counts["pending"])
	}
}

func TestQueueEnqueueUnknownName(t *testing.T) {
	dbPath := testDB(t)

	_, err := executeCommand(t, dbPath, "queue", "enqueue", "not-a-queue")
	if err == nil {
		t.Fatal("expected error for unrecognized queue name, got nil")
	}
	if code := shared.ExitCodeFor(err); code != shared.ExitUsage {
		t.Errorf("expected exit code %d, got %d", shared.ExitUsage, code)
	}
}

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

	"github.com/ejc3/workflow/internal/storage"
)

func TestStreamCommand(t *testing.T) {
	cmd := NewStreamCommand()
	if cmd.Use != "stream" {
		t.Errorf("expected Use to be 'stream', got %q", cmd.Use)
	}

	want := []string{"write <stream-id> [data]", "close <stream-id>", "read <stream-id>"}
	for _, use := range want {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Use == use {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not found", use)
		}
	}
}

func TestStreamWriteCloseRead(t *testing.T) {
	dbPath := testDB(t)

	out, err := executeCommand(t, dbPath, "stream", "write", "build-1", "hello ")
	if err != nil {
		t.Fatalf("stream write: %v", err)
	}
	if !strings.Contains(out, "Wrote chunk chnk_") {
		t.Errorf("unexpected write output: %s", out)
	}

	if _, err := executeCommand(t, dbPath, "stream", "write", "build-1", "world"); err != nil {
		t.Fatalf("stream write: %v", err)
	}

	out, err = executeCommand(t, dbPath, "stream", "close", "build-1")
	if err != nil {
		t.Fatalf("stream close: %v", err)
	}
	if !strings.Contains(out, "Stream build-1 closed") {
		t.Errorf("unexpected close output: %s", out)
	}

	// The tail replays both chunks as raw bytes and ends at the marker.
	out, err = executeCommand(t, dbPath, "stream", "read", "build-1")
	if err != nil {
		t.Fatalf("stream read: %v", err)
	}
	if out != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", out)
	}

	// Skipping the first chunk resumes mid-stream.
	out, err = executeCommand(t, dbPath, "stream", "read", "build-1", "--start-index", "1")
	if err != nil {
		t.Fatalf("stream read --start-index: %v", err)
	}
	if out != "world" {
		t.Errorf("expected %q, got %q", "world", out)
	}
}

func TestStreamReadJSON(t *testing.T) {
	dbPath := testDB(t)

	if _, err := executeCommand(t, dbPath, "stream", "write", "build-2", "alpha"); err != nil {
		t.Fatalf("stream write: %v", err)
	}
	if _, err := executeCommand(t, dbPath, "stream", "write", "build-2", "beta"); err != nil {
		t.Fatalf("stream write: %v", err)
	}
	if _, err := executeCommand(t, dbPath, "stream", "close", "build-2"); err != nil {
		t.Fatalf("stream close: %v", err)
	}

	out, err := executeCommand(t, dbPath, "stream", "read", "build-2", "--output", "json")
	if err != nil {
		t.Fatalf("stream read: %v", err)
	}

	// One JSON document per chunk, in order, with the data base64-coded.
	dec := json.NewDecoder(strings.NewReader(out))
	var chunks []storage.Chunk
	for dec.More() {
		var chunk storage.Chunk
		if err := dec.Decode(&chunk); err != nil {
			t.Fatalf("failed to decode chunk: %v\noutput: %s", err, out)
		}
		chunks = append(chunks, chunk)
	}

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if string(chunks[0].Data) != "alpha" || string(chunks[1].Data) != "beta" {
		t.Errorf("unexpected chunk data: %q, %q", chunks[0].Data, chunks[1].Data)
	}
	if chunks[0].StreamID != "build-2" {
		t.Errorf("expected stream id 'build-2', got %q", chunks[0].StreamID)
	}
	if chunks[0].ChunkID >= chunks[1].ChunkID {
		t.Errorf("expected ascending chunk ids, got %q then %q", chunks[0].ChunkID, chunks[1].ChunkID)
	}
}

func TestStreamWriteFromStdin(t *testing.T) {
	dbPath := testDB(t)

	if _, err := executeCommandInput(t, dbPath, "piped build output\n", "stream", "write", "build-3"); err != nil {
		t.Fatalf("stream write from stdin: %v", err)
	}
	if _, err := executeCommand(t, dbPath, "stream", "close", "build-3"); err != nil {
		t.Fatalf("stream close: %v", err)
	}

	out, err := executeCommand(t, dbPath, "stream", "read", "build-3")
	if err != nil {
		t.Fatalf("stream read: %v", err)
	}
	if out != "piped build output\n" {
		t.Errorf("expected stdin data to round-trip, got %q", out)
	}
}

func TestStreamReadEmptyClosed(t *testing.T) {
	dbPath := testDB(t)

	if _, err := executeCommand(t, dbPath, "stream", "close", "build-4"); err != nil {
		t.Fatalf("stream close: %v", err)
	}

	// A stream closed without data yields nothing and terminates.
	out, err := executeCommand(t, dbPath, "stream", "read", "build-4")
	if err != nil {
		t.Fatalf("stream read: %v", err)
	}
	if out != "" {
		t.Errorf("expected empty output, got %q", out)
	}
}

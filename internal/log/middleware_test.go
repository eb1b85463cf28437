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

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func newDispatchMiddleware(t *testing.T) (*DispatchMiddleware, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	return NewDispatchMiddleware(logger), &buf
}

func TestDispatchMiddleware_Success(t *testing.T) {
	mw, buf := newDispatchMiddleware(t)

	req := &DispatchRequest{
		Queue:     "workflow_flows",
		JobID:     "msg_01ABC",
		MessageID: "msg_01ABC",
		Attempt:   1,
		Worker:    "worker-0",
	}

	called := false
	err := mw.Handler(req, func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Handler returned unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler function was not invoked")
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines (dispatch + result), got %d: %s", len(lines), buf.String())
	}

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &result); err != nil {
		t.Fatalf("result line is not valid JSON: %v", err)
	}
	if result["msg"] != "job completed" {
		t.Errorf("expected msg 'job completed', got: %v", result["msg"])
	}
	if result[QueueKey] != "workflow_flows" {
		t.Errorf("expected queue field, got: %v", result[QueueKey])
	}
	if _, ok := result[DurationKey]; !ok {
		t.Error("expected duration_ms field in result line")
	}
}

func TestDispatchMiddleware_Failure(t *testing.T) {
	mw, buf := newDispatchMiddleware(t)

	req := &DispatchRequest{
		Queue:   "workflow_steps",
		JobID:   "msg_01DEF",
		Attempt: 2,
	}

	handlerErr := errors.New("executor unavailable")
	err := mw.Handler(req, func() error {
		return handlerErr
	})
	if !errors.Is(err, handlerErr) {
		t.Fatalf("Handler should pass through the handler error, got: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "job handler failed") {
		t.Errorf("expected failure message in output, got: %s", output)
	}
	if !strings.Contains(output, "executor unavailable") {
		t.Errorf("expected handler error text in output, got: %s", output)
	}
}

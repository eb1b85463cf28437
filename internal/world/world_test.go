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

package world

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ejc3/workflow/internal/config"
	"github.com/ejc3/workflow/internal/queue"
	"github.com/ejc3/workflow/internal/storage"
	wferrors "github.com/ejc3/workflow/pkg/errors"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.SQL.DatabaseType = config.DatabaseSQLite
	cfg.SQL.URL = filepath.Join(t.TempDir(), "world_test.db")
	cfg.Tenant = config.TenantConfig{
		Environment: "test",
		OwnerID:     "owner-1",
		ProjectID:   "proj-1",
	}
	return cfg
}

func startWorld(t *testing.T, opts ...Option) *World {
	t.Helper()
	w, err := New(testConfig(t), opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.Stop(ctx); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	})
	return w
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.SQL.DatabaseType = "oracle"

	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	w, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := w.Start(ctx); err != nil {
		t.Errorf("second Start should be a no-op, got %v", err)
	}

	if w.Runs() == nil || w.Steps() == nil || w.Events() == nil || w.Hooks() == nil {
		t.Error("services should be available after Start")
	}
	if w.Queue() == nil || w.Streamer() == nil || w.Health() == nil {
		t.Error("components should be available after Start")
	}

	status := w.Health().Check(ctx)
	if !status.Healthy() {
		t.Errorf("expected healthy world, got %+v", status)
	}
	if status.Backend != "sqlite" {
		t.Errorf("expected sqlite backend, got %s", status.Backend)
	}
	if status.Environment != "test" || status.OwnerID != "owner-1" {
		t.Errorf("expected tenant identity in status, got %+v", status)
	}

	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := w.Stop(ctx); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}

	if w.Health().Check(ctx).Healthy() {
		t.Error("expected degraded status after Stop closed the pool")
	}
}

func TestRunServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	w := startWorld(t)

	run, err := w.Runs().Create(ctx, storage.CreateRunParams{
		WorkflowName: "deploy",
		Input:        json.RawMessage(`{"env":"prod"}`),
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if run.Status != storage.RunPending {
		t.Errorf("expected pending run, got %s", run.Status)
	}

	got, err := w.Runs().Get(ctx, run.RunID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.WorkflowName != "deploy" {
		t.Errorf("expected workflow deploy, got %s", got.WorkflowName)
	}

	running := storage.RunRunning
	updated, err := w.Runs().Update(ctx, run.RunID, storage.RunPatch{Status: &running})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Status != storage.RunRunning {
		t.Errorf("expected running, got %s", updated.Status)
	}
	if updated.StartedAt == nil {
		t.Error("startedAt should be set on the transition to running")
	}

	if _, err := w.Runs().Get(ctx, "wrun_missing"); !wferrors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}

	page, err := w.Runs().List(ctx, storage.ListRunsParams{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page.Runs) != 1 {
		t.Errorf("expected one run, got %d", len(page.Runs))
	}

	cancelled, err := w.Runs().Cancel(ctx, run.RunID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != storage.RunCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
}

func TestStepAndEventServices(t *testing.T) {
	ctx := context.Background()
	w := startWorld(t)

	run, err := w.Runs().Create(ctx, storage.CreateRunParams{WorkflowName: "build"})
	if err != nil {
		t.Fatalf("Create run failed: %v", err)
	}

	step, err := w.Steps().Create(ctx, storage.CreateStepParams{
		RunID:    run.RunID,
		StepName: "compile",
	})
	if err != nil {
		t.Fatalf("Create step failed: %v", err)
	}
	if step.Attempt != 1 {
		t.Errorf("expected attempt 1, got %d", step.Attempt)
	}

	completed := storage.StepCompleted
	updated, err := w.Steps().Update(ctx, step.StepID, storage.StepPatch{Status: &completed})
	if err != nil {
		t.Fatalf("Update step failed: %v", err)
	}
	if updated.Status != storage.StepCompleted {
		t.Errorf("expected completed, got %s", updated.Status)
	}
	if got, err := w.Steps().Get(ctx, step.StepID); err != nil || got.Status != storage.StepCompleted {
		t.Errorf("Get step returned (%v, %v)", got, err)
	}

	event, err := w.Events().Create(ctx, storage.CreateEventParams{
		RunID:         run.RunID,
		EventType:     "step.completed",
		CorrelationID: "corr-1",
	})
	if err != nil {
		t.Fatalf("Create event failed: %v", err)
	}

	page, err := w.Events().List(ctx, run.RunID, storage.ListEventsParams{})
	if err != nil {
		t.Fatalf("List events failed: %v", err)
	}
	if len(page.Events) != 1 || page.Events[0].EventID != event.EventID {
		t.Errorf("expected the created event, got %+v", page.Events)
	}

	byCorr, err := w.Events().ListByCorrelation(ctx, "corr-1", storage.ListEventsParams{})
	if err != nil {
		t.Fatalf("ListByCorrelation failed: %v", err)
	}
	if len(byCorr.Events) != 1 {
		t.Errorf("expected one correlated event, got %d", len(byCorr.Events))
	}
}

func TestHookIdentityStamping(t *testing.T) {
	ctx := context.Background()
	w := startWorld(t)

	hook, err := w.Hooks().Create(ctx, storage.CreateHookParams{
		RunID:   "wrun_1",
		Token:   "tok-1",
		OwnerID: "spoofed",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if hook.OwnerID != "owner-1" || hook.ProjectID != "proj-1" || hook.Environment != "test" {
		t.Errorf("expected provider identity on hook, got %+v", hook)
	}

	got, err := w.Hooks().GetByToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("GetByToken failed: %v", err)
	}
	if got.HookID != hook.HookID {
		t.Errorf("expected hook %s, got %s", hook.HookID, got.HookID)
	}

	if _, err := w.Hooks().Dispose(ctx, hook.HookID); err != nil {
		t.Fatalf("Dispose failed: %v", err)
	}
	if _, err := w.Hooks().GetByToken(ctx, "tok-1"); !wferrors.IsNotFound(err) {
		t.Errorf("expected not found after dispose, got %v", err)
	}
}

func TestQueueDispatchEndToEnd(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var names []string
	handler := func(_ context.Context, name string, _ queue.MessageData) error {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, name)
		return nil
	}
	w := startWorld(t, WithHandler(handler))

	if _, err := w.Queue().Enqueue(ctx, "__wkf_workflow_order-1", map[string]string{"sku": "A1"}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	require.Eventually(t, func() bool {
		counts, err := w.Queue().Stats(context.Background(), "flows")
		return err == nil && counts[storage.JobCompleted] == 1
	}, 5*time.Second, 10*time.Millisecond, "job should complete")

	mu.Lock()
	defer mu.Unlock()
	if len(names) != 1 || names[0] != "__wkf_workflow_order-1" {
		t.Errorf("expected one dispatch of __wkf_workflow_order-1, got %v", names)
	}
}

func TestQueueWorkersDisabledWithoutHandler(t *testing.T) {
	ctx := context.Background()
	w := startWorld(t)

	if _, err := w.Queue().Enqueue(ctx, "__wkf_workflow_idle", "m"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Two poll intervals is enough for a worker to have consumed the job.
	time.Sleep(500 * time.Millisecond)

	counts, err := w.Queue().Stats(ctx, "flows")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if counts[storage.JobPending] != 1 {
		t.Errorf("expected job to stay pending without workers, got %v", counts)
	}
}

func TestStreamLiveThroughWorld(t *testing.T) {
	w := startWorld(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := w.Streamer().Read(ctx, "strm_world")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if _, err := w.Streamer().Write(ctx, "strm_world", []byte("live")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	select {
	case chunk := <-ch:
		if string(chunk.Data) != "live" {
			t.Errorf("expected live chunk, got %q", chunk.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live chunk")
	}

	if _, err := w.Streamer().Close(ctx, "strm_world"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	select {
	case chunk, ok := <-ch:
		if ok {
			t.Errorf("expected closed channel after EOF, got %+v", chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reader to finish")
	}
}

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

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ejc3/workflow/internal/db"
	"github.com/ejc3/workflow/internal/storage"
	"github.com/ejc3/workflow/internal/storage/sqlite"
	wferrors "github.com/ejc3/workflow/pkg/errors"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	ctx := context.Background()

	adapter := db.NewSQLite(db.Config{URL: filepath.Join(t.TempDir(), "queue_test.db")})
	if err := adapter.Connect(ctx); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { adapter.Disconnect(context.Background()) })

	store, err := sqlite.New(ctx, adapter.DB(), "workflow_")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

// fastConfig polls aggressively so tests observe dispatches quickly.
func fastConfig() Config {
	return Config{PollInterval: 10 * time.Millisecond, Concurrency: 2}
}

func stopQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Stop(ctx); err != nil {
		t.Errorf("failed to stop queue: %v", err)
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantPrefix string
		wantID     string
		wantErr    bool
	}{
		{name: "workflow", input: "__wkf_workflow_abc", wantPrefix: WorkflowQueuePrefix, wantID: "abc"},
		{name: "step", input: "__wkf_step_step-1", wantPrefix: StepQueuePrefix, wantID: "step-1"},
		{name: "unknown prefix", input: "jobs_abc", wantErr: true},
		{name: "empty id", input: "__wkf_workflow_", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prefix, id, err := splitName(tt.input)
			if tt.wantErr {
				if !wferrors.IsValidation(err) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("splitName(%q) failed: %v", tt.input, err)
			}
			if prefix != tt.wantPrefix || id != tt.wantID {
				t.Errorf("splitName(%q) = (%q, %q), want (%q, %q)", tt.input, prefix, id, tt.wantPrefix, tt.wantID)
			}
		})
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{attempts: 1, want: 2 * time.Second},
		{attempts: 2, want: 4 * time.Second},
		{attempts: 3, want: 8 * time.Second},
		{attempts: 5, want: 32 * time.Second},
		{attempts: 6, want: 60 * time.Second},
		{attempts: 7, want: 60 * time.Second},
		{attempts: 50, want: 60 * time.Second},
	}

	for _, tt := range tests {
		if got := backoff(tt.attempts); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestEnqueueValidatesName(t *testing.T) {
	ctx := context.Background()
	q := New(Config{}, newTestStore(t), nil)

	_, err := q.Enqueue(ctx, "not-a-queue", map[string]string{"a": "b"})
	if !wferrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEnqueuePersistsMessage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	q := New(Config{}, store, nil)

	id, err := q.Enqueue(ctx, "__wkf_workflow_order-7", map[string]int{"total": 42}, WithIdempotencyKey("K1"))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if !strings.HasPrefix(id, "msg_") {
		t.Errorf("unexpected message id: %s", id)
	}

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.QueueName != "workflow_flows" {
		t.Errorf("expected queue workflow_flows, got %s", job.QueueName)
	}
	if job.Status != storage.JobPending || job.Attempts != 0 || job.MaxAttempts != 3 {
		t.Errorf("unexpected job state: status=%s attempts=%d max=%d", job.Status, job.Attempts, job.MaxAttempts)
	}

	var msg MessageData
	if err := json.Unmarshal(job.Payload, &msg); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if msg.ID != "order-7" || msg.MessageID != id || msg.Attempt != 1 || msg.IdempotencyKey != "K1" {
		t.Errorf("unexpected payload: %+v", msg)
	}
	var inner map[string]int
	if err := json.Unmarshal(msg.Data, &inner); err != nil {
		t.Fatalf("failed to decode inner data: %v", err)
	}
	if inner["total"] != 42 {
		t.Errorf("inner data did not round-trip: %v", inner)
	}

	stepID, err := q.Enqueue(ctx, "__wkf_step_s1", "payload")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	stepJob, err := store.GetJob(ctx, stepID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if stepJob.QueueName != "workflow_steps" {
		t.Errorf("expected queue workflow_steps, got %s", stepJob.QueueName)
	}
}

func TestEnqueueIdempotency(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	q := New(Config{}, store, nil)

	first, err := q.Enqueue(ctx, "__wkf_workflow_abc", "m1", WithIdempotencyKey("K"))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	second, err := q.Enqueue(ctx, "__wkf_workflow_abc", "m2", WithIdempotencyKey("K"))
	if err != nil {
		t.Fatalf("repeat Enqueue failed: %v", err)
	}
	if first != second {
		t.Errorf("idempotent enqueues returned different ids: %s vs %s", first, second)
	}

	counts, err := store.CountJobsByStatus(ctx, "workflow_flows")
	if err != nil {
		t.Fatalf("CountJobsByStatus failed: %v", err)
	}
	if counts[storage.JobPending] != 1 {
		t.Errorf("expected exactly one pending job, got %d", counts[storage.JobPending])
	}

	third, err := q.Enqueue(ctx, "__wkf_workflow_abc", "m3", WithIdempotencyKey("K2"))
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if third == first {
		t.Error("distinct keys should produce distinct jobs")
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	q := New(Config{}, store, nil)

	if _, err := q.Enqueue(ctx, "__wkf_workflow_a", "m1"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, "__wkf_workflow_b", "m2"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := q.Enqueue(ctx, "__wkf_step_c", "m3"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	flows, err := q.Stats(ctx, "flows")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if flows[storage.JobPending] != 2 {
		t.Errorf("expected 2 pending flow jobs, got %d", flows[storage.JobPending])
	}

	steps, err := q.Stats(ctx, "__wkf_step_c")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if steps[storage.JobPending] != 1 {
		t.Errorf("expected 1 pending step job, got %d", steps[storage.JobPending])
	}

	all, err := q.Stats(ctx, "")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if all[storage.JobPending] != 3 {
		t.Errorf("expected 3 pending jobs across queues, got %d", all[storage.JobPending])
	}

	if _, err := q.Stats(ctx, "not-a-queue"); err == nil {
		t.Error("expected validation error for unrecognized name")
	}
}

type stubNotifier struct {
	mu       sync.Mutex
	channels []string
	payloads []string
	err      error
}

func (n *stubNotifier) Notify(_ context.Context, channel, payload string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, channel)
	n.payloads = append(n.payloads, payload)
	return n.err
}

func TestEnqueueNotifies(t *testing.T) {
	ctx := context.Background()
	notifier := &stubNotifier{}
	q := New(Config{}, newTestStore(t), nil, WithNotifier(notifier))

	if _, err := q.Enqueue(ctx, "__wkf_workflow_abc", "m"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.channels) != 1 || notifier.channels[0] != JobAvailableChannel {
		t.Errorf("expected one notification on %s, got %v", JobAvailableChannel, notifier.channels)
	}
	if notifier.payloads[0] != "workflow_flows" {
		t.Errorf("expected payload workflow_flows, got %s", notifier.payloads[0])
	}
}

func TestEnqueueSurvivesNotifyFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	notifier := &stubNotifier{err: errors.New("connection reset")}
	q := New(Config{}, store, nil, WithNotifier(notifier))

	id, err := q.Enqueue(ctx, "__wkf_workflow_abc", "m")
	if err != nil {
		t.Fatalf("Enqueue should tolerate notify failure, got %v", err)
	}
	if _, err := store.GetJob(ctx, id); err != nil {
		t.Errorf("job should have been persisted: %v", err)
	}
}

func TestWorkerDeliversJob(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	names := make(chan string, 1)
	got := make(chan MessageData, 1)
	handler := func(_ context.Context, name string, msg MessageData) error {
		names <- name
		got <- msg
		return nil
	}

	q := New(fastConfig(), store, handler)
	q.Start(ctx)
	t.Cleanup(func() { stopQueue(t, q) })

	id, err := q.Enqueue(ctx, "__wkf_workflow_order-7", map[string]string{"action": "ship"})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	select {
	case name := <-names:
		if name != "__wkf_workflow_order-7" {
			t.Errorf("handler got queue name %s", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for handler")
	}

	msg := <-got
	if msg.MessageID != id || msg.ID != "order-7" || msg.Attempt != 1 {
		t.Errorf("unexpected message: %+v", msg)
	}
	var inner map[string]string
	if err := json.Unmarshal(msg.Data, &inner); err != nil {
		t.Fatalf("failed to decode inner data: %v", err)
	}
	if inner["action"] != "ship" {
		t.Errorf("inner data did not round-trip: %v", inner)
	}

	require.Eventually(t, func() bool {
		job, err := store.GetJob(ctx, id)
		return err == nil && job.Status == storage.JobCompleted
	}, 5*time.Second, 10*time.Millisecond, "job should complete")

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", job.Attempts)
	}
	if job.LockedUntil != nil {
		t.Error("completed job should have no lock")
	}
}

func TestWorkerRetrySchedulesBackoff(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	handler := func(_ context.Context, _ string, _ MessageData) error {
		return errors.New("boom")
	}

	q := New(fastConfig(), store, handler)
	start := time.Now()
	q.Start(ctx)
	t.Cleanup(func() { stopQueue(t, q) })

	id, err := q.Enqueue(ctx, "__wkf_step_s1", "m")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	require.Eventually(t, func() bool {
		job, err := store.GetJob(ctx, id)
		return err == nil && job.Status == storage.JobPending && job.Attempts == 1
	}, 5*time.Second, 10*time.Millisecond, "job should return to pending after first failure")

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Error != "boom" {
		t.Errorf("expected recorded error boom, got %q", job.Error)
	}
	if job.LockedUntil != nil {
		t.Error("retried job should have no lock")
	}
	// First retry is due two seconds after the failed dispatch.
	if job.ScheduledFor.Before(start.Add(2*time.Second - 50*time.Millisecond)) {
		t.Errorf("retry scheduled too early: %v after start", job.ScheduledFor.Sub(start))
	}
}

func TestWorkerFailsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var calls atomic.Int64
	handler := func(_ context.Context, _ string, _ MessageData) error {
		calls.Add(1)
		return errors.New("no such order")
	}

	cfg := fastConfig()
	cfg.MaxAttempts = 1
	q := New(cfg, store, handler)
	q.Start(ctx)
	t.Cleanup(func() { stopQueue(t, q) })

	id, err := q.Enqueue(ctx, "__wkf_workflow_abc", "m")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	require.Eventually(t, func() bool {
		job, err := store.GetJob(ctx, id)
		return err == nil && job.Status == storage.JobFailed
	}, 5*time.Second, 10*time.Millisecond, "job should fail permanently")

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", job.Attempts)
	}
	if job.Error != "no such order" {
		t.Errorf("expected recorded error, got %q", job.Error)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("handler should run once, ran %d times", got)
	}
}

func TestWorkerStealsExpiredLease(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	got := make(chan MessageData, 1)
	handler := func(_ context.Context, _ string, msg MessageData) error {
		got <- msg
		return nil
	}

	q := New(fastConfig(), store, handler)

	id, err := q.Enqueue(ctx, "__wkf_workflow_abc", "m")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// Simulate a worker that leased the job and crashed: the lock is
	// already expired when the queue starts.
	now := time.Now()
	won, err := store.LeaseJob(ctx, id, now, now.Add(-time.Second))
	if err != nil || !won {
		t.Fatalf("failed to pre-lease job: won=%v err=%v", won, err)
	}

	q.Start(ctx)
	t.Cleanup(func() { stopQueue(t, q) })

	select {
	case msg := <-got:
		if msg.Attempt != 2 {
			t.Errorf("stolen delivery should be attempt 2, got %d", msg.Attempt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for job to be re-leased")
	}

	require.Eventually(t, func() bool {
		job, err := store.GetJob(ctx, id)
		return err == nil && job.Status == storage.JobCompleted && job.Attempts == 2
	}, 5*time.Second, 10*time.Millisecond, "stolen job should complete")
}

func TestStopDrainsInFlightHandlers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	started := make(chan struct{})
	release := make(chan struct{})
	handler := func(_ context.Context, _ string, _ MessageData) error {
		close(started)
		<-release
		return nil
	}

	cfg := fastConfig()
	cfg.Concurrency = 1
	q := New(cfg, store, handler)
	q.Start(ctx)

	id, err := q.Enqueue(ctx, "__wkf_workflow_abc", "m")
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for handler to start")
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Stop returns only after the in-flight handler finished and the
	// completion was written.
	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != storage.JobCompleted {
		t.Errorf("expected completed after drain, got %s", job.Status)
	}
}

func TestWakeTriggersImmediatePoll(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	names := make(chan string, 1)
	handler := func(_ context.Context, name string, _ MessageData) error {
		names <- name
		return nil
	}

	// A one-minute poll interval means delivery within the test window
	// can only come from the wakeup.
	q := New(Config{PollInterval: time.Minute, Concurrency: 1}, store, handler)
	q.Start(ctx)
	t.Cleanup(func() { stopQueue(t, q) })

	if _, err := q.Enqueue(ctx, "__wkf_workflow_abc", "m"); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	q.Wake()

	select {
	case <-names:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for woken worker")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	ctx := context.Background()
	q := New(fastConfig(), newTestStore(t), func(_ context.Context, _ string, _ MessageData) error {
		return nil
	})

	q.Start(ctx)
	q.Start(ctx) // no-op on a running queue

	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on a stopped queue should be a no-op, got %v", err)
	}

	// The queue can be restarted after a stop.
	q.Start(ctx)
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop after restart failed: %v", err)
	}
}

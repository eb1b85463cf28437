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

// Package storagetest is a conformance suite run against every storage
// backend. Tests use unique workflow, queue, and stream names so the suite
// can run repeatedly against a shared database, and JSON documents are
// compared semantically because JSON column types normalize formatting.
package storagetest

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ejc3/workflow/internal/storage"
	wferrors "github.com/ejc3/workflow/pkg/errors"
)

var seq atomic.Int64

// uniq returns a name that no previous suite run has used.
func uniq(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), seq.Add(1))
}

func sameJSON(t *testing.T, want, got json.RawMessage) {
	t.Helper()
	var a, b any
	if err := json.Unmarshal(want, &a); err != nil {
		t.Fatalf("bad want json %s: %v", want, err)
	}
	if err := json.Unmarshal(got, &b); err != nil {
		t.Fatalf("bad got json %s: %v", got, err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("json mismatch: want %s, got %s", want, got)
	}
}

func statusPtr(s storage.RunStatus) *storage.RunStatus { return &s }

// Run exercises the full storage contract against the given backend.
func Run(t *testing.T, store storage.Store) {
	t.Run("RunLifecycle", func(t *testing.T) { testRunLifecycle(t, store) })
	t.Run("RunPagination", func(t *testing.T) { testRunPagination(t, store) })
	t.Run("StepIdempotency", func(t *testing.T) { testStepIdempotency(t, store) })
	t.Run("Events", func(t *testing.T) { testEvents(t, store) })
	t.Run("Hooks", func(t *testing.T) { testHooks(t, store) })
	t.Run("Chunks", func(t *testing.T) { testChunks(t, store) })
	t.Run("JobQueue", func(t *testing.T) { testJobQueue(t, store) })
}

func testRunLifecycle(t *testing.T, store storage.Store) {
	ctx := context.Background()
	input := json.RawMessage(`[{"orderId":42}]`)

	run, err := store.CreateRun(ctx, storage.CreateRunParams{
		DeploymentID: "dep_1",
		WorkflowName: uniq("lifecycle"),
		Input:        input,
	})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.Status != storage.RunPending || run.StartedAt != nil || run.CompletedAt != nil {
		t.Fatalf("unexpected new run state: %+v", run)
	}

	running, err := store.UpdateRun(ctx, run.RunID, storage.RunPatch{Status: statusPtr(storage.RunRunning)})
	if err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}
	if running.StartedAt == nil {
		t.Fatal("first transition to running should set startedAt")
	}

	if _, err := store.PauseRun(ctx, run.RunID); err != nil {
		t.Fatalf("PauseRun failed: %v", err)
	}
	resumed, err := store.ResumeRun(ctx, run.RunID)
	if err != nil {
		t.Fatalf("ResumeRun failed: %v", err)
	}
	if !resumed.StartedAt.Equal(*running.StartedAt) {
		t.Errorf("startedAt moved on resume: %v -> %v", running.StartedAt, resumed.StartedAt)
	}

	output := json.RawMessage(`[{"ok":true}]`)
	completed, err := store.UpdateRun(ctx, run.RunID, storage.RunPatch{
		Status: statusPtr(storage.RunCompleted),
		Output: &output,
	})
	if err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}
	if completed.CompletedAt == nil {
		t.Fatal("terminal transition should set completedAt")
	}

	got, err := store.GetRun(ctx, run.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	sameJSON(t, input, got.Input)
	sameJSON(t, output, got.Output)

	// Cancel semantics on a separate run.
	other, err := store.CreateRun(ctx, storage.CreateRunParams{DeploymentID: "dep_1", WorkflowName: uniq("cancel")})
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	cancelled, err := store.CancelRun(ctx, other.RunID)
	if err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}
	if cancelled.Status != storage.RunCancelled || cancelled.CompletedAt == nil {
		t.Fatalf("unexpected cancel state: %+v", cancelled)
	}
	again, err := store.CancelRun(ctx, other.RunID)
	if err != nil {
		t.Fatalf("second CancelRun failed: %v", err)
	}
	if !again.CompletedAt.Equal(*cancelled.CompletedAt) {
		t.Error("completedAt changed on repeated cancel")
	}

	if _, err := store.ResumeRun(ctx, other.RunID); !wferrors.IsNotFound(err) {
		t.Errorf("resume of a non-paused run should be NotFound, got %v", err)
	} else if !strings.Contains(err.Error(), "paused run not found") {
		t.Errorf("unexpected message: %v", err)
	}

	if _, err := store.GetRun(ctx, "wrun_missing"); !wferrors.IsNotFound(err) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func testRunPagination(t *testing.T, store storage.Store) {
	ctx := context.Background()
	workflowName := uniq("paginate")

	created := make(map[string]bool)
	for i := 0; i < 7; i++ {
		run, err := store.CreateRun(ctx, storage.CreateRunParams{DeploymentID: "d", WorkflowName: workflowName})
		if err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
		created[run.RunID] = true
	}

	var sizes []int
	var hasMore []bool
	cursor := ""
	last := ""
	seen := make(map[string]bool)
	for {
		page, err := store.ListRuns(ctx, storage.ListRunsParams{
			WorkflowName: workflowName,
			Limit:        3,
			Cursor:       cursor,
		})
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		sizes = append(sizes, len(page.Runs))
		hasMore = append(hasMore, page.HasMore)
		for _, run := range page.Runs {
			if last != "" && run.RunID >= last {
				t.Errorf("run ids not strictly decreasing: %s after %s", run.RunID, last)
			}
			last = run.RunID
			if seen[run.RunID] || !created[run.RunID] {
				t.Errorf("unexpected run in page: %s", run.RunID)
			}
			seen[run.RunID] = true
		}
		if !page.HasMore {
			break
		}
		cursor = page.Cursor
	}

	if !reflect.DeepEqual(sizes, []int{3, 3, 1}) {
		t.Errorf("unexpected page sizes: %v", sizes)
	}
	if !reflect.DeepEqual(hasMore, []bool{true, true, false}) {
		t.Errorf("unexpected hasMore sequence: %v", hasMore)
	}
	if len(seen) != len(created) {
		t.Errorf("expected %d distinct runs, got %d", len(created), len(seen))
	}

	// Status filter composes with the name filter.
	var anyID string
	for id := range created {
		anyID = id
		break
	}
	if _, err := store.CancelRun(ctx, anyID); err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}
	page, err := store.ListRuns(ctx, storage.ListRunsParams{WorkflowName: workflowName, Status: storage.RunCancelled})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(page.Runs) != 1 || page.Runs[0].RunID != anyID {
		t.Errorf("status filter returned wrong rows: %+v", page.Runs)
	}
}

func testStepIdempotency(t *testing.T, store storage.Store) {
	ctx := context.Background()
	params := storage.CreateStepParams{
		StepID:   uniq("wstp"),
		RunID:    uniq("wrun"),
		StepName: "charge-card",
		Input:    json.RawMessage(`[{"cents":995}]`),
	}

	first, err := store.CreateStep(ctx, params)
	if err != nil {
		t.Fatalf("CreateStep failed: %v", err)
	}
	second, err := store.CreateStep(ctx, params)
	if err != nil {
		t.Fatalf("idempotent CreateStep failed: %v", err)
	}
	if second.StepID != first.StepID || !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("duplicate create should return the existing row")
	}

	stepStatus := storage.StepFailed
	errMsg := "card declined"
	attempt := 2
	failed, err := store.UpdateStep(ctx, first.StepID, storage.StepPatch{
		Status:  &stepStatus,
		Error:   &errMsg,
		Attempt: &attempt,
	})
	if err != nil {
		t.Fatalf("UpdateStep failed: %v", err)
	}
	if failed.CompletedAt == nil || failed.Error != "card declined" || failed.Attempt != 2 {
		t.Errorf("unexpected failed step: %+v", failed)
	}
}

func testEvents(t *testing.T, store storage.Store) {
	ctx := context.Background()
	runID := uniq("wrun")
	correlationID := uniq("corr")

	var ids []string
	for i := 0; i < 3; i++ {
		event, err := store.CreateEvent(ctx, storage.CreateEventParams{
			RunID:         runID,
			EventType:     "step.completed",
			CorrelationID: correlationID,
			EventData:     json.RawMessage(fmt.Sprintf(`{"i":%d}`, i)),
		})
		if err != nil {
			t.Fatalf("CreateEvent failed: %v", err)
		}
		ids = append(ids, event.EventID)
	}

	asc, err := store.ListEvents(ctx, runID, storage.ListEventsParams{})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(asc.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(asc.Events))
	}
	for i, event := range asc.Events {
		if event.EventID != ids[i] {
			t.Errorf("ascending order broken at %d", i)
		}
	}

	desc, err := store.ListEvents(ctx, runID, storage.ListEventsParams{Descending: true})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if desc.Events[0].EventID != ids[2] {
		t.Error("descending order should start with the newest event")
	}

	next, err := store.ListEvents(ctx, runID, storage.ListEventsParams{Cursor: ids[0]})
	if err != nil {
		t.Fatalf("ListEvents with cursor failed: %v", err)
	}
	if len(next.Events) != 2 || next.Events[0].EventID != ids[1] {
		t.Errorf("cursor page wrong: %+v", next.Events)
	}

	byCorr, err := store.ListEventsByCorrelation(ctx, correlationID, storage.ListEventsParams{})
	if err != nil {
		t.Fatalf("ListEventsByCorrelation failed: %v", err)
	}
	if len(byCorr.Events) != 3 {
		t.Errorf("expected 3 correlated events, got %d", len(byCorr.Events))
	}
}

func testHooks(t *testing.T, store storage.Store) {
	ctx := context.Background()
	token := uniq("tok")

	hook, err := store.CreateHook(ctx, storage.CreateHookParams{
		RunID:       uniq("wrun"),
		Token:       token,
		OwnerID:     "acct_1",
		ProjectID:   "proj_1",
		Environment: "production",
		Metadata:    json.RawMessage(`{"kind":"approval"}`),
	})
	if err != nil {
		t.Fatalf("CreateHook failed: %v", err)
	}

	byToken, err := store.GetHookByToken(ctx, token)
	if err != nil {
		t.Fatalf("GetHookByToken failed: %v", err)
	}
	if byToken.HookID != hook.HookID || byToken.OwnerID != "acct_1" {
		t.Errorf("unexpected hook: %+v", byToken)
	}
	sameJSON(t, json.RawMessage(`{"kind":"approval"}`), byToken.Metadata)

	disposed, err := store.DisposeHook(ctx, hook.HookID)
	if err != nil {
		t.Fatalf("DisposeHook failed: %v", err)
	}
	if disposed.Token != token {
		t.Error("dispose should return the prior row")
	}
	if _, err := store.DisposeHook(ctx, hook.HookID); !wferrors.IsNotFound(err) {
		t.Errorf("second dispose should be NotFound, got %v", err)
	}
	if _, err := store.GetHookByToken(ctx, token); !wferrors.IsNotFound(err) {
		t.Errorf("token lookup after dispose should be NotFound, got %v", err)
	}
}

func testChunks(t *testing.T, store storage.Store) {
	ctx := context.Background()
	streamID := uniq("stream")

	first, err := store.AppendChunk(ctx, streamID, []byte("ab"), false)
	if err != nil {
		t.Fatalf("AppendChunk failed: %v", err)
	}
	if _, err := store.AppendChunk(ctx, streamID, []byte("cd"), false); err != nil {
		t.Fatalf("AppendChunk failed: %v", err)
	}
	eof, err := store.AppendChunk(ctx, streamID, nil, true)
	if err != nil {
		t.Fatalf("AppendChunk eof failed: %v", err)
	}
	if !eof.EOF || len(eof.Data) != 0 {
		t.Error("eof chunk should be empty with eof=true")
	}

	chunks, err := store.ListChunks(ctx, streamID, "", 0)
	if err != nil {
		t.Fatalf("ListChunks failed: %v", err)
	}
	if len(chunks) != 3 || string(chunks[0].Data) != "ab" || string(chunks[1].Data) != "cd" {
		t.Fatalf("chunks out of order or corrupted: %+v", chunks)
	}

	tail, err := store.ListChunks(ctx, streamID, first.ChunkID, 0)
	if err != nil {
		t.Fatalf("ListChunks after cursor failed: %v", err)
	}
	if len(tail) != 2 || string(tail[0].Data) != "cd" {
		t.Errorf("cursor listing wrong: %+v", tail)
	}
}

func testJobQueue(t *testing.T, store storage.Store) {
	ctx := context.Background()
	queueName := uniq("queue")
	now := time.Now()

	// Idempotent enqueue.
	params := storage.EnqueueJobParams{
		ID:             uniq("msg"),
		QueueName:      queueName,
		Payload:        json.RawMessage(`{"id":"wf1"}`),
		IdempotencyKey: uniq("once"),
		ScheduledFor:   now,
	}
	first, err := store.EnqueueJob(ctx, params)
	if err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	params.ID = uniq("msg")
	second, err := store.EnqueueJob(ctx, params)
	if err != nil {
		t.Fatalf("duplicate EnqueueJob failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("idempotent enqueue should return the original job, got %s and %s", first.ID, second.ID)
	}

	counts, err := store.CountJobsByStatus(ctx, queueName)
	if err != nil {
		t.Fatalf("CountJobsByStatus failed: %v", err)
	}
	if counts[storage.JobPending] != 1 {
		t.Errorf("expected exactly one pending job, got %d", counts[storage.JobPending])
	}

	// Lease protocol with synthetic clocks.
	due, err := store.ListDueJobs(ctx, queueName, now, 10)
	if err != nil {
		t.Fatalf("ListDueJobs failed: %v", err)
	}
	if len(due) != 1 || due[0].ID != first.ID {
		t.Fatalf("expected the enqueued job to be due, got %+v", due)
	}

	until := now.Add(30 * time.Second)
	won, err := store.LeaseJob(ctx, first.ID, now, until)
	if err != nil {
		t.Fatalf("LeaseJob failed: %v", err)
	}
	if !won {
		t.Fatal("first lease should win")
	}
	won, err = store.LeaseJob(ctx, first.ID, now, until)
	if err != nil {
		t.Fatalf("LeaseJob failed: %v", err)
	}
	if won {
		t.Fatal("second lease inside the lock window should lose")
	}

	leased, err := store.GetJob(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if leased.Status != storage.JobProcessing || leased.Attempts != 1 {
		t.Errorf("unexpected lease state: status=%s attempts=%d", leased.Status, leased.Attempts)
	}

	afterExpiry := until.Add(time.Millisecond)
	won, err = store.LeaseJob(ctx, first.ID, afterExpiry, afterExpiry.Add(30*time.Second))
	if err != nil {
		t.Fatalf("LeaseJob steal failed: %v", err)
	}
	if !won {
		t.Fatal("expired lease should be stealable")
	}
	if err := store.CompleteJob(ctx, first.ID); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}

	// Retry scheduling and terminal failure.
	jobID := uniq("msg")
	if _, err := store.EnqueueJob(ctx, storage.EnqueueJobParams{
		ID:           jobID,
		QueueName:    queueName,
		Payload:      json.RawMessage(`{"id":"wf2"}`),
		ScheduledFor: now,
	}); err != nil {
		t.Fatalf("EnqueueJob failed: %v", err)
	}
	retryAt := now.Add(2 * time.Second)
	if err := store.RetryJob(ctx, jobID, "boom", retryAt); err != nil {
		t.Fatalf("RetryJob failed: %v", err)
	}
	due, err = store.ListDueJobs(ctx, queueName, now, 10)
	if err != nil {
		t.Fatalf("ListDueJobs failed: %v", err)
	}
	if len(due) != 0 {
		t.Error("retried job should not be due before its backoff elapses")
	}
	due, err = store.ListDueJobs(ctx, queueName, retryAt.Add(time.Millisecond), 10)
	if err != nil {
		t.Fatalf("ListDueJobs failed: %v", err)
	}
	if len(due) != 1 || due[0].Error != "boom" {
		t.Fatalf("retried job should be due with its error recorded, got %+v", due)
	}

	if err := store.FailJob(ctx, jobID, "gave up"); err != nil {
		t.Fatalf("FailJob failed: %v", err)
	}
	due, err = store.ListDueJobs(ctx, queueName, retryAt.Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("ListDueJobs failed: %v", err)
	}
	if len(due) != 0 {
		t.Error("failed job must never be due")
	}

	counts, err = store.CountJobsByStatus(ctx, queueName)
	if err != nil {
		t.Fatalf("CountJobsByStatus failed: %v", err)
	}
	if counts[storage.JobCompleted] != 1 || counts[storage.JobFailed] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

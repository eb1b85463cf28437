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

package stream

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ejc3/workflow/internal/db"
	"github.com/ejc3/workflow/internal/storage"
	"github.com/ejc3/workflow/internal/storage/sqlite"
	wferrors "github.com/ejc3/workflow/pkg/errors"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	ctx := context.Background()

	adapter := db.NewSQLite(db.Config{URL: filepath.Join(t.TempDir(), "stream_test.db")})
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

// recv waits for one chunk with a timeout.
func recv(t *testing.T, ch <-chan storage.Chunk) storage.Chunk {
	t.Helper()
	select {
	case chunk, ok := <-ch:
		if !ok {
			t.Fatal("channel closed while expecting a chunk")
		}
		return chunk
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for chunk")
		return storage.Chunk{}
	}
}

// expectClosed waits for the channel to close without yielding more chunks.
func expectClosed(t *testing.T, ch <-chan storage.Chunk) {
	t.Helper()
	select {
	case chunk, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel, got chunk %s", chunk.ChunkID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestSplitPayload(t *testing.T) {
	tests := []struct {
		payload      string
		wantStreamID string
		wantChunkID  string
		wantOK       bool
	}{
		{payload: "strm_1:chnk_A", wantStreamID: "strm_1", wantChunkID: "chnk_A", wantOK: true},
		{payload: "run:7:chnk_B", wantStreamID: "run:7", wantChunkID: "chnk_B", wantOK: true},
		{payload: "nocolon", wantOK: false},
		{payload: ":chnk_A", wantOK: false},
		{payload: "strm_1:", wantOK: false},
		{payload: "", wantOK: false},
	}

	for _, tt := range tests {
		streamID, chunkID, ok := splitPayload(tt.payload)
		if ok != tt.wantOK || streamID != tt.wantStreamID || chunkID != tt.wantChunkID {
			t.Errorf("splitPayload(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.payload, streamID, chunkID, ok, tt.wantStreamID, tt.wantChunkID, tt.wantOK)
		}
	}
}

func TestHubCoalescesSignals(t *testing.T) {
	h := newHub()

	ch, unsub := h.subscribe("strm_1")

	h.signal("strm_1")
	h.signal("strm_1")
	h.signal("strm_1")

	// Multiple signals collapse into one pending wakeup.
	<-ch
	select {
	case <-ch:
		t.Error("expected signals to coalesce into one")
	default:
	}

	if got := h.subscriberCount("strm_1"); got != 1 {
		t.Errorf("expected 1 subscriber, got %d", got)
	}
	unsub()
	if got := h.subscriberCount("strm_1"); got != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", got)
	}

	// Signalling a stream with no subscribers is a no-op.
	h.signal("strm_1")
}

func TestReadBacklog(t *testing.T) {
	ctx := context.Background()
	s := New(newTestStore(t))

	if _, err := s.Write(ctx, "strm_1", []byte("ab")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := s.Write(ctx, "strm_1", []byte("cd")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := s.Close(ctx, "strm_1"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ch, err := s.Read(ctx, "strm_1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	first := recv(t, ch)
	second := recv(t, ch)
	if !bytes.Equal(first.Data, []byte("ab")) || !bytes.Equal(second.Data, []byte("cd")) {
		t.Errorf("unexpected chunk data: %q, %q", first.Data, second.Data)
	}
	if first.ChunkID >= second.ChunkID {
		t.Errorf("chunk ids should increase: %s then %s", first.ChunkID, second.ChunkID)
	}
	expectClosed(t, ch)
}

func TestReadLive(t *testing.T) {
	ctx := context.Background()
	s := New(newTestStore(t))

	ch, err := s.Read(ctx, "strm_live")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if _, err := s.Write(ctx, "strm_live", []byte("ab")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := recv(t, ch); !bytes.Equal(got.Data, []byte("ab")) {
		t.Errorf("unexpected first chunk: %q", got.Data)
	}

	if _, err := s.Write(ctx, "strm_live", []byte("cd")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := recv(t, ch); !bytes.Equal(got.Data, []byte("cd")) {
		t.Errorf("unexpected second chunk: %q", got.Data)
	}

	if _, err := s.Close(ctx, "strm_live"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	expectClosed(t, ch)
}

func TestReadLateSubscriberSeesBacklogThenLive(t *testing.T) {
	ctx := context.Background()
	s := New(newTestStore(t))

	if _, err := s.Write(ctx, "strm_2", []byte("ab")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	ch, err := s.Read(ctx, "strm_2")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := recv(t, ch); !bytes.Equal(got.Data, []byte("ab")) {
		t.Errorf("unexpected backlog chunk: %q", got.Data)
	}

	if _, err := s.Write(ctx, "strm_2", []byte("ef")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := recv(t, ch); !bytes.Equal(got.Data, []byte("ef")) {
		t.Errorf("unexpected live chunk: %q", got.Data)
	}

	if _, err := s.Close(ctx, "strm_2"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	expectClosed(t, ch)
}

func TestReadWithStartIndex(t *testing.T) {
	ctx := context.Background()
	s := New(newTestStore(t))

	for _, data := range []string{"one", "two", "three"} {
		if _, err := s.Write(ctx, "strm_3", []byte(data)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if _, err := s.Close(ctx, "strm_3"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ch, err := s.Read(ctx, "strm_3", WithStartIndex(2))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := recv(t, ch); !bytes.Equal(got.Data, []byte("three")) {
		t.Errorf("expected third chunk, got %q", got.Data)
	}
	expectClosed(t, ch)

	// Skipping past the end yields nothing.
	ch, err = s.Read(ctx, "strm_3", WithStartIndex(10))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	expectClosed(t, ch)
}

func TestReadCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(newTestStore(t))

	ch, err := s.Read(ctx, "strm_4")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if _, err := s.Write(context.Background(), "strm_4", []byte("ab")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	recv(t, ch)

	cancel()
	expectClosed(t, ch)

	// The reader released its hub subscription on the way out.
	if got := s.hub.subscriberCount("strm_4"); got != 0 {
		t.Errorf("expected 0 subscribers after cancel, got %d", got)
	}
}

func TestTickerBridgesForeignWrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	s := New(store, WithPollInterval(20*time.Millisecond))

	ch, err := s.Read(ctx, "strm_5")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	// Appends through the store alone mimic a writer in another process:
	// no hub signal, only the ticker can surface them.
	if _, err := store.AppendChunk(ctx, "strm_5", []byte("xy"), false); err != nil {
		t.Fatalf("AppendChunk failed: %v", err)
	}
	if got := recv(t, ch); !bytes.Equal(got.Data, []byte("xy")) {
		t.Errorf("unexpected chunk: %q", got.Data)
	}

	if _, err := store.AppendChunk(ctx, "strm_5", nil, true); err != nil {
		t.Fatalf("AppendChunk failed: %v", err)
	}
	expectClosed(t, ch)
}

type stubNotifier struct {
	mu       sync.Mutex
	payloads []string
	channels []string
	err      error
}

func (n *stubNotifier) Notify(_ context.Context, channel, payload string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, channel)
	n.payloads = append(n.payloads, payload)
	return n.err
}

func TestWriteNotifies(t *testing.T) {
	ctx := context.Background()
	notifier := &stubNotifier{}
	s := New(newTestStore(t), WithNotifier(notifier))

	chunk, err := s.Write(ctx, "strm_6", []byte("ab"))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.channels) != 1 || notifier.channels[0] != ChunkChannel {
		t.Fatalf("expected one notification on %s, got %v", ChunkChannel, notifier.channels)
	}
	if want := "strm_6:" + chunk.ChunkID; notifier.payloads[0] != want {
		t.Errorf("expected payload %s, got %s", want, notifier.payloads[0])
	}
}

func TestNotifyFailureFallsBackToHub(t *testing.T) {
	ctx := context.Background()
	notifier := &stubNotifier{err: errors.New("connection reset")}
	// Tickers off: delivery can only come from the hub fallback.
	s := New(newTestStore(t), WithNotifier(notifier), WithPollInterval(0))

	ch, err := s.Read(ctx, "strm_7")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if _, err := s.Write(ctx, "strm_7", []byte("ab")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := recv(t, ch); !bytes.Equal(got.Data, []byte("ab")) {
		t.Errorf("unexpected chunk: %q", got.Data)
	}

	if _, err := s.Close(ctx, "strm_7"); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	expectClosed(t, ch)
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	s := New(newTestStore(t))

	if _, err := s.Write(ctx, "", []byte("ab")); !wferrors.IsValidation(err) {
		t.Errorf("Write with empty stream id: expected validation error, got %v", err)
	}
	if _, err := s.Close(ctx, ""); !wferrors.IsValidation(err) {
		t.Errorf("Close with empty stream id: expected validation error, got %v", err)
	}
	if _, err := s.Read(ctx, ""); !wferrors.IsValidation(err) {
		t.Errorf("Read with empty stream id: expected validation error, got %v", err)
	}
}

func TestStartStopWithoutListener(t *testing.T) {
	s := New(newTestStore(t))

	// Without a listener source the lifecycle is a no-op.
	s.Start(context.Background())
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

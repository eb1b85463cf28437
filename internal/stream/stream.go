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

// Package stream provides ordered live delivery of append-only byte
// streams stored as chunks.
//
// Writers append chunks through the chunk store; Close appends a
// zero-length EOF marker that terminates every reader. Readers get a
// channel that yields the chunks of a stream in chunk-id order, starting
// with the already-persisted backlog and continuing live until EOF.
//
// A reader subscribes to the in-process hub before its first query, then
// alternates between draining new rows and waiting for a wakeup, so a
// chunk is never missed: whatever was committed before the query shows up
// in the drain, whatever comes after leaves a pending signal. On MySQL and
// SQLite each reader also polls on a ticker, which is the only bridge to
// writers in other processes. On PostgreSQL writers NOTIFY after each
// append and one dedicated listener connection per process feeds the hub,
// for local and remote writers alike, so readers need no ticker.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ejc3/workflow/internal/db"
	"github.com/ejc3/workflow/internal/metrics"
	"github.com/ejc3/workflow/internal/storage"
	wferrors "github.com/ejc3/workflow/pkg/errors"
)

// ChunkChannel is the PostgreSQL notification channel for chunk appends.
// Payloads have the form "<streamId>:<chunkId>".
const ChunkChannel = "workflow_event_chunk"

// defaultPollInterval is the reader ticker cadence on backends without
// notifications.
const defaultPollInterval = 200 * time.Millisecond

// reconnectDelay paces listener reconnection attempts.
const reconnectDelay = time.Second

// Notifier publishes a chunk-append notification. Implemented by the
// postgres adapter; the other backends run without one.
type Notifier interface {
	Notify(ctx context.Context, channel, payload string) error
}

// ListenerSource opens dedicated notification listener connections.
// Implemented by the postgres adapter.
type ListenerSource interface {
	NewListener(ctx context.Context) (*db.Listener, error)
}

// Option customizes a Streamer.
type Option func(*Streamer)

// WithNotifier makes every append publish on ChunkChannel.
func WithNotifier(n Notifier) Option {
	return func(s *Streamer) {
		s.notifier = n
	}
}

// WithListenerSource wires the dedicated listener that feeds notifications
// into the hub. It disables the per-reader polling tickers; notifications
// carry both local and cross-process appends.
func WithListenerSource(ls ListenerSource) Option {
	return func(s *Streamer) {
		s.listenerSource = ls
		s.pollInterval = 0
	}
}

// WithPollInterval overrides the reader ticker cadence. Zero disables
// ticking entirely.
func WithPollInterval(d time.Duration) Option {
	return func(s *Streamer) {
		s.pollInterval = d
	}
}

// WithLogger overrides the default component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Streamer) {
		s.logger = logger
	}
}

// ReadOption customizes a single Read.
type ReadOption func(*readOptions)

type readOptions struct {
	startIndex int
}

// WithStartIndex skips the first n data chunks of the stream. The skipped
// chunks still advance the reader's position, so a stream closed before n
// chunks were written yields nothing and ends at the EOF marker.
func WithStartIndex(n int) ReadOption {
	return func(o *readOptions) {
		if n > 0 {
			o.startIndex = n
		}
	}
}

// Streamer writes and tails chunked byte streams. It is safe for
// concurrent use; the hub it carries is process-local state only, all
// durable state lives in the chunk store.
type Streamer struct {
	store          storage.ChunkStore
	hub            *hub
	notifier       Notifier
	listenerSource ListenerSource
	logger         *slog.Logger
	pollInterval   time.Duration
	batchSize      int

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a streamer over the given chunk store.
func New(store storage.ChunkStore, opts ...Option) *Streamer {
	s := &Streamer{
		store:        store,
		hub:          newHub(),
		logger:       slog.Default().With(slog.String("component", "streamer")),
		pollInterval: defaultPollInterval,
		batchSize:    storage.DefaultChunkBatch,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write appends a data chunk to a stream and wakes its readers.
func (s *Streamer) Write(ctx context.Context, streamID string, data []byte) (*storage.Chunk, error) {
	if streamID == "" {
		return nil, &wferrors.ValidationError{Field: "streamId", Message: "stream id is required"}
	}

	chunk, err := s.store.AppendChunk(ctx, streamID, data, false)
	if err != nil {
		metrics.RecordStorageError("AppendChunk", metrics.ErrorType(err))
		return nil, err
	}
	metrics.RecordChunkAppended()

	s.announce(ctx, chunk)
	return chunk, nil
}

// Close appends the zero-length EOF marker that terminates every reader
// of the stream. Writes after Close still append rows, but no reader will
// get past the marker to see them.
func (s *Streamer) Close(ctx context.Context, streamID string) (*storage.Chunk, error) {
	if streamID == "" {
		return nil, &wferrors.ValidationError{Field: "streamId", Message: "stream id is required"}
	}

	chunk, err := s.store.AppendChunk(ctx, streamID, nil, true)
	if err != nil {
		metrics.RecordStorageError("AppendChunk", metrics.ErrorType(err))
		return nil, err
	}
	metrics.RecordChunkAppended()

	s.announce(ctx, chunk)
	return chunk, nil
}

// announce wakes the stream's readers. With a notifier the wakeup goes
// through the database so every process's listener sees it; if the notify
// fails the local hub is signalled anyway so in-process readers are not
// left waiting on a reconnecting listener.
func (s *Streamer) announce(ctx context.Context, chunk *storage.Chunk) {
	if s.notifier != nil {
		payload := chunk.StreamID + ":" + chunk.ChunkID
		err := s.notifier.Notify(ctx, ChunkChannel, payload)
		if err == nil {
			return
		}
		s.logger.Warn("failed to notify chunk append",
			slog.String("stream_id", chunk.StreamID),
			slog.Any("error", err),
		)
	}
	s.hub.signal(chunk.StreamID)
}

// Read tails a stream. The returned channel yields chunks in strictly
// increasing chunk-id order and closes after the EOF marker; the marker
// itself is not yielded. Cancelling the context unsubscribes the reader,
// stops its ticker, and closes the channel. The read is not restartable;
// callers wanting to resume use WithStartIndex on a fresh Read.
func (s *Streamer) Read(ctx context.Context, streamID string, opts ...ReadOption) (<-chan storage.Chunk, error) {
	if streamID == "" {
		return nil, &wferrors.ValidationError{Field: "streamId", Message: "stream id is required"}
	}

	var options readOptions
	for _, opt := range opts {
		opt(&options)
	}

	out := make(chan storage.Chunk)
	go s.read(ctx, streamID, options.startIndex, out)
	return out, nil
}

func (s *Streamer) read(ctx context.Context, streamID string, skip int, out chan<- storage.Chunk) {
	defer close(out)

	// Subscribe before the snapshot query: an append racing the query
	// leaves a pending signal instead of a lost wakeup.
	signal, unsub := s.hub.subscribe(streamID)
	defer unsub()

	var tick <-chan time.Time
	if s.pollInterval > 0 {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	lastSeen := ""
	for {
		done, err := s.drain(ctx, streamID, &lastSeen, &skip, out)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transient query failures leave lastSeen where it was;
			// the next pass re-reads from there.
			metrics.RecordStorageError("ListChunks", metrics.ErrorType(err))
			s.logger.Warn("failed to list chunks",
				slog.String("stream_id", streamID),
				slog.Any("error", err),
			)
		}
		if done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-signal:
		case <-tick:
		}
	}
}

// drain delivers everything past lastSeen, paging until a short page. It
// reports done when the EOF marker was reached or the context ended.
func (s *Streamer) drain(ctx context.Context, streamID string, lastSeen *string, skip *int, out chan<- storage.Chunk) (bool, error) {
	for {
		chunks, err := s.store.ListChunks(ctx, streamID, *lastSeen, s.batchSize)
		if err != nil {
			return false, err
		}

		for _, chunk := range chunks {
			*lastSeen = chunk.ChunkID
			if chunk.EOF {
				return true, nil
			}
			if *skip > 0 {
				*skip--
				continue
			}
			select {
			case out <- *chunk:
				metrics.RecordChunkDelivered()
			case <-ctx.Done():
				return true, nil
			}
		}

		if len(chunks) < s.batchSize {
			return false, nil
		}
	}
}

// Start launches the notification listener when a listener source is
// configured; otherwise it is a no-op. Calling Start on a running
// streamer is a no-op.
func (s *Streamer) Start(ctx context.Context) {
	if s.listenerSource == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	lctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.listen(lctx)
}

// Stop shuts down the notification listener and waits for it to exit, or
// for the context to expire. Readers are unaffected; they stop with their
// own contexts.
func (s *Streamer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain stream listener: %w", ctx.Err())
	}
}

// listen keeps one dedicated listener connection subscribed to
// ChunkChannel, reconnecting with a delay after failures.
func (s *Streamer) listen(ctx context.Context) {
	defer s.wg.Done()

	for {
		if err := s.listenOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("stream listener disconnected", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Streamer) listenOnce(ctx context.Context) error {
	listener, err := s.listenerSource.NewListener(ctx)
	if err != nil {
		return fmt.Errorf("failed to open stream listener: %w", err)
	}
	defer listener.Close(context.Background())

	if err := listener.Listen(ctx, ChunkChannel); err != nil {
		return err
	}

	for {
		n, err := listener.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		streamID, _, ok := splitPayload(n.Payload)
		if !ok {
			s.logger.Warn("malformed chunk notification", slog.String("payload", n.Payload))
			continue
		}
		s.hub.signal(streamID)
	}
}

// splitPayload splits "<streamId>:<chunkId>" at the last colon. Stream ids
// may contain colons of their own; chunk ids never do.
func splitPayload(payload string) (streamID, chunkID string, ok bool) {
	i := strings.LastIndex(payload, ":")
	if i <= 0 || i == len(payload)-1 {
		return "", "", false
	}
	return payload[:i], payload[i+1:], true
}

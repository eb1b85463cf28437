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

package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/ejc3/workflow/internal/ident"
	"github.com/ejc3/workflow/internal/storage"
	wferrors "github.com/ejc3/workflow/pkg/errors"
)

const chunkColumns = `stream_id, chunk_id, chunk_data, eof, created_at`

func scanChunk(row rowScanner) (*storage.Chunk, error) {
	var (
		chunk     storage.Chunk
		createdAt string
	)
	if err := row.Scan(
		&chunk.StreamID, &chunk.ChunkID, &chunk.Data, &chunk.EOF, &createdAt,
	); err != nil {
		return nil, err
	}

	var err error
	if chunk.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &chunk, nil
}

// AppendChunk appends a chunk with a generated, time-ordered chunk id.
func (s *Store) AppendChunk(ctx context.Context, streamID string, data []byte, eof bool) (*storage.Chunk, error) {
	chunkID := ident.ChunkID()
	now := formatTime(time.Now())

	query := `INSERT INTO workflow_stream_chunks (` + chunkColumns + `)
		VALUES (?, ?, ?, ?, ?)
		RETURNING ` + chunkColumns

	chunk, err := scanChunk(s.db.QueryRowContext(ctx, query, streamID, chunkID, data, eof, now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &wferrors.ConflictError{Resource: "chunk", ID: chunkID}
		}
		return nil, fmt.Errorf("failed to append chunk: %w", err)
	}
	return chunk, nil
}

// ListChunks returns chunks of a stream after the given chunk id, ascending.
func (s *Store) ListChunks(ctx context.Context, streamID string, afterChunkID string, limit int) ([]*storage.Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM workflow_stream_chunks WHERE stream_id = ?`
	args := []any{streamID}

	if afterChunkID != "" {
		query += " AND chunk_id > ?"
		args = append(args, afterChunkID)
	}
	if limit <= 0 {
		limit = storage.DefaultChunkBatch
	}
	query += " ORDER BY chunk_id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*storage.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return chunks, nil
}

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

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ejc3/workflow/internal/ident"
	"github.com/ejc3/workflow/internal/storage"
	wferrors "github.com/ejc3/workflow/pkg/errors"
)

const eventColumns = `event_id, run_id, event_type, correlation_id, event_data, created_at`

func scanEvent(row rowScanner) (*storage.Event, error) {
	var (
		event         storage.Event
		correlationID sql.NullString
		data          []byte
	)
	if err := row.Scan(
		&event.EventID, &event.RunID, &event.EventType,
		&correlationID, &data, &event.CreatedAt,
	); err != nil {
		return nil, err
	}

	event.CorrelationID = correlationID.String
	event.EventData = scanJSON(data)
	return &event, nil
}

// CreateEvent appends an event to a run's log.
func (s *Store) CreateEvent(ctx context.Context, params storage.CreateEventParams) (*storage.Event, error) {
	eventID := ident.EventID()

	query := `INSERT INTO workflow_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + eventColumns

	event, err := scanEvent(s.db.QueryRowContext(ctx, query,
		eventID, params.RunID, params.EventType,
		nullString(params.CorrelationID), nullJSON(params.EventData), time.Now(),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &wferrors.ConflictError{Resource: "event", ID: eventID}
		}
		return nil, fmt.Errorf("failed to create event: %w", err)
	}
	return event, nil
}

// ListEvents pages the events of a run.
func (s *Store) ListEvents(ctx context.Context, runID string, params storage.ListEventsParams) (*storage.EventPage, error) {
	return s.listEvents(ctx, "run_id = $1", runID, params)
}

// ListEventsByCorrelation pages events sharing a correlation id.
func (s *Store) ListEventsByCorrelation(ctx context.Context, correlationID string, params storage.ListEventsParams) (*storage.EventPage, error) {
	return s.listEvents(ctx, "correlation_id = $1", correlationID, params)
}

func (s *Store) listEvents(ctx context.Context, where string, key string, params storage.ListEventsParams) (*storage.EventPage, error) {
	query := `SELECT ` + eventColumns + ` FROM workflow_events WHERE ` + where
	args := []any{key}
	idx := 2

	if params.Cursor != "" {
		if params.Descending {
			query += fmt.Sprintf(" AND event_id < $%d", idx)
		} else {
			query += fmt.Sprintf(" AND event_id > $%d", idx)
		}
		args = append(args, params.Cursor)
		idx++
	}

	limit := storage.Limit(params.Limit)
	if params.Descending {
		query += fmt.Sprintf(" ORDER BY event_id DESC LIMIT $%d", idx)
	} else {
		query += fmt.Sprintf(" ORDER BY event_id ASC LIMIT $%d", idx)
	}
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	page := &storage.EventPage{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		page.Events = append(page.Events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	if len(page.Events) > limit {
		page.Events = page.Events[:limit]
		page.HasMore = true
	}
	if len(page.Events) > 0 {
		page.Cursor = page.Events[len(page.Events)-1].EventID
	}
	return page, nil
}

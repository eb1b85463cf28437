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
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ejc3/workflow/internal/ident"
	"github.com/ejc3/workflow/internal/storage"
	wferrors "github.com/ejc3/workflow/pkg/errors"
)

const hookColumns = `hook_id, run_id, token, owner_id, project_id, environment, metadata, created_at`

func scanHook(row rowScanner) (*storage.Hook, error) {
	var (
		hook                              storage.Hook
		ownerID, projectID, env, metadata sql.NullString
		createdAt                         string
	)
	if err := row.Scan(
		&hook.HookID, &hook.RunID, &hook.Token,
		&ownerID, &projectID, &env, &metadata, &createdAt,
	); err != nil {
		return nil, err
	}

	hook.OwnerID = ownerID.String
	hook.ProjectID = projectID.String
	hook.Environment = env.String
	hook.Metadata = scanJSON(metadata)

	var err error
	if hook.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &hook, nil
}

// CreateHook inserts a hook with a generated id.
func (s *Store) CreateHook(ctx context.Context, params storage.CreateHookParams) (*storage.Hook, error) {
	hookID := ident.HookID()
	now := formatTime(time.Now())

	query := `INSERT INTO workflow_hooks (` + hookColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hook_id) DO NOTHING
		RETURNING ` + hookColumns

	hook, err := scanHook(s.db.QueryRowContext(ctx, query,
		hookID, params.RunID, params.Token,
		nullString(params.OwnerID), nullString(params.ProjectID),
		nullString(params.Environment), nullJSON(params.Metadata), now,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wferrors.ConflictError{Resource: "hook", ID: hookID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create hook: %w", err)
	}
	return hook, nil
}

// GetHookByToken retrieves a hook by its opaque token.
func (s *Store) GetHookByToken(ctx context.Context, token string) (*storage.Hook, error) {
	query := `SELECT ` + hookColumns + ` FROM workflow_hooks WHERE token = ?`

	hook, err := scanHook(s.db.QueryRowContext(ctx, query, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wferrors.NotFoundError{Resource: "hook", ID: token}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hook: %w", err)
	}
	return hook, nil
}

// DisposeHook removes a hook and returns the prior row.
func (s *Store) DisposeHook(ctx context.Context, hookID string) (*storage.Hook, error) {
	query := `DELETE FROM workflow_hooks WHERE hook_id = ? RETURNING ` + hookColumns

	hook, err := scanHook(s.db.QueryRowContext(ctx, query, hookID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &wferrors.NotFoundError{Resource: "hook", ID: hookID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dispose hook: %w", err)
	}
	return hook, nil
}

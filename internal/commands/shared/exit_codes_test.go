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

package shared

import (
	"errors"
	"fmt"
	"testing"

	wferrors "github.com/ejc3/workflow/pkg/errors"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{
			name: "nil error",
			err:  nil,
			want: ExitSuccess,
		},
		{
			name: "generic error",
			err:  errors.New("boom"),
			want: ExitFailure,
		},
		{
			name: "validation error",
			err:  &wferrors.ValidationError{Field: "status", Message: "unknown status"},
			want: ExitUsage,
		},
		{
			name: "not found error",
			err:  &wferrors.NotFoundError{Resource: "run", ID: "wrun_1"},
			want: ExitNotFound,
		},
		{
			name: "wrapped not found error",
			err:  fmt.Errorf("failed to get run: %w", &wferrors.NotFoundError{Resource: "run", ID: "wrun_1"}),
			want: ExitNotFound,
		},
		{
			name: "config error",
			err:  &wferrors.ConfigError{Key: "sql.url", Reason: "must not be empty"},
			want: ExitUsage,
		},
		{
			name: "explicit exit error",
			err:  NewUnavailableError("database is degraded", nil),
			want: ExitUnavailable,
		},
		{
			name: "exit error wins over wrapped kind",
			err:  NewUsageError("bad input", &wferrors.NotFoundError{Resource: "run", ID: "x"}),
			want: ExitUsage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCodeFor(tt.err); got != tt.want {
				t.Errorf("ExitCodeFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestExitErrorMessage(t *testing.T) {
	plain := &ExitError{Code: ExitFailure, Message: "enqueue failed"}
	if plain.Error() != "enqueue failed" {
		t.Errorf("unexpected message: %q", plain.Error())
	}

	caused := NewUnavailableError("failed to open database", errors.New("connection refused"))
	if caused.Error() != "failed to open database: connection refused" {
		t.Errorf("unexpected message: %q", caused.Error())
	}
	if !errors.Is(caused, caused.Cause) {
		t.Error("expected Unwrap to expose the cause")
	}
}

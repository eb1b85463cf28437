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

package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewCorrelationID(t *testing.T) {
	id := NewCorrelationID()
	if !id.IsValid() {
		t.Errorf("generated id %q should be a valid UUID", id)
	}
	if id == NewCorrelationID() {
		t.Error("consecutive ids should differ")
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name string
		id   CorrelationID
		want bool
	}{
		{name: "uuid", id: "f47ac10b-58cc-4372-a567-0e02b2c3d479", want: true},
		{name: "uppercase", id: "F47AC10B-58CC-4372-A567-0E02B2C3D479", want: true},
		{name: "empty", id: "", want: false},
		{name: "prose", id: "not-a-uuid", want: false},
		{name: "truncated", id: "f47ac10b-58cc-4372-a567", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.IsValid(); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()

	if got := FromContextOrEmpty(ctx); got != "" {
		t.Errorf("empty context should yield empty id, got %q", got)
	}

	id := NewCorrelationID()
	ctx = ToContext(ctx, id)
	if got := FromContextOrEmpty(ctx); got != id {
		t.Errorf("expected %q, got %q", id, got)
	}
	if got := FromContext(ctx); got != id {
		t.Errorf("expected %q, got %q", id, got)
	}

	if got := FromContext(context.Background()); !got.IsValid() {
		t.Errorf("FromContext should mint a valid id, got %q", got)
	}
}

func TestFromRequest(t *testing.T) {
	valid := "f47ac10b-58cc-4372-a567-0e02b2c3d479"

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, valid)
	if got := FromRequest(req); got.String() != valid {
		t.Errorf("expected header id, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, valid)
	if got := FromRequest(req); got.String() != valid {
		t.Errorf("expected fallback header id, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, "garbage")
	if got := FromRequest(req); !got.IsValid() || got.String() == "garbage" {
		t.Errorf("malformed header should yield a fresh id, got %q", got)
	}
}

func TestCorrelationMiddleware(t *testing.T) {
	valid := "f47ac10b-58cc-4372-a567-0e02b2c3d479"

	var seen CorrelationID
	handler := CorrelationMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContextOrEmpty(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, valid)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen.String() != valid {
		t.Errorf("handler should see the request id, got %q", seen)
	}
	if got := rec.Header().Get(HeaderCorrelationID); got != valid {
		t.Errorf("response should echo the id, got %q", got)
	}

	// No header: one fresh id, visible in both places.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !seen.IsValid() {
		t.Errorf("handler should see a minted id, got %q", seen)
	}
	if got := rec.Header().Get(HeaderCorrelationID); got != seen.String() {
		t.Errorf("response header %q should match context id %q", got, seen)
	}
}

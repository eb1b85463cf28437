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

package jq

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestEval(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		input      any
		want       []any
		wantErr    bool
	}{
		{
			name:       "empty expression returns input",
			expression: "",
			input:      map[string]any{"foo": "bar"},
			want:       []any{map[string]any{"foo": "bar"}},
		},
		{
			name:       "field extraction",
			expression: ".foo",
			input:      map[string]any{"foo": "bar"},
			want:       []any{"bar"},
		},
		{
			name:       "iteration produces one result per element",
			expression: ".[] | .id",
			input:      []any{map[string]any{"id": "wrun_1"}, map[string]any{"id": "wrun_2"}},
			want:       []any{"wrun_1", "wrun_2"},
		},
		{
			name:       "select filters",
			expression: `.[] | select(.status == "running") | .id`,
			input: []any{
				map[string]any{"id": "wrun_1", "status": "running"},
				map[string]any{"id": "wrun_2", "status": "pending"},
			},
			want: []any{"wrun_1"},
		},
		{
			name:       "invalid expression",
			expression: ".[",
			input:      map[string]any{"foo": "bar"},
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := New(0).Eval(context.Background(), tt.expression, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Eval() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Eval() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestEvalTimeout(t *testing.T) {
	e := New(100 * time.Millisecond)

	// This expression never terminates
	_, err := e.Eval(context.Background(), "while(true; . + 1)", 0)
	if err == nil {
		t.Error("expected timeout error, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		wantErr    bool
	}{
		{name: "empty expression is valid", expression: ""},
		{name: "simple expression is valid", expression: ".foo"},
		{name: "pipeline is valid", expression: ".[] | select(.status == \"failed\")"},
		{name: "invalid expression", expression: ".["},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.expression)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	type run struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}

	got, err := Normalize([]run{{ID: "wrun_1", Status: "running"}})
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	want := []any{map[string]any{"id": "wrun_1", "status": "running"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize() = %#v, want %#v", got, want)
	}
}

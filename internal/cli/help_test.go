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

package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ejc3/workflow/internal/commands/shared"
)

// newHelpTestRoot builds a root with a small command tree, enough to
// exercise help rendering without opening a database.
func newHelpTestRoot() *cobra.Command {
	root := NewRootCommand()

	group := &cobra.Command{
		Use:   "runs",
		Short: "Manage workflow runs",
		Annotations: map[string]string{
			"group": "management",
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List workflow runs",
		RunE:  func(cmd *cobra.Command, args []string) error { return nil },
	}
	list.Flags().String("status", "", "Filter by status")
	group.AddCommand(list)
	root.AddCommand(group)

	root.SetHelpCommand(NewHelpCommand(root))
	return root
}

func TestHelpCommand(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		wantErr      bool
		wantContains []string
	}{
		{
			name:         "root help",
			args:         []string{"help"},
			wantContains: []string{"workflowctl", "runs"},
		},
		{
			name:         "command help",
			args:         []string{"help", "runs"},
			wantContains: []string{"Manage workflow runs", "list"},
		},
		{
			name:         "nested command help",
			args:         []string{"help", "runs", "list"},
			wantContains: []string{"List workflow runs", "--status"},
		},
		{
			name:    "unknown command",
			args:    []string{"help", "bogus"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shared.ResetFlagsForTest()
			t.Cleanup(shared.ResetFlagsForTest)

			root := newHelpTestRoot()
			buf := new(bytes.Buffer)
			root.SetOut(buf)
			root.SetErr(buf)
			root.SetArgs(tt.args)

			err := root.Execute()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}

			output := buf.String()
			for _, want := range tt.wantContains {
				if !strings.Contains(output, want) {
					t.Errorf("help output missing %q:\n%s", want, output)
				}
			}
		})
	}
}

func TestHelpJSON(t *testing.T) {
	shared.ResetFlagsForTest()
	t.Cleanup(shared.ResetFlagsForTest)

	root := newHelpTestRoot()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"help", "--output", "json"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var resp struct {
		Commands    []CommandMetadata `json:"commands"`
		GlobalFlags []FlagMetadata    `json:"global_flags"`
	}
	if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode help metadata: %v\noutput: %s", err, buf.String())
	}

	var runs *CommandMetadata
	for i := range resp.Commands {
		if resp.Commands[i].Name == "runs" {
			runs = &resp.Commands[i]
			break
		}
	}
	if runs == nil {
		t.Fatalf("runs command missing from metadata: %+v", resp.Commands)
	}
	if runs.Group != "management" {
		t.Errorf("expected group 'management', got %q", runs.Group)
	}
	if len(runs.Subcommands) != 1 || runs.Subcommands[0] != "list" {
		t.Errorf("unexpected subcommands: %v", runs.Subcommands)
	}

	var dbURL bool
	for _, flag := range resp.GlobalFlags {
		if flag.Name == "db-url" {
			dbURL = true
			break
		}
	}
	if !dbURL {
		t.Errorf("db-url missing from global flags: %+v", resp.GlobalFlags)
	}
}

func TestHelpJSONSingleCommand(t *testing.T) {
	shared.ResetFlagsForTest()
	t.Cleanup(shared.ResetFlagsForTest)

	root := newHelpTestRoot()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"help", "runs", "list", "--output", "json"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var resp struct {
		Commands []CommandMetadata `json:"commands"`
	}
	if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode help metadata: %v\noutput: %s", err, buf.String())
	}

	if len(resp.Commands) != 1 {
		t.Fatalf("expected 1 command, got %d", len(resp.Commands))
	}
	cmd := resp.Commands[0]
	if cmd.Name != "list" {
		t.Errorf("expected command 'list', got %q", cmd.Name)
	}

	var statusFlag bool
	for _, flag := range cmd.Flags {
		if flag.Name == "status" {
			statusFlag = true
			break
		}
	}
	if !statusFlag {
		t.Errorf("status flag missing from metadata: %+v", cmd.Flags)
	}
}

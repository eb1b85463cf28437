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

package version

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/ejc3/workflow/internal/cli"
	"github.com/ejc3/workflow/internal/commands/shared"
)

func executeVersion(t *testing.T, args ...string) string {
	t.Helper()
	shared.ResetFlagsForTest()
	t.Cleanup(shared.ResetFlagsForTest)

	root := cli.NewRootCommand()
	root.AddCommand(NewVersionCommand())

	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(append([]string{"version"}, args...))
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	cmd := NewVersionCommand()
	if cmd.Use != "version" {
		t.Errorf("expected Use to be 'version', got %q", cmd.Use)
	}
}

func TestVersionOutput(t *testing.T) {
	v, c, b := shared.GetVersion()
	t.Cleanup(func() { shared.SetVersion(v, c, b) })
	shared.SetVersion("1.2.3", "abc1234", "2025-06-01")

	out := executeVersion(t)
	if !strings.Contains(out, "workflowctl version 1.2.3") {
		t.Errorf("unexpected version output: %s", out)
	}
	if !strings.Contains(out, "abc1234") || !strings.Contains(out, "2025-06-01") {
		t.Errorf("expected commit and build date in output: %s", out)
	}
}

func TestVersionJSON(t *testing.T) {
	v, c, b := shared.GetVersion()
	t.Cleanup(func() { shared.SetVersion(v, c, b) })
	shared.SetVersion("1.2.3", "abc1234", "2025-06-01")

	out := executeVersion(t, "--output", "json")

	var info VersionInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("failed to decode version info: %v\noutput: %s", err, out)
	}
	if info.Version != "1.2.3" || info.Commit != "abc1234" || info.BuildDate != "2025-06-01" {
		t.Errorf("unexpected version info: %+v", info)
	}
}

func TestVersionJQ(t *testing.T) {
	v, c, b := shared.GetVersion()
	t.Cleanup(func() { shared.SetVersion(v, c, b) })
	shared.SetVersion("1.2.3", "abc1234", "2025-06-01")

	out := executeVersion(t, "--jq", ".version")
	if strings.TrimSpace(out) != `"1.2.3"` {
		t.Errorf("expected jq to extract the version, got %q", out)
	}
}

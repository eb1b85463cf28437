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

// Package config implements the workflowctl config command group.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ejc3/workflow/internal/commands/shared"
	"github.com/ejc3/workflow/internal/config"
	wferrors "github.com/ejc3/workflow/pkg/errors"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "config",
		Annotations: map[string]string{
			"group": "configuration",
		},
		Short: "Inspect and bootstrap configuration",
		Long: `Commands for inspecting the effective configuration and writing a
starter configuration file.

Values are resolved from built-in defaults, the --config file,
WORKFLOW_* environment variables, and command-line flags, in rising
precedence.`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigInitCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration after merging defaults, the configuration
file, environment variables, and flags. The database password is
masked.`,
		Args: cobra.NoArgs,
		RunE: runConfigShow,
	}
}

func newConfigInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter configuration file",
		Long: `Write a commented starter configuration file. The default path is
workflow.yaml in the current directory.

Existing files are never overwritten.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runConfigInit,
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}

	masked := *cfg
	masked.SQL.URL = maskDatabaseURL(cfg.SQL.URL)

	w := cmd.OutOrStdout()
	if handled, err := shared.EmitResult(w, &masked); handled {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&masked); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := "workflow.yaml"
	if len(args) == 1 && args[0] != "" {
		path = args[0]
	}

	if _, err := os.Stat(path); err == nil {
		return &wferrors.ValidationError{
			Field:      "path",
			Message:    fmt.Sprintf("%s already exists", path),
			Suggestion: "pass a different path or remove the existing file",
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(path, config.Starter(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	cmd.Printf("Wrote starter configuration to %s\n", path)
	return nil
}

// maskDatabaseURL hides the password component of a connection URL.
// SQLite paths carry no userinfo and pass through unchanged.
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	if _, has := u.User.Password(); !has {
		return raw
	}
	u.User = url.UserPassword(u.User.Username(), "****")
	return u.String()
}

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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ejc3/workflow/internal/commands/shared"
	"github.com/ejc3/workflow/internal/jq"
	wferrors "github.com/ejc3/workflow/pkg/errors"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for workflowctl
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflowctl",
		Short: "workflowctl - operate the durable workflow substrate",
		Long: `workflowctl inspects and drives the durable workflow substrate: runs,
steps, events, hooks, the job queue, and byte streams, all stored in
one SQL database.

Commands talk to the database directly, so they work with or without a
running workflowd. Point them at the right database with --db-url or a
config file.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return validateGlobalFlags()
		},
	}

	// Get flag pointers from shared package
	verbose, output, jqExpr, config, dbURL := shared.RegisterFlagPointers()

	// Add global flags
	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringVarP(output, "output", "o", shared.OutputTable, "Output format (table, json)")
	cmd.PersistentFlags().StringVar(jqExpr, "jq", "", "Filter output through a jq expression (implies JSON output)")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(dbURL, "db-url", "", "Database connection string (overrides config)")

	return cmd
}

// validateGlobalFlags rejects bad global flag values before any command
// touches the database.
func validateGlobalFlags() error {
	switch shared.GetOutput() {
	case shared.OutputTable, shared.OutputJSON:
	default:
		return &wferrors.ValidationError{
			Field:      "output",
			Message:    fmt.Sprintf("unknown output format %q", shared.GetOutput()),
			Suggestion: "use table or json",
		}
	}

	if expr := shared.GetJQ(); expr != "" {
		if err := jq.Validate(expr); err != nil {
			return &wferrors.ValidationError{Field: "jq", Message: err.Error()}
		}
	}

	return nil
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}

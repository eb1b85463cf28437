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

// Package management implements the workflowctl command groups that
// operate on the substrate: runs, steps, events, hooks, the job queue,
// and byte streams. Every command opens the configured database directly,
// does its work, and tears the connection down again.
package management

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ejc3/workflow/internal/commands/shared"
	"github.com/ejc3/workflow/internal/storage"
	"github.com/ejc3/workflow/internal/world"
	wferrors "github.com/ejc3/workflow/pkg/errors"
)

// NewRunsCommand creates the runs command group.
func NewRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "runs",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "Manage workflow runs",
		Long: `Commands for creating, listing, and driving workflow runs.

Runs are the durable record of workflow executions. State transitions
are validated in storage: terminal runs are returned unchanged by
cancel and pause, and resume applies only to paused runs.`,
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsGetCommand())
	cmd.AddCommand(newRunsCreateCommand())
	cmd.AddCommand(newRunsCancelCommand())
	cmd.AddCommand(newRunsPauseCommand())
	cmd.AddCommand(newRunsResumeCommand())

	return cmd
}

func newRunsListCommand() *cobra.Command {
	var status string
	var workflow string
	var cursor string
	var limit int
	var failed bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflow runs",
		Long: `List workflow runs, newest first, optionally filtered by status or
workflow name. Listings are cursor-paged; rerun with --cursor to fetch
the next page.`,
		Example: `  # Example 1: List all workflow runs
  workflowctl runs list

  # Example 2: Filter by status
  workflowctl runs list --status running

  # Example 3: Filter by workflow name
  workflowctl runs list --workflow order-flow

  # Example 4: List failed runs (shorthand)
  workflowctl runs list --failed

  # Example 5: Pull run ids for scripting
  workflowctl runs list --jq '.runs[].run_id'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The --failed flag is shorthand that overrides --status
			if failed {
				status = string(storage.RunFailed)
			}
			return runsList(cmd.OutOrStdout(), status, workflow, cursor, limit)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (pending, running, paused, completed, failed, cancelled)")
	cmd.Flags().StringVar(&workflow, "workflow", "", "Filter by workflow name")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Resume a listing from this cursor")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (default 100)")
	cmd.Flags().BoolVar(&failed, "failed", false, "Show only failed runs (shorthand for --status failed)")

	return cmd
}

func newRunsGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show run details",
		Long:  `Display the stored state of a single workflow run.`,
		Example: `  # Example 1: Show run details
  workflowctl runs get wrun_01JFXJ5A4NVXK8Q2T0B7RW9GYD

  # Example 2: Extract the status
  workflowctl runs get wrun_01JFXJ5A4NVXK8Q2T0B7RW9GYD --jq .status`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runsGet(cmd.OutOrStdout(), args[0])
		},
	}
}

func newRunsCreateCommand() *cobra.Command {
	var workflow string
	var deployment string
	var input string
	var execCtx string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow run",
		Long: `Create a new run in pending state. Creating a run stores it; it does
not enqueue work. Pair with 'workflowctl queue enqueue' to hand the run
to the workers.`,
		Example: `  # Example 1: Create a run
  workflowctl runs create --workflow order-flow

  # Example 2: Create a run with input
  workflowctl runs create --workflow order-flow --input '{"orderId": 42}'

  # Example 3: Create and capture the id
  id=$(workflowctl runs create --workflow order-flow --jq .run_id)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runsCreate(cmd.OutOrStdout(), workflow, deployment, input, execCtx)
		},
	}

	cmd.Flags().StringVar(&workflow, "workflow", "", "Workflow name (required)")
	cmd.Flags().StringVar(&deployment, "deployment", "", "Deployment id")
	cmd.Flags().StringVar(&input, "input", "", "Run input as a JSON document")
	cmd.Flags().StringVar(&execCtx, "context", "", "Execution context as a JSON document")
	_ = cmd.MarkFlagRequired("workflow")

	return cmd
}

func newRunsCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a run",
		Long:  `Cancel a non-terminal run. Completed, failed, and cancelled runs are left unchanged.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runsTransition(cmd.OutOrStdout(), args[0], "cancelled", func(ctx context.Context, runs *world.RunService, id string) (*storage.Run, error) {
				return runs.Cancel(ctx, id)
			})
		},
	}
}

func newRunsPauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <run-id>",
		Short: "Pause a run",
		Long:  `Pause a pending or running run. Terminal runs are left unchanged.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runsTransition(cmd.OutOrStdout(), args[0], "paused", func(ctx context.Context, runs *world.RunService, id string) (*storage.Run, error) {
				return runs.Pause(ctx, id)
			})
		},
	}
}

func newRunsResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Resume a paused run",
		Long:  `Resume a paused run back to running state.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runsTransition(cmd.OutOrStdout(), args[0], "resumed", func(ctx context.Context, runs *world.RunService, id string) (*storage.Run, error) {
				return runs.Resume(ctx, id)
			})
		},
	}
}

func runsList(w io.Writer, status, workflow, cursor string, limit int) error {
	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultTimeout)
	defer cancel()

	return shared.WithWorld(ctx, func(ctx context.Context, wld *world.World) error {
		page, err := wld.Runs().List(ctx, storage.ListRunsParams{
			WorkflowName: workflow,
			Status:       storage.RunStatus(status),
			Limit:        limit,
			Cursor:       cursor,
		})
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		if handled, err := shared.EmitResult(w, page); handled {
			return err
		}

		renderRunsTable(w, page)
		return nil
	})
}

func runsGet(w io.Writer, id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultTimeout)
	defer cancel()

	return shared.WithWorld(ctx, func(ctx context.Context, wld *world.World) error {
		run, err := wld.Runs().Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get run: %w", err)
		}

		if handled, err := shared.EmitResult(w, run); handled {
			return err
		}

		renderRunDetail(w, run)
		return nil
	})
}

func runsCreate(w io.Writer, workflow, deployment, input, execCtx string) error {
	params := storage.CreateRunParams{
		DeploymentID: deployment,
		WorkflowName: workflow,
	}

	var err error
	if params.Input, err = parseJSONFlag("input", input); err != nil {
		return err
	}
	if params.ExecutionContext, err = parseJSONFlag("context", execCtx); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultTimeout)
	defer cancel()

	return shared.WithWorld(ctx, func(ctx context.Context, wld *world.World) error {
		run, err := wld.Runs().Create(ctx, params)
		if err != nil {
			return fmt.Errorf("failed to create run: %w", err)
		}

		if handled, err := shared.EmitResult(w, run); handled {
			return err
		}

		fmt.Fprintln(w, shared.RenderOK(fmt.Sprintf("Run %s created", run.RunID)))
		return nil
	})
}

// runsTransition applies one state change and reports the resulting run.
func runsTransition(w io.Writer, id, verb string, apply func(context.Context, *world.RunService, string) (*storage.Run, error)) error {
	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultTimeout)
	defer cancel()

	return shared.WithWorld(ctx, func(ctx context.Context, wld *world.World) error {
		run, err := apply(ctx, wld.Runs(), id)
		if err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}

		if handled, err := shared.EmitResult(w, run); handled {
			return err
		}

		fmt.Fprintln(w, shared.RenderOK(fmt.Sprintf("Run %s %s", run.RunID, verb)))
		return nil
	})
}

// parseJSONFlag validates an inline JSON flag value. Empty stays nil so
// the column is left NULL rather than storing "".
func parseJSONFlag(name, value string) (json.RawMessage, error) {
	if value == "" {
		return nil, nil
	}
	if !json.Valid([]byte(value)) {
		return nil, &wferrors.ValidationError{
			Field:      name,
			Message:    "value is not valid JSON",
			Suggestion: fmt.Sprintf(`pass a JSON document, e.g. --%s '{"key": "value"}'`, name),
		}
	}
	return json.RawMessage(value), nil
}

func renderRunsTable(w io.Writer, page *storage.RunPage) {
	if len(page.Runs) == 0 {
		fmt.Fprintln(w, "No runs found")
		return
	}

	fmt.Fprintln(w, "RUN ID                          STATUS      WORKFLOW             CREATED")
	fmt.Fprintln(w, "------------------------------- ----------- -------------------- -------------------")
	for _, run := range page.Runs {
		status := shared.StateStyle(string(run.Status)).Render(fmt.Sprintf("%-11s", run.Status))
		fmt.Fprintf(w, "%-31s %s %-20s %s\n",
			run.RunID, status, truncate(run.WorkflowName, 20), formatTime(run.CreatedAt))
	}

	if page.HasMore {
		fmt.Fprintf(w, "\nMore runs available. Continue with --cursor %s\n", page.Cursor)
	}
}

func renderRunDetail(w io.Writer, run *storage.Run) {
	fmt.Fprintf(w, "Run ID:      %s\n", run.RunID)
	fmt.Fprintf(w, "Workflow:    %s\n", run.WorkflowName)
	if run.DeploymentID != "" {
		fmt.Fprintf(w, "Deployment:  %s\n", run.DeploymentID)
	}
	fmt.Fprintf(w, "Status:      %s\n", shared.RenderState(string(run.Status)))
	if len(run.Input) > 0 {
		fmt.Fprintf(w, "Input:       %s\n", compactJSON(run.Input))
	}
	if len(run.Output) > 0 {
		fmt.Fprintf(w, "Output:      %s\n", compactJSON(run.Output))
	}
	if run.Error != "" {
		fmt.Fprintf(w, "Error:       %s\n", run.Error)
	}
	if run.ErrorCode != "" {
		fmt.Fprintf(w, "Error Code:  %s\n", run.ErrorCode)
	}
	fmt.Fprintf(w, "Created:     %s\n", formatTime(run.CreatedAt))
	if run.StartedAt != nil {
		fmt.Fprintf(w, "Started:     %s\n", formatTime(*run.StartedAt))
	}
	if run.CompletedAt != nil {
		fmt.Fprintf(w, "Completed:   %s\n", formatTime(*run.CompletedAt))
	}
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

// compactJSON renders a stored document on one line for detail views.
func compactJSON(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(buf)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

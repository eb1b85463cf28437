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

package management

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ejc3/workflow/internal/commands/shared"
	"github.com/ejc3/workflow/internal/world"
)

// NewStepsCommand creates the steps command group.
func NewStepsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "steps",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "Inspect workflow steps",
		Long: `Commands for inspecting step attempts.

Steps record individual attempts of named steps inside a run, including
their input, output, and retry count.`,
	}

	cmd.AddCommand(newStepsGetCommand())

	return cmd
}

func newStepsGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <step-id>",
		Short: "Show step details",
		Long:  `Display the stored state of a single step attempt.`,
		Example: `  # Example 1: Show step details
  workflowctl steps get wstp_01JFXJ5A4NVXK8Q2T0B7RW9GYD

  # Example 2: Extract the output document
  workflowctl steps get wstp_01JFXJ5A4NVXK8Q2T0B7RW9GYD --jq .output`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return stepsGet(cmd.OutOrStdout(), args[0])
		},
	}
}

func stepsGet(w io.Writer, id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultTimeout)
	defer cancel()

	return shared.WithWorld(ctx, func(ctx context.Context, wld *world.World) error {
		step, err := wld.Steps().Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get step: %w", err)
		}

		if handled, err := shared.EmitResult(w, step); handled {
			return err
		}

		fmt.Fprintf(w, "Step ID:     %s\n", step.StepID)
		fmt.Fprintf(w, "Run ID:      %s\n", step.RunID)
		fmt.Fprintf(w, "Name:        %s\n", step.StepName)
		fmt.Fprintf(w, "Status:      %s\n", shared.RenderState(string(step.Status)))
		fmt.Fprintf(w, "Attempt:     %d\n", step.Attempt)
		if len(step.Input) > 0 {
			fmt.Fprintf(w, "Input:       %s\n", compactJSON(step.Input))
		}
		if len(step.Output) > 0 {
			fmt.Fprintf(w, "Output:      %s\n", compactJSON(step.Output))
		}
		if step.Error != "" {
			fmt.Fprintf(w, "Error:       %s\n", step.Error)
		}
		if step.ErrorCode != "" {
			fmt.Fprintf(w, "Error Code:  %s\n", step.ErrorCode)
		}
		fmt.Fprintf(w, "Created:     %s\n", formatTime(step.CreatedAt))
		if step.StartedAt != nil {
			fmt.Fprintf(w, "Started:     %s\n", formatTime(*step.StartedAt))
		}
		if step.CompletedAt != nil {
			fmt.Fprintf(w, "Completed:   %s\n", formatTime(*step.CompletedAt))
		}
		return nil
	})
}

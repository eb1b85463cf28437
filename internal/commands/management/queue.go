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
	"github.com/ejc3/workflow/internal/queue"
	"github.com/ejc3/workflow/internal/storage"
	"github.com/ejc3/workflow/internal/world"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "queue",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "Inspect and feed the job queue",
		Long: `Commands for the polling job queue.

Enqueues insert pending jobs; they never execute work in this process.
A running workflowd (or any embedder with a handler) picks them up.`,
	}

	cmd.AddCommand(newQueueEnqueueCommand())
	cmd.AddCommand(newQueueStatsCommand())

	return cmd
}

func newQueueEnqueueCommand() *cobra.Command {
	var data string
	var idempotencyKey string

	cmd := &cobra.Command{
		Use:   "enqueue <queue-name>",
		Short: "Enqueue a job",
		Long: fmt.Sprintf(`Enqueue a message on a workflow or step queue and print its message id.

Queue names carry the caller-facing prefix: %s<id> for workflow
queues, %s<id> for step queues. With --idempotency-key, repeating
the enqueue returns the original message id and inserts nothing.`,
			queue.WorkflowQueuePrefix, queue.StepQueuePrefix),
		Example: fmt.Sprintf(`  # Example 1: Hand a run to the workflow workers
  workflowctl queue enqueue %swrun_01JFXJ5A4NVXK8Q2T0B7RW9GYD

  # Example 2: Enqueue with a payload
  workflowctl queue enqueue %swrun_01JFXJ5A4NVXK8Q2T0B7RW9GYD --data '{"resume": true}'

  # Example 3: Exactly-once submission from a retrying script
  workflowctl queue enqueue %swrun_01JFXJ5A4NVXK8Q2T0B7RW9GYD --idempotency-key deploy-42`,
			queue.WorkflowQueuePrefix, queue.WorkflowQueuePrefix, queue.WorkflowQueuePrefix),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return queueEnqueue(cmd.OutOrStdout(), args[0], data, idempotencyKey)
		},
	}

	cmd.Flags().StringVar(&data, "data", "{}", "Message payload as a JSON document")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Deduplication key for repeat enqueues")

	return cmd
}

func newQueueStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [queue-name]",
		Short: "Show job counts by status",
		Long: `Show job counts grouped by status, across all queues or for one
logical queue. Pass a caller-facing queue name, or "flows" or "steps"
to address a logical queue directly.`,
		Example: `  # Example 1: Counts across all queues
  workflowctl queue stats

  # Example 2: Counts for the step queue
  workflowctl queue stats steps

  # Example 3: Alert on failed jobs
  workflowctl queue stats --jq .failed`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return queueStats(cmd.OutOrStdout(), name)
		},
	}
}

func queueEnqueue(w io.Writer, name, data, idempotencyKey string) error {
	payload, err := parseJSONFlag("data", data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultTimeout)
	defer cancel()

	return shared.WithWorld(ctx, func(ctx context.Context, wld *world.World) error {
		var opts []queue.EnqueueOption
		if idempotencyKey != "" {
			opts = append(opts, queue.WithIdempotencyKey(idempotencyKey))
		}

		messageID, err := wld.Queue().Enqueue(ctx, name, payload, opts...)
		if err != nil {
			return fmt.Errorf("failed to enqueue: %w", err)
		}

		if handled, err := shared.EmitResult(w, map[string]string{"message_id": messageID}); handled {
			return err
		}

		fmt.Fprintln(w, shared.RenderOK(fmt.Sprintf("Enqueued message %s", messageID)))
		return nil
	})
}

func queueStats(w io.Writer, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultTimeout)
	defer cancel()

	return shared.WithWorld(ctx, func(ctx context.Context, wld *world.World) error {
		counts, err := wld.Queue().Stats(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to get queue stats: %w", err)
		}

		if handled, err := shared.EmitResult(w, counts); handled {
			return err
		}

		renderQueueStats(w, counts)
		return nil
	})
}

func renderQueueStats(w io.Writer, counts map[storage.JobStatus]int) {
	// Fixed order; the map only carries statuses with jobs.
	order := []storage.JobStatus{
		storage.JobPending,
		storage.JobProcessing,
		storage.JobCompleted,
		storage.JobFailed,
	}

	fmt.Fprintln(w, "STATUS      COUNT")
	fmt.Fprintln(w, "----------- -----")
	total := 0
	for _, status := range order {
		count := counts[status]
		total += count
		cell := shared.StateStyle(string(status)).Render(fmt.Sprintf("%-11s", status))
		fmt.Fprintf(w, "%s %5d\n", cell, count)
	}
	fmt.Fprintf(w, "%-11s %5d\n", "total", total)
}

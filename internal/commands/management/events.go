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
	"github.com/ejc3/workflow/internal/storage"
	"github.com/ejc3/workflow/internal/world"
	wferrors "github.com/ejc3/workflow/pkg/errors"
)

// NewEventsCommand creates the events command group.
func NewEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "events",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "Inspect run event logs",
		Long: `Commands for reading the append-only event log.

Events record what happened to a run in insertion order. Listings are
addressed by run id, or across runs by correlation id.`,
	}

	cmd.AddCommand(newEventsListCommand())

	return cmd
}

func newEventsListCommand() *cobra.Command {
	var correlation string
	var cursor string
	var limit int
	var descending bool

	cmd := &cobra.Command{
		Use:   "list [run-id]",
		Short: "List events for a run or a correlation id",
		Long: `List events in event-id order, which is insertion order. Address the
log by run id, or pass --correlation to follow one logical operation
across runs.`,
		Example: `  # Example 1: List a run's events
  workflowctl events list wrun_01JFXJ5A4NVXK8Q2T0B7RW9GYD

  # Example 2: Newest first
  workflowctl events list wrun_01JFXJ5A4NVXK8Q2T0B7RW9GYD --desc

  # Example 3: Follow a correlation id across runs
  workflowctl events list --correlation wcorr-7f3a

  # Example 4: Event types only
  workflowctl events list wrun_01JFXJ5A4NVXK8Q2T0B7RW9GYD --jq '.events[].event_type'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := ""
			if len(args) > 0 {
				runID = args[0]
			}
			if (runID == "") == (correlation == "") {
				return &wferrors.ValidationError{
					Field:      "run-id",
					Message:    "provide a run id or --correlation, not both",
					Suggestion: "workflowctl events list <run-id>, or workflowctl events list --correlation <id>",
				}
			}
			return eventsList(cmd.OutOrStdout(), runID, correlation, cursor, limit, descending)
		},
	}

	cmd.Flags().StringVar(&correlation, "correlation", "", "List by correlation id instead of run id")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Resume a listing from this cursor")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (default 100)")
	cmd.Flags().BoolVar(&descending, "desc", false, "Newest events first")

	return cmd
}

func eventsList(w io.Writer, runID, correlation, cursor string, limit int, descending bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultTimeout)
	defer cancel()

	return shared.WithWorld(ctx, func(ctx context.Context, wld *world.World) error {
		params := storage.ListEventsParams{
			Limit:      limit,
			Cursor:     cursor,
			Descending: descending,
		}

		var page *storage.EventPage
		var err error
		if correlation != "" {
			page, err = wld.Events().ListByCorrelation(ctx, correlation, params)
		} else {
			page, err = wld.Events().List(ctx, runID, params)
		}
		if err != nil {
			return fmt.Errorf("failed to list events: %w", err)
		}

		if handled, err := shared.EmitResult(w, page); handled {
			return err
		}

		renderEventsTable(w, page)
		return nil
	})
}

func renderEventsTable(w io.Writer, page *storage.EventPage) {
	if len(page.Events) == 0 {
		fmt.Fprintln(w, "No events found")
		return
	}

	fmt.Fprintln(w, "EVENT ID                        TYPE                 CORRELATION          CREATED")
	fmt.Fprintln(w, "------------------------------- -------------------- -------------------- -------------------")
	for _, event := range page.Events {
		correlation := event.CorrelationID
		if correlation == "" {
			correlation = "-"
		}
		fmt.Fprintf(w, "%-31s %-20s %-20s %s\n",
			event.EventID, truncate(event.EventType, 20), truncate(correlation, 20), formatTime(event.CreatedAt))
	}

	if page.HasMore {
		fmt.Fprintf(w, "\nMore events available. Continue with --cursor %s\n", page.Cursor)
	}
}

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
)

// NewHooksCommand creates the hooks command group.
func NewHooksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "hooks",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "Manage external callbacks",
		Long: `Commands for registering and disposing hooks.

A hook ties an opaque token to a run so an external system can address
the run without knowing its id. Tokens are unique while the hook lives;
disposing frees the token for reuse.`,
	}

	cmd.AddCommand(newHooksCreateCommand())
	cmd.AddCommand(newHooksGetCommand())
	cmd.AddCommand(newHooksDisposeCommand())

	return cmd
}

func newHooksCreateCommand() *cobra.Command {
	var runID string
	var token string
	var metadata string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a hook for a run",
		Long: `Register a hook addressed by its token. The tenant identity from the
configuration is stamped onto the hook.`,
		Example: `  # Example 1: Register a callback token
  workflowctl hooks create --run wrun_01JFXJ5A4NVXK8Q2T0B7RW9GYD --token gh-pr-1234

  # Example 2: Attach routing metadata
  workflowctl hooks create --run wrun_01JFXJ5A4NVXK8Q2T0B7RW9GYD --token gh-pr-1234 \
    --metadata '{"source": "github"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return hooksCreate(cmd.OutOrStdout(), runID, token, metadata)
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Run the hook addresses (required)")
	cmd.Flags().StringVar(&token, "token", "", "Opaque callback token (required)")
	cmd.Flags().StringVar(&metadata, "metadata", "", "Hook metadata as a JSON document")
	_ = cmd.MarkFlagRequired("run")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func newHooksGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <token>",
		Short: "Resolve a hook by its token",
		Long:  `Look up the hook registered under a token, the way a callback endpoint would.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return hooksGet(cmd.OutOrStdout(), args[0])
		},
	}
}

func newHooksDisposeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dispose <hook-id>",
		Short: "Dispose a hook",
		Long:  `Delete a hook and free its token for reuse.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return hooksDispose(cmd.OutOrStdout(), args[0])
		},
	}
}

func hooksCreate(w io.Writer, runID, token, metadata string) error {
	params := storage.CreateHookParams{
		RunID: runID,
		Token: token,
	}

	var err error
	if params.Metadata, err = parseJSONFlag("metadata", metadata); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultTimeout)
	defer cancel()

	return shared.WithWorld(ctx, func(ctx context.Context, wld *world.World) error {
		hook, err := wld.Hooks().Create(ctx, params)
		if err != nil {
			return fmt.Errorf("failed to create hook: %w", err)
		}

		if handled, err := shared.EmitResult(w, hook); handled {
			return err
		}

		fmt.Fprintln(w, shared.RenderOK(fmt.Sprintf("Hook %s created for token %s", hook.HookID, hook.Token)))
		return nil
	})
}

func hooksGet(w io.Writer, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultTimeout)
	defer cancel()

	return shared.WithWorld(ctx, func(ctx context.Context, wld *world.World) error {
		hook, err := wld.Hooks().GetByToken(ctx, token)
		if err != nil {
			return fmt.Errorf("failed to get hook: %w", err)
		}

		if handled, err := shared.EmitResult(w, hook); handled {
			return err
		}

		renderHookDetail(w, hook)
		return nil
	})
}

func hooksDispose(w io.Writer, id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultTimeout)
	defer cancel()

	return shared.WithWorld(ctx, func(ctx context.Context, wld *world.World) error {
		hook, err := wld.Hooks().Dispose(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to dispose hook: %w", err)
		}

		if handled, err := shared.EmitResult(w, hook); handled {
			return err
		}

		fmt.Fprintln(w, shared.RenderOK(fmt.Sprintf("Hook %s disposed, token %s released", hook.HookID, hook.Token)))
		return nil
	})
}

func renderHookDetail(w io.Writer, hook *storage.Hook) {
	fmt.Fprintf(w, "Hook ID:     %s\n", hook.HookID)
	fmt.Fprintf(w, "Run ID:      %s\n", hook.RunID)
	fmt.Fprintf(w, "Token:       %s\n", hook.Token)
	if hook.Environment != "" {
		fmt.Fprintf(w, "Environment: %s\n", hook.Environment)
	}
	if hook.OwnerID != "" {
		fmt.Fprintf(w, "Owner:       %s\n", hook.OwnerID)
	}
	if hook.ProjectID != "" {
		fmt.Fprintf(w, "Project:     %s\n", hook.ProjectID)
	}
	if len(hook.Metadata) > 0 {
		fmt.Fprintf(w, "Metadata:    %s\n", compactJSON(hook.Metadata))
	}
	fmt.Fprintf(w, "Created:     %s\n", formatTime(hook.CreatedAt))
}

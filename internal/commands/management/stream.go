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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ejc3/workflow/internal/commands/shared"
	"github.com/ejc3/workflow/internal/stream"
	"github.com/ejc3/workflow/internal/world"
)

// NewStreamCommand creates the stream command group.
func NewStreamCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "stream",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "Write and tail byte streams",
		Long: `Commands for append-only chunked byte streams.

Writes append chunks, close appends the EOF marker that ends every
reader, and read tails a stream live until that marker arrives.`,
	}

	cmd.AddCommand(newStreamWriteCommand())
	cmd.AddCommand(newStreamCloseCommand())
	cmd.AddCommand(newStreamReadCommand())

	return cmd
}

func newStreamWriteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write <stream-id> [data]",
		Short: "Append a chunk to a stream",
		Long: `Append one data chunk. The data comes from the argument, or from
stdin when the argument is omitted.`,
		Example: `  # Example 1: Append inline data
  workflowctl stream write build-1794 "compiling pkg/storage"

  # Example 2: Pipe a command's output in
  make build 2>&1 | workflowctl stream write build-1794`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if len(args) > 1 {
				data = []byte(args[1])
			} else {
				var err error
				data, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
			}
			return streamWrite(cmd.OutOrStdout(), args[0], data)
		},
	}

	return cmd
}

func newStreamCloseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "close <stream-id>",
		Short: "Close a stream",
		Long:  `Append the EOF marker. Every reader of the stream terminates once it reaches the marker.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return streamClose(cmd.OutOrStdout(), args[0])
		},
	}
}

func newStreamReadCommand() *cobra.Command {
	var startIndex int

	cmd := &cobra.Command{
		Use:   "read <stream-id>",
		Short: "Tail a stream",
		Long: `Tail a stream from the beginning, printing chunk data as it arrives,
until the stream is closed or the command is interrupted. Chunks written
while the tail is running are delivered live.

With --output json or --jq, each chunk is emitted as a JSON document
(data base64-encoded) instead of raw bytes.`,
		Example: `  # Example 1: Follow build output
  workflowctl stream read build-1794

  # Example 2: Resume after the first 40 chunks
  workflowctl stream read build-1794 --start-index 40`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return streamRead(cmd.OutOrStdout(), args[0], startIndex)
		},
	}

	cmd.Flags().IntVar(&startIndex, "start-index", 0, "Skip the first n data chunks")

	return cmd
}

func streamWrite(w io.Writer, streamID string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultTimeout)
	defer cancel()

	return shared.WithWorld(ctx, func(ctx context.Context, wld *world.World) error {
		chunk, err := wld.Streamer().Write(ctx, streamID, data)
		if err != nil {
			return fmt.Errorf("failed to write chunk: %w", err)
		}

		if handled, err := shared.EmitResult(w, chunk); handled {
			return err
		}

		fmt.Fprintln(w, shared.RenderOK(fmt.Sprintf("Wrote chunk %s (%d bytes)", chunk.ChunkID, len(data))))
		return nil
	})
}

func streamClose(w io.Writer, streamID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), shared.DefaultTimeout)
	defer cancel()

	return shared.WithWorld(ctx, func(ctx context.Context, wld *world.World) error {
		chunk, err := wld.Streamer().Close(ctx, streamID)
		if err != nil {
			return fmt.Errorf("failed to close stream: %w", err)
		}

		if handled, err := shared.EmitResult(w, chunk); handled {
			return err
		}

		fmt.Fprintln(w, shared.RenderOK(fmt.Sprintf("Stream %s closed", streamID)))
		return nil
	})
}

// streamRead tails until the EOF marker. Interrupting the tail is a
// normal way out, so SIGINT and SIGTERM end it without an error.
func streamRead(w io.Writer, streamID string, startIndex int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return shared.WithWorld(ctx, func(ctx context.Context, wld *world.World) error {
		var opts []stream.ReadOption
		if startIndex > 0 {
			opts = append(opts, stream.WithStartIndex(startIndex))
		}

		chunks, err := wld.Streamer().Read(ctx, streamID, opts...)
		if err != nil {
			return fmt.Errorf("failed to read stream: %w", err)
		}

		for chunk := range chunks {
			if handled, err := shared.EmitResult(w, chunk); handled {
				if err != nil {
					return err
				}
				continue
			}
			if _, err := w.Write(chunk.Data); err != nil {
				return err
			}
		}
		return nil
	})
}

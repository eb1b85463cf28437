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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ejc3/workflow/internal/commands/shared"
)

// CommandMetadata describes one command for machine consumption
type CommandMetadata struct {
	Name        string         `json:"name"`
	Short       string         `json:"short"`
	Usage       string         `json:"usage"`
	Flags       []FlagMetadata `json:"flags,omitempty"`
	Subcommands []string       `json:"subcommands,omitempty"`
	Aliases     []string       `json:"aliases,omitempty"`
	Group       string         `json:"group,omitempty"`
}

// FlagMetadata describes one flag
type FlagMetadata struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
}

// NewHelpCommand creates the help command. With --output json the command
// tree comes back as structured metadata, which is what scripted callers
// discover the CLI surface from.
func NewHelpCommand(rootCmd *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "help [command]",
		Short: "Help about any command",
		Long: `Help provides detailed information about commands and their usage.

Run 'workflowctl help' to see all available commands.
Run 'workflowctl help <command>' for a specific command.
Use --output json for machine-readable command metadata.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				if shared.GetOutput() == shared.OutputJSON {
					return emitAllCommands(cmd, rootCmd)
				}
				return rootCmd.Help()
			}

			target, _, err := rootCmd.Find(args)
			if err != nil {
				return fmt.Errorf("command %q not found", args[0])
			}

			if shared.GetOutput() == shared.OutputJSON {
				return emitCommands(cmd, []CommandMetadata{commandMetadata(target)}, rootCmd)
			}
			return target.Help()
		},
	}
}

// emitAllCommands emits metadata for every visible command.
func emitAllCommands(cmd *cobra.Command, rootCmd *cobra.Command) error {
	commands := make([]CommandMetadata, 0, len(rootCmd.Commands()))
	for _, c := range rootCmd.Commands() {
		if c.Hidden {
			continue
		}
		commands = append(commands, commandMetadata(c))
	}
	return emitCommands(cmd, commands, rootCmd)
}

func emitCommands(cmd *cobra.Command, commands []CommandMetadata, rootCmd *cobra.Command) error {
	resp := struct {
		Commands    []CommandMetadata `json:"commands"`
		GlobalFlags []FlagMetadata    `json:"global_flags,omitempty"`
	}{
		Commands:    commands,
		GlobalFlags: flagMetadata(rootCmd.PersistentFlags()),
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// commandMetadata extracts metadata from a cobra command.
func commandMetadata(cmd *cobra.Command) CommandMetadata {
	metadata := CommandMetadata{
		Name:    cmd.Name(),
		Short:   cmd.Short,
		Usage:   cmd.UseLine(),
		Aliases: cmd.Aliases,
		Flags:   flagMetadata(cmd.Flags()),
	}

	if cmd.Annotations != nil {
		metadata.Group = cmd.Annotations["group"]
	}

	for _, sub := range cmd.Commands() {
		if !sub.Hidden {
			metadata.Subcommands = append(metadata.Subcommands, sub.Name())
		}
	}

	return metadata
}

// flagMetadata extracts metadata for every visible flag in the set.
func flagMetadata(flags *pflag.FlagSet) []FlagMetadata {
	var out []FlagMetadata
	flags.VisitAll(func(flag *pflag.Flag) {
		if flag.Hidden {
			return
		}
		out = append(out, FlagMetadata{
			Name:      flag.Name,
			Shorthand: flag.Shorthand,
			Usage:     flag.Usage,
			Default:   flag.DefValue,
		})
	})
	return out
}

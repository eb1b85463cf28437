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

package main

import (
	"github.com/ejc3/workflow/internal/cli"
	configcmd "github.com/ejc3/workflow/internal/commands/config"
	"github.com/ejc3/workflow/internal/commands/diagnostics"
	"github.com/ejc3/workflow/internal/commands/management"
	versioncmd "github.com/ejc3/workflow/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	// Set version information from build-time ldflags
	cli.SetVersion(version, commit, buildDate)

	// Create root command and add subcommands
	rootCmd := cli.NewRootCommand()

	// Storage commands
	rootCmd.AddCommand(management.NewRunsCommand())
	rootCmd.AddCommand(management.NewStepsCommand())
	rootCmd.AddCommand(management.NewEventsCommand())
	rootCmd.AddCommand(management.NewHooksCommand())

	// Queue and stream commands
	rootCmd.AddCommand(management.NewQueueCommand())
	rootCmd.AddCommand(management.NewStreamCommand())

	// Diagnostics
	rootCmd.AddCommand(diagnostics.NewDBCommand())

	// Configuration
	rootCmd.AddCommand(configcmd.NewConfigCommand())

	// Version command
	rootCmd.AddCommand(versioncmd.NewVersionCommand())

	// Custom help command with JSON support
	rootCmd.SetHelpCommand(cli.NewHelpCommand(rootCmd))

	// Execute root command
	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}

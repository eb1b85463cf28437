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
	"flag"
	"fmt"
	"os"

	"github.com/ejc3/workflow/internal/daemon"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config file")
		listenAddr  = flag.String("listen-addr", "", "Address for health and metrics endpoints")
		executorURL = flag.String("executor-url", "", "HTTP endpoint jobs are dispatched to")
		databaseURL = flag.String("db-url", "", "Database connection string")
		pidFile     = flag.String("pid-file", "", "Write the daemon process ID to this file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("workflowd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Run logs failures itself; the exit code is all that is left to do.
	if err := daemon.Run(daemon.RunOptions{
		Version:     version,
		Commit:      commit,
		BuildDate:   buildDate,
		ConfigPath:  *configPath,
		ListenAddr:  *listenAddr,
		ExecutorURL: *executorURL,
		DatabaseURL: *databaseURL,
		PIDFile:     *pidFile,
	}); err != nil {
		os.Exit(1)
	}
}

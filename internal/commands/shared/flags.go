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

package shared

// Output formats accepted by --output.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// Global flag values - set by root command
var (
	verboseFlag bool
	outputFlag  string
	jqFlag      string
	configFlag  string
	dbURLFlag   string

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers to flag variables for binding.
// Called by root command to register flags.
func RegisterFlagPointers() (verbose *bool, output, jq, config, dbURL *string) {
	return &verboseFlag, &outputFlag, &jqFlag, &configFlag, &dbURLFlag
}

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verboseFlag
}

// GetOutput returns the output format flag value
func GetOutput() string {
	if outputFlag == "" {
		return OutputTable
	}
	return outputFlag
}

// GetJQ returns the jq expression flag value
func GetJQ() string {
	return jqFlag
}

// GetConfigPath returns the config file path
func GetConfigPath() string {
	return configFlag
}

// GetDBURL returns the database URL override
func GetDBURL() string {
	return dbURLFlag
}

// GetVersion returns version information
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// ResetFlagsForTest restores flag defaults. Commands bind the package
// globals, so tests executing several command trees reset between runs.
func ResetFlagsForTest() {
	verboseFlag = false
	outputFlag = ""
	jqFlag = ""
	configFlag = ""
	dbURLFlag = ""
}

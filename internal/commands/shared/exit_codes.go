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

import (
	"errors"
	"fmt"
	"os"

	wferrors "github.com/ejc3/workflow/pkg/errors"
)

// Exit codes for workflowctl commands
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitUsage       = 2
	ExitNotFound    = 3
	ExitUnavailable = 4
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewUsageError creates an error for invalid arguments or flags
func NewUsageError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitUsage,
		Message: msg,
		Cause:   cause,
	}
}

// NewUnavailableError creates an error for an unreachable or degraded
// database
func NewUnavailableError(msg string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitUnavailable,
		Message: msg,
		Cause:   cause,
	}
}

// ExitCodeFor maps an error to the process exit code. Storage errors map
// by kind: missing resources exit 3, rejected input exits 2.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var notFound *wferrors.NotFoundError
	if errors.As(err, &notFound) {
		return ExitNotFound
	}

	var validation *wferrors.ValidationError
	if errors.As(err, &validation) {
		return ExitUsage
	}

	var configErr *wferrors.ConfigError
	if errors.As(err, &configErr) {
		return ExitUsage
	}

	return ExitFailure
}

// HandleExitError prints err to stderr and exits with its mapped code
func HandleExitError(err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "Error:", err.Error())
	printSuggestion(err)

	os.Exit(ExitCodeFor(err))
}

// printSuggestion surfaces the suggestion carried by validation errors.
func printSuggestion(err error) {
	var validation *wferrors.ValidationError
	if errors.As(err, &validation) && validation.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", validation.Suggestion)
	}
}

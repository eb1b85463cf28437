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
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ejc3/workflow/internal/jq"
)

// EmitResult prints v as JSON when --output json or a --jq expression is
// in effect. It reports whether it handled the output; on false the
// caller renders its human-readable view.
func EmitResult(w io.Writer, v any) (bool, error) {
	if expr := GetJQ(); expr != "" {
		return true, emitFiltered(w, expr, v)
	}
	if GetOutput() == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	}
	return false, nil
}

// emitFiltered runs v through the jq expression and prints one compact
// JSON document per produced value, the way the jq binary does.
func emitFiltered(w io.Writer, expr string, v any) error {
	input, err := jq.Normalize(v)
	if err != nil {
		return fmt.Errorf("failed to prepare jq input: %w", err)
	}

	results, err := jq.New(0).Eval(context.Background(), expr, input)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

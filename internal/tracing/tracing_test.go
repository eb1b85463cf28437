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

package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ejc3/workflow/internal/config"
)

func TestNewRejectsUnknownProtocol(t *testing.T) {
	_, err := New(context.Background(), config.TracingConfig{
		Protocol:    "carrier-pigeon",
		ServiceName: "workflowd",
	}, "test")
	require.Error(t, err)
}

// The prometheus bridge registers collectors on the default registry, so
// one provider is created per process and per test binary.
func TestNewStdoutProvider(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, config.TracingConfig{
		Protocol:    "stdout",
		SampleRate:  1.0,
		ServiceName: "workflowd",
	}, "test")
	require.NoError(t, err)

	_, span := Tracer().Start(ctx, "test-operation")
	span.End()

	require.NoError(t, p.ForceFlush(ctx))
	require.NoError(t, p.Shutdown(ctx))
}

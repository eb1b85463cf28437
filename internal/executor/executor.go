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

// Package executor dispatches leased queue jobs to an external executor
// service over HTTP. The daemon wires HTTP.Handle as the queue handler;
// the service at the configured URL runs the actual workflow and step
// logic and answers 2xx on success. Any other outcome surfaces as a
// handler error, which the queue turns into a retry or a dead job
// depending on the remaining attempts.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	wferrors "github.com/ejc3/workflow/pkg/errors"
	"github.com/ejc3/workflow/pkg/httpclient"

	"github.com/ejc3/workflow/internal/queue"
)

// maxErrorBody caps how much of an error response is read. The text is
// persisted on the job row, so it stays short.
const maxErrorBody = 8 * 1024

// dispatchRequest is the JSON payload POSTed to the executor endpoint.
// Field names are part of the wire format.
type dispatchRequest struct {
	QueueName string            `json:"queueName"`
	Message   queue.MessageData `json:"message"`
}

// HTTP posts queue jobs to a fixed endpoint using the shared retrying
// client. Dispatches are at-least-once, so retried POSTs are safe and
// the client is built with non-idempotent retry enabled.
type HTTP struct {
	url    string
	client *http.Client
}

// Option configures an HTTP executor.
type Option func(*HTTP)

// WithClient replaces the default retrying client.
func WithClient(client *http.Client) Option {
	return func(h *HTTP) {
		h.client = client
	}
}

// NewHTTP creates an executor that dispatches to url.
func NewHTTP(url string, opts ...Option) (*HTTP, error) {
	if url == "" {
		return nil, &wferrors.ConfigError{
			Key:    "daemon.executor_url",
			Reason: "executor URL is required",
		}
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, &wferrors.ConfigError{
			Key:    "daemon.executor_url",
			Reason: fmt.Sprintf("unsupported URL scheme in %q, only http and https are allowed", url),
		}
	}

	h := &HTTP{url: url}
	for _, opt := range opts {
		opt(h)
	}

	if h.client == nil {
		cfg := httpclient.DefaultConfig()
		cfg.AllowNonIdempotentRetry = true
		client, err := httpclient.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
		h.client = client
	}

	return h, nil
}

// Handle implements queue.Handler. It posts the job and treats any
// non-2xx status as a dispatch failure.
func (h *HTTP) Handle(ctx context.Context, name string, msg queue.MessageData) error {
	data, err := json.Marshal(dispatchRequest{QueueName: name, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("executor returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	return nil
}

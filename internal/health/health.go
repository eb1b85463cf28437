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

// Package health aggregates component probes into one status payload.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/ejc3/workflow/internal/auth"
	"github.com/ejc3/workflow/internal/config"
	"github.com/ejc3/workflow/internal/storage"
)

// Overall status values.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// Pinger reports database connectivity. The db adapters implement it.
type Pinger interface {
	IsHealthy(ctx context.Context) bool
	Type() config.DatabaseType
}

// Status is the aggregate health payload.
type Status struct {
	Status      string            `json:"status"`
	Timestamp   string            `json:"timestamp"`
	Uptime      string            `json:"uptime,omitempty"`
	Backend     string            `json:"backend"`
	Environment string            `json:"environment,omitempty"`
	OwnerID     string            `json:"owner_id,omitempty"`
	ProjectID   string            `json:"project_id,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// Healthy reports whether every check passed.
func (s Status) Healthy() bool {
	return s.Status == StatusHealthy
}

// Checker probes the database adapter and the run store.
type Checker struct {
	adapter  Pinger
	runs     storage.RunStore
	identity auth.Identity
	start    time.Time
}

// New creates a checker. The identity is echoed in every payload so a
// health probe also confirms which tenant a process serves.
func New(adapter Pinger, runs storage.RunStore, identity auth.Identity) *Checker {
	return &Checker{
		adapter:  adapter,
		runs:     runs,
		identity: identity,
		start:    time.Now(),
	}
}

// Check runs both probes: adapter connectivity, and a one-row run listing
// that exercises the schema end to end.
func (c *Checker) Check(ctx context.Context) Status {
	checks := make(map[string]string)
	status := StatusHealthy

	if c.adapter.IsHealthy(ctx) {
		checks["database"] = "ok"
	} else {
		checks["database"] = "unreachable"
		status = StatusDegraded
	}

	if _, err := c.runs.ListRuns(ctx, storage.ListRunsParams{Limit: 1}); err != nil {
		checks["storage"] = fmt.Sprintf("list runs failed: %v", err)
		status = StatusDegraded
	} else {
		checks["storage"] = "ok"
	}

	return Status{
		Status:      status,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Uptime:      time.Since(c.start).Round(time.Second).String(),
		Backend:     string(c.adapter.Type()),
		Environment: c.identity.Environment,
		OwnerID:     c.identity.OwnerID,
		ProjectID:   c.identity.ProjectID,
		Checks:      checks,
	}
}

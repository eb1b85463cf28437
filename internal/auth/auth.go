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

// Package auth supplies the tenant identity stamped onto hook
// registrations and reported by the health surface.
package auth

import "context"

// Identity names the tenant on whose behalf the process runs. All fields
// are optional; a zero Identity is an anonymous single-tenant deployment.
type Identity struct {
	Environment string `json:"environment,omitempty"`
	OwnerID     string `json:"owner_id,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
}

// Provider resolves the identity for a call. Implementations must be safe
// for concurrent use.
type Provider interface {
	Identity(ctx context.Context) (Identity, error)
}

// StaticProvider returns one fixed identity, typically loaded from
// configuration at startup.
type StaticProvider struct {
	identity Identity
}

var _ Provider = (*StaticProvider)(nil)

// NewStaticProvider creates a provider that always returns identity.
func NewStaticProvider(identity Identity) *StaticProvider {
	return &StaticProvider{identity: identity}
}

// Identity returns the configured identity.
func (p *StaticProvider) Identity(_ context.Context) (Identity, error) {
	return p.identity, nil
}

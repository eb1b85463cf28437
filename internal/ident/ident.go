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

// Package ident mints the prefixed, lexicographically sortable identifiers
// used across the storage, queue, and streaming layers. IDs are ULIDs from
// a per-process monotonic generator: two IDs minted in the same millisecond
// are still strictly increasing, which pagination cursors and stream
// ordering rely on.
package ident

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Identifier prefixes, one per entity.
const (
	RunPrefix     = "wrun_"
	StepPrefix    = "wstp_"
	EventPrefix   = "wevt_"
	HookPrefix    = "whook_"
	ChunkPrefix   = "chnk_"
	MessagePrefix = "msg_"
)

// Generator mints prefixed ULIDs. It is safe for concurrent use; all IDs
// from one Generator share a single monotonic entropy source.
type Generator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewGenerator creates a Generator backed by crypto/rand entropy.
func NewGenerator() *Generator {
	return &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (g *Generator) mint(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), g.entropy)
	if err != nil {
		// Monotonic overflow within one millisecond. Practically
		// unreachable with random increments; a fresh random ULID still
		// carries the time prefix.
		id = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	}
	return prefix + id.String()
}

// RunID mints a run identifier (wrun_<ulid>).
func (g *Generator) RunID() string { return g.mint(RunPrefix) }

// StepID mints a step identifier (wstp_<ulid>).
func (g *Generator) StepID() string { return g.mint(StepPrefix) }

// EventID mints an event identifier (wevt_<ulid>).
func (g *Generator) EventID() string { return g.mint(EventPrefix) }

// HookID mints a hook identifier (whook_<ulid>).
func (g *Generator) HookID() string { return g.mint(HookPrefix) }

// ChunkID mints a stream chunk identifier (chnk_<ulid>).
func (g *Generator) ChunkID() string { return g.mint(ChunkPrefix) }

// MessageID mints a queue message identifier (msg_<ulid>).
func (g *Generator) MessageID() string { return g.mint(MessagePrefix) }

var defaultGenerator = NewGenerator()

// RunID mints a run identifier from the process-wide generator.
func RunID() string { return defaultGenerator.RunID() }

// StepID mints a step identifier from the process-wide generator.
func StepID() string { return defaultGenerator.StepID() }

// EventID mints an event identifier from the process-wide generator.
func EventID() string { return defaultGenerator.EventID() }

// HookID mints a hook identifier from the process-wide generator.
func HookID() string { return defaultGenerator.HookID() }

// ChunkID mints a stream chunk identifier from the process-wide generator.
func ChunkID() string { return defaultGenerator.ChunkID() }

// MessageID mints a queue message identifier from the process-wide generator.
func MessageID() string { return defaultGenerator.MessageID() }

// HasPrefix reports whether id carries the given entity prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix) && len(id) > len(prefix)
}

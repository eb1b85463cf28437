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

package stream

import "sync"

// hub routes append signals to the readers of a stream within one process.
// Signal channels have capacity 1 and are written non-blocking, so any
// number of appends between two reader wakeups coalesces into a single
// pending signal. The channels are never closed; readers leave by
// unsubscribing and signals sent after that land in the abandoned buffer.
type hub struct {
	mu   sync.RWMutex
	subs map[string][]chan struct{}
}

func newHub() *hub {
	return &hub{
		subs: make(map[string][]chan struct{}),
	}
}

// subscribe registers a reader for a stream and returns its signal channel
// together with an unsubscribe function.
func (h *hub) subscribe(streamID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	h.subs[streamID] = append(h.subs[streamID], ch)
	h.mu.Unlock()

	unsub := func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		subs := h.subs[streamID]
		for i, sub := range subs {
			if sub == ch {
				h.subs[streamID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(h.subs[streamID]) == 0 {
			delete(h.subs, streamID)
		}
	}

	return ch, unsub
}

// signal wakes every subscriber of a stream.
func (h *hub) signal(streamID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[streamID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// subscriberCount reports how many readers a stream currently has.
func (h *hub) subscriberCount(streamID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[streamID])
}

// Copyright 2025 Kadir Pekel
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

// Package progress implements the wire IO / progress broadcast channel
// (C12): a best-effort, at-most-one-writer, many-lossy-readers channel
// publishing discrete milestones during a long LLM call.
package progress

import "sync"

// Event is one progress milestone (spec.md §4.3.6).
type Event struct {
	Token           string
	ProgressPercent int
	Total           *int
	Message         string
}

const defaultBufferSize = 32

// Broadcaster fans one writer's events out to many lossy subscribers.
// Publication never blocks: a full subscriber channel drops its oldest
// queued event to make room for the new one.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	bufferSize  int
}

// NewBroadcaster returns an empty Broadcaster with the given per-subscriber
// buffer size (defaultBufferSize if n <= 0).
func NewBroadcaster(n int) *Broadcaster {
	if n <= 0 {
		n = defaultBufferSize
	}
	return &Broadcaster{subscribers: make(map[int]chan Event), bufferSize: n}
}

// Subscribe registers a new lossy receiver. Call the returned function
// to unsubscribe.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufferSize)
	b.subscribers[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			close(existing)
			delete(b.subscribers, id)
		}
	}
}

// Publish fans out an event to every subscriber. If a subscriber's
// buffer is full, its oldest queued event is dropped to make room —
// publication itself never blocks the caller.
func (b *Broadcaster) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}
}

// Canonical milestone constructors, matching spec.md §4.3.6.
func Prepared() Event            { return Event{ProgressPercent: 5, Message: "prepared"} }
func CallStarted() Event         { return Event{ProgressPercent: 15, Message: "call started"} }
func StreamingStarted() Event    { return Event{ProgressPercent: 20, Message: "streaming started"} }
func ProcessingResponse() Event  { return Event{ProgressPercent: 90, Message: "processing response"} }
func Complete() Event            { return Event{ProgressPercent: 100, Message: "complete"} }

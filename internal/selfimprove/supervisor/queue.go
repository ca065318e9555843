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

package supervisor

import (
	"sync"

	"github.com/reasonloop/reasonloop/internal/selfimprove/model"
)

// PendingQueue (C11) is a FIFO-ordered list of proposed actions awaiting
// approval. Single-writer (the Supervisor); safe for concurrent readers.
type PendingQueue struct {
	mu      sync.Mutex
	pending []*model.Action
}

// NewPendingQueue returns an empty queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{}
}

// Push appends actions to the tail of the queue.
func (q *PendingQueue) Push(actions []*model.Action) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, actions...)
}

// DrainAll removes and returns every pending action, in FIFO order.
func (q *PendingQueue) DrainAll() []*model.Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// DrainByID removes and returns pending actions whose ID is in ids,
// preserving remaining entries in the queue in their original order.
func (q *PendingQueue) DrainByID(ids map[string]bool) []*model.Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	var drained, remaining []*model.Action
	for _, a := range q.pending {
		if ids[a.ID] {
			drained = append(drained, a)
		} else {
			remaining = append(remaining, a)
		}
	}
	q.pending = remaining
	return drained
}

// DrainByDiagnosisID removes and returns pending actions whose
// DiagnosisID matches diagnosisID, preserving remaining entries in
// their original order.
func (q *PendingQueue) DrainByDiagnosisID(diagnosisID string) []*model.Action {
	q.mu.Lock()
	defer q.mu.Unlock()

	var drained, remaining []*model.Action
	for _, a := range q.pending {
		if a.DiagnosisID == diagnosisID {
			drained = append(drained, a)
		} else {
			remaining = append(remaining, a)
		}
	}
	q.pending = remaining
	return drained
}

// Clear empties the queue unconditionally.
func (q *PendingQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
}

// PendingActions returns a snapshot copy of the current queue contents.
func (q *PendingQueue) PendingActions() []*model.Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*model.Action, len(q.pending))
	copy(out, q.pending)
	return out
}

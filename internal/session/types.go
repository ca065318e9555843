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

// Package session implements the Session store (C1): durable thoughts,
// edges, and checkpoints. Read-mostly for the core.
package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Session is the root container of an ordered sequence of thoughts.
type Session struct {
	ID        string
	CreatedAt time.Time
}

// Mode tags the reasoning strategy a Thought belongs to. The individual
// algorithms behind each mode are out of scope; the store only needs
// the tag.
type Mode string

const (
	ModeLinear       Mode = "linear"
	ModeTree         Mode = "tree"
	ModeDivergent    Mode = "divergent"
	ModeReflection   Mode = "reflection"
	ModeGraph        Mode = "graph"
	ModeMCTS         Mode = "mcts"
	ModeCounterfactual Mode = "counterfactual"
	ModeTimeline     Mode = "timeline"
	ModeDecision     Mode = "decision"
	ModeCheckpoint   Mode = "checkpoint"
)

// Thought is a single reasoning step belonging to exactly one session.
type Thought struct {
	ID         string
	SessionID  string
	Mode       Mode
	Content    string
	ParentID   string // empty when root
	Confidence float64
	CreatedAt  time.Time
	Metadata   json.RawMessage
	Active     bool // false once superseded by a checkpoint restore
}

// Edge is a directed labeled relation between two thoughts in one
// session, used by graph and causal modes. No inverse edge is implied.
type Edge struct {
	SessionID string
	FromID    string
	ToID      string
	Label     string
}

// Checkpoint is a named snapshot of a session's thought set.
type Checkpoint struct {
	ID          string
	SessionID   string
	ThoughtIDs  []string
	Label       string
	Description string
	CreatedAt   time.Time
}

// NotFoundError is returned when a lookup misses.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// QueryFailedError wraps an underlying storage I/O failure.
type QueryFailedError struct {
	Query   string
	Message string
	Err     error
}

func (e *QueryFailedError) Error() string {
	return fmt.Sprintf("query failed: %s: %s", e.Query, e.Message)
}

func (e *QueryFailedError) Unwrap() error { return e.Err }

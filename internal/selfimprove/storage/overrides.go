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

package storage

import (
	"log/slog"
	"sync"
)

// Overrides is a SQLite-backed implementation of executor.Overrides (the
// dependency is structural, not imported, to avoid a storage->executor
// cycle): Get/Set/Delete against the config_overrides table, with writes
// surviving process restart per spec.md §3's "Config overrides" entity.
//
// Reads and writes go straight to the database rather than caching in
// memory: the CLI's one-command-per-process lifecycle means there is no
// in-process cache to keep coherent, and the read volume (one allowlist
// check, one executor dispatch per cycle) does not warrant one.
type Overrides struct {
	store *Store

	mu       sync.Mutex
	actionID string
}

// NewOverrides wraps store as an executor.Overrides.
func NewOverrides(store *Store) *Overrides {
	return &Overrides{store: store}
}

// SetActionID records the action whose execution is about to write
// through Set, so the write's provenance column is populated. The
// Executor calls this via the ProvenanceSetter interface before
// dispatching each action.
func (o *Overrides) SetActionID(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.actionID = id
}

func (o *Overrides) currentActionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.actionID
}

func (o *Overrides) Get(key string) (string, bool) {
	value, ok, err := o.store.GetConfigOverride(key)
	if err != nil {
		slog.Error("config override read failed", "key", key, "error", err)
		return "", false
	}
	return value, ok
}

func (o *Overrides) Set(key, value string) {
	if err := o.store.SetConfigOverride(key, value, o.currentActionID()); err != nil {
		slog.Error("config override write failed", "key", key, "error", err)
	}
}

func (o *Overrides) Delete(key string) {
	if err := o.store.DeleteConfigOverride(key); err != nil {
		slog.Error("config override delete failed", "key", key, "error", err)
	}
}

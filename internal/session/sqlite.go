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

package session

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"
)

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS thoughts (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	mode TEXT NOT NULL,
	content TEXT NOT NULL,
	parent_id TEXT,
	confidence REAL NOT NULL,
	created_at TEXT NOT NULL,
	metadata TEXT,
	active INTEGER NOT NULL DEFAULT 1,
	FOREIGN KEY (session_id) REFERENCES sessions(id)
);
CREATE INDEX IF NOT EXISTS idx_thoughts_session ON thoughts(session_id);

CREATE TABLE IF NOT EXISTS edges (
	session_id TEXT NOT NULL,
	from_id TEXT NOT NULL,
	to_id TEXT NOT NULL,
	label TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_edges_session ON edges(session_id);

CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	thought_ids TEXT NOT NULL,
	label TEXT,
	description TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id);
`

// SQLiteStore is the Session store's SQLite-backed implementation,
// following the schema-constant-plus-database/sql pattern used
// elsewhere in this module for storage layers.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (creating if absent) the session database at path
// and ensures its schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &QueryFailedError{Query: "open", Message: err.Error(), Err: err}
	}
	if _, err := db.Exec(createSchemaSQL); err != nil {
		db.Close()
		return nil, &QueryFailedError{Query: "init schema", Message: err.Error(), Err: err}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) GetOrCreateSession(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}

	var createdAt string
	err := s.db.QueryRow(`SELECT created_at FROM sessions WHERE id = ?`, id).Scan(&createdAt)
	if err == nil {
		t, _ := time.Parse(time.RFC3339, createdAt)
		return &Session{ID: id, CreatedAt: t}, nil
	}
	if err != sql.ErrNoRows {
		return nil, &QueryFailedError{Query: "select session", Message: err.Error(), Err: err}
	}

	now := time.Now().UTC()
	if _, err := s.db.Exec(`INSERT INTO sessions (id, created_at) VALUES (?, ?)`, id, now.Format(time.RFC3339)); err != nil {
		return nil, &QueryFailedError{Query: "insert session", Message: err.Error(), Err: err}
	}
	return &Session{ID: id, CreatedAt: now}, nil
}

func (s *SQLiteStore) SaveThought(t *Thought) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	if t.ParentID != "" {
		if _, err := s.lookupThought(t.ParentID, t.SessionID); err != nil {
			return err
		}
	}

	metadata := "{}"
	if len(t.Metadata) > 0 {
		metadata = string(t.Metadata)
	}

	active := 1
	if !t.Active {
		active = 0
	}

	_, err := s.db.Exec(`
INSERT INTO thoughts (id, session_id, mode, content, parent_id, confidence, created_at, metadata, active)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET content=excluded.content, confidence=excluded.confidence, metadata=excluded.metadata, active=excluded.active
`, t.ID, t.SessionID, string(t.Mode), t.Content, nullable(t.ParentID), t.Confidence, t.CreatedAt.Format(time.RFC3339), metadata, active)
	if err != nil {
		return &QueryFailedError{Query: "insert thought", Message: err.Error(), Err: err}
	}
	return nil
}

func (s *SQLiteStore) lookupThought(id, sessionID string) (*Thought, error) {
	var th Thought
	var parentID sql.NullString
	var metadata string
	var createdAt string
	var active int
	err := s.db.QueryRow(`SELECT id, session_id, mode, content, parent_id, confidence, created_at, metadata, active
FROM thoughts WHERE id = ? AND session_id = ?`, id, sessionID).Scan(
		&th.ID, &th.SessionID, &th.Mode, &th.Content, &parentID, &th.Confidence, &createdAt, &metadata, &active)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "thought", ID: id}
	}
	if err != nil {
		return nil, &QueryFailedError{Query: "select thought", Message: err.Error(), Err: err}
	}
	th.ParentID = parentID.String
	th.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	th.Metadata = json.RawMessage(metadata)
	th.Active = active != 0
	return &th, nil
}

func (s *SQLiteStore) ListThoughts(sessionID string) ([]*Thought, error) {
	rows, err := s.db.Query(`SELECT id, session_id, mode, content, parent_id, confidence, created_at, metadata, active
FROM thoughts WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, &QueryFailedError{Query: "list thoughts", Message: err.Error(), Err: err}
	}
	defer rows.Close()

	var out []*Thought
	for rows.Next() {
		var th Thought
		var parentID sql.NullString
		var metadata string
		var createdAt string
		var active int
		if err := rows.Scan(&th.ID, &th.SessionID, &th.Mode, &th.Content, &parentID, &th.Confidence, &createdAt, &metadata, &active); err != nil {
			return nil, &QueryFailedError{Query: "scan thought", Message: err.Error(), Err: err}
		}
		th.ParentID = parentID.String
		th.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		th.Metadata = json.RawMessage(metadata)
		th.Active = active != 0
		out = append(out, &th)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateEdge(sessionID, fromID, toID, label string) error {
	_, err := s.db.Exec(`INSERT INTO edges (session_id, from_id, to_id, label) VALUES (?, ?, ?, ?)`,
		sessionID, fromID, toID, label)
	if err != nil {
		return &QueryFailedError{Query: "insert edge", Message: err.Error(), Err: err}
	}
	return nil
}

func (s *SQLiteStore) CreateCheckpoint(sessionID string, thoughtIDs []string, label, description string) (*Checkpoint, error) {
	cp := &Checkpoint{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		ThoughtIDs:  thoughtIDs,
		Label:       label,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	idsJSON, err := json.Marshal(thoughtIDs)
	if err != nil {
		return nil, &QueryFailedError{Query: "marshal checkpoint", Message: err.Error(), Err: err}
	}
	_, err = s.db.Exec(`INSERT INTO checkpoints (id, session_id, thought_ids, label, description, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.SessionID, string(idsJSON), cp.Label, cp.Description, cp.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return nil, &QueryFailedError{Query: "insert checkpoint", Message: err.Error(), Err: err}
	}
	return cp, nil
}

func (s *SQLiteStore) ListCheckpoints(sessionID string) ([]*Checkpoint, error) {
	rows, err := s.db.Query(`SELECT id, session_id, thought_ids, label, description, created_at FROM checkpoints WHERE session_id = ? ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, &QueryFailedError{Query: "list checkpoints", Message: err.Error(), Err: err}
	}
	defer rows.Close()

	var out []*Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var idsJSON, createdAt string
		if err := rows.Scan(&cp.ID, &cp.SessionID, &idsJSON, &cp.Label, &cp.Description, &createdAt); err != nil {
			return nil, &QueryFailedError{Query: "scan checkpoint", Message: err.Error(), Err: err}
		}
		_ = json.Unmarshal([]byte(idsJSON), &cp.ThoughtIDs)
		cp.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, &cp)
	}
	return out, rows.Err()
}

// RestoreCheckpoint marks every thought of the session that is not in the
// checkpoint's thought list inactive rather than deleting it, per spec.md §3: "Restoring a checkpoint
// does not delete later thoughts; it marks them inactive."
func (s *SQLiteStore) RestoreCheckpoint(checkpointID string) error {
	var sessionID, idsJSON, createdAt string
	err := s.db.QueryRow(`SELECT session_id, thought_ids, created_at FROM checkpoints WHERE id = ?`, checkpointID).
		Scan(&sessionID, &idsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return &NotFoundError{Entity: "checkpoint", ID: checkpointID}
	}
	if err != nil {
		return &QueryFailedError{Query: "select checkpoint", Message: err.Error(), Err: err}
	}

	var keep []string
	_ = json.Unmarshal([]byte(idsJSON), &keep)
	keepSet := make(map[string]bool, len(keep))
	for _, id := range keep {
		keepSet[id] = true
	}

	rows, err := s.db.Query(`SELECT id FROM thoughts WHERE session_id = ?`, sessionID)
	if err != nil {
		return &QueryFailedError{Query: "select thoughts for restore", Message: err.Error(), Err: err}
	}
	var toDeactivate []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return &QueryFailedError{Query: "scan thought id", Message: err.Error(), Err: err}
		}
		if !keepSet[id] {
			toDeactivate = append(toDeactivate, id)
		}
	}
	rows.Close()

	for _, id := range toDeactivate {
		if _, err := s.db.Exec(`UPDATE thoughts SET active = 0 WHERE id = ?`, id); err != nil {
			return &QueryFailedError{Query: "deactivate thought", Message: err.Error(), Err: err}
		}
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

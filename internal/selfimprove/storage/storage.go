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

// Package storage persists the self-improvement loop's durable
// entities — diagnoses, actions, learnings, and config overrides — to
// SQLite, following the same schema-constant-plus-database/sql pattern
// as internal/session and internal/metrics.
package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	_ "github.com/mattn/go-sqlite3"

	"github.com/reasonloop/reasonloop/internal/selfimprove/model"
)

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS diagnoses (
	id TEXT PRIMARY KEY,
	triggers TEXT NOT NULL,
	summary TEXT NOT NULL,
	confidence REAL NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS si_actions (
	id TEXT PRIMARY KEY,
	diagnosis_id TEXT,
	variant TEXT NOT NULL,
	description TEXT,
	rationale TEXT,
	expected_improvement REAL NOT NULL,
	parameters TEXT,
	inverse_operation TEXT,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	executed_at TEXT,
	measured_improvement REAL
);
CREATE INDEX IF NOT EXISTS idx_si_actions_diagnosis ON si_actions(diagnosis_id);
CREATE INDEX IF NOT EXISTS idx_si_actions_status ON si_actions(status);

CREATE TABLE IF NOT EXISTS learnings (
	id TEXT PRIMARY KEY,
	action_id TEXT NOT NULL,
	insight TEXT,
	reward REAL NOT NULL,
	contexts TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_learnings_action ON learnings(action_id);

CREATE TABLE IF NOT EXISTS config_overrides (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	applied_by TEXT,
	updated_at TEXT NOT NULL
);
`

// Store persists the self-improvement loop's durable record of what was
// diagnosed, proposed, executed, and learned.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if absent) the database at path and ensures
// its schema exists.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(createSchemaSQL); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveDiagnosis upserts a diagnosis along with its candidate actions.
func (s *Store) SaveDiagnosis(d *model.Diagnosis) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	triggersJSON, err := json.Marshal(d.Triggers)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
INSERT INTO diagnoses (id, triggers, summary, confidence, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET triggers=excluded.triggers, summary=excluded.summary, confidence=excluded.confidence,
	status=excluded.status, updated_at=excluded.updated_at
`, d.ID, string(triggersJSON), d.Summary, d.Confidence, string(d.Status), d.CreatedAt.Format(time.RFC3339), d.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return err
	}

	for _, a := range d.Actions {
		if err := saveActionTx(tx, d.ID, a); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveAction upserts a standalone action (not associated with a
// diagnosis row, e.g. one replayed via ApproveActions).
func (s *Store) SaveAction(a *model.Action) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := saveActionTx(tx, "", a); err != nil {
		return err
	}
	return tx.Commit()
}

func saveActionTx(tx *sql.Tx, diagnosisID string, a *model.Action) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	paramsJSON, err := json.Marshal(a.Parameters)
	if err != nil {
		return err
	}
	inverseJSON, err := json.Marshal(a.InverseOperation)
	if err != nil {
		return err
	}

	var executedAt interface{}
	if !a.ExecutedAt.IsZero() {
		executedAt = a.ExecutedAt.Format(time.RFC3339)
	}

	_, err = tx.Exec(`
INSERT INTO si_actions (id, diagnosis_id, variant, description, rationale, expected_improvement, parameters,
	inverse_operation, status, created_at, executed_at, measured_improvement)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET status=excluded.status, parameters=excluded.parameters,
	inverse_operation=excluded.inverse_operation, executed_at=excluded.executed_at,
	measured_improvement=excluded.measured_improvement
`, a.ID, nullableString(diagnosisID), string(a.Variant), a.Description, a.Rationale, a.ExpectedImprovement,
		string(paramsJSON), string(inverseJSON), string(a.Status), a.CreatedAt.Format(time.RFC3339), executedAt, a.MeasuredImprovement)
	return err
}

// ListActions returns actions ordered by created_at, optionally filtered
// by status (empty string means all).
func (s *Store) ListActions(status string, limit int) ([]*model.Action, error) {
	query := `SELECT id, variant, description, rationale, expected_improvement, parameters, inverse_operation,
		status, created_at, executed_at, measured_improvement FROM si_actions`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (*model.Action, error) {
	var a model.Action
	var variant, status, createdAt string
	var executedAt sql.NullString
	var paramsJSON, inverseJSON string
	if err := row.Scan(&a.ID, &variant, &a.Description, &a.Rationale, &a.ExpectedImprovement, &paramsJSON,
		&inverseJSON, &status, &createdAt, &executedAt, &a.MeasuredImprovement); err != nil {
		return nil, err
	}
	a.Variant = model.Variant(variant)
	a.Status = model.ActionStatus(status)
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if executedAt.Valid {
		a.ExecutedAt, _ = time.Parse(time.RFC3339, executedAt.String)
	}
	_ = json.Unmarshal([]byte(paramsJSON), &a.Parameters)
	_ = json.Unmarshal([]byte(inverseJSON), &a.InverseOperation)
	return &a, nil
}

// SaveLesson inserts a Lesson row.
func (s *Store) SaveLesson(l model.Lesson) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	contextsJSON, err := json.Marshal(l.Contexts)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO learnings (id, action_id, insight, reward, contexts, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		l.ID, l.ActionID, l.Insight, l.Reward, string(contextsJSON), l.CreatedAt.Format(time.RFC3339))
	return err
}

// ListLessons returns lessons ordered newest-first, bounded by limit (0
// means unbounded).
func (s *Store) ListLessons(limit int) ([]model.Lesson, error) {
	query := `SELECT id, action_id, insight, reward, contexts, created_at FROM learnings ORDER BY created_at DESC, rowid DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Lesson
	for rows.Next() {
		var l model.Lesson
		var contextsJSON, createdAt string
		if err := rows.Scan(&l.ID, &l.ActionID, &l.Insight, &l.Reward, &contextsJSON, &createdAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(contextsJSON), &l.Contexts)
		l.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// SetConfigOverride upserts one config-overrides row, for components
// whose overrides map must survive process restart. appliedBy records
// the id of the action that wrote this value, or "" for operator-
// initiated writes (e.g. the CLI's pause command).
func (s *Store) SetConfigOverride(key, value, appliedBy string) error {
	_, err := s.db.Exec(`
INSERT INTO config_overrides (key, value, applied_by, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, applied_by=excluded.applied_by, updated_at=excluded.updated_at
`, key, value, nullableString(appliedBy), time.Now().UTC().Format(time.RFC3339))
	return err
}

// DeleteConfigOverride removes one config-overrides row, restoring the
// key to its process-default fallback.
func (s *Store) DeleteConfigOverride(key string) error {
	_, err := s.db.Exec(`DELETE FROM config_overrides WHERE key = ?`, key)
	return err
}

// GetConfigOverride returns one persisted override's value.
func (s *Store) GetConfigOverride(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM config_overrides WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// ConfigOverride is one persisted key/value/provenance row.
type ConfigOverride struct {
	Key       string
	Value     string
	AppliedBy string
	UpdatedAt time.Time
}

// ListConfigOverrides returns every persisted override, for the CLI's
// provenance display.
func (s *Store) ListConfigOverrides() ([]ConfigOverride, error) {
	rows, err := s.db.Query(`SELECT key, value, applied_by, updated_at FROM config_overrides ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConfigOverride
	for rows.Next() {
		var o ConfigOverride
		var appliedBy sql.NullString
		var updatedAt string
		if err := rows.Scan(&o.Key, &o.Value, &appliedBy, &updatedAt); err != nil {
			return nil, err
		}
		o.AppliedBy = appliedBy.String
		o.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, o)
	}
	return out, rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

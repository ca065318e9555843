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

package metrics

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// bindsPerInvocationRecord is the column count of one INSERT row in the
// batch statement below; used to derive the 999-bind-variable chunk
// size (spec.md §4.2, invariant #10).
const bindsPerInvocationRecord = 7

// maxSQLiteBindVariables is the host storage engine's per-statement
// bind variable ceiling.
const maxSQLiteBindVariables = 999

// BatchChunkSize is the number of records per chunked batch-insert
// statement: floor(999 / binds_per_record).
const BatchChunkSize = maxSQLiteBindVariables / bindsPerInvocationRecord

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS invocations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tool TEXT NOT NULL,
	mode TEXT,
	latency_ms INTEGER NOT NULL,
	success INTEGER NOT NULL,
	quality_score REAL,
	session_id TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_invocations_tool ON invocations(tool);
CREATE INDEX IF NOT EXISTS idx_invocations_created_at ON invocations(created_at);
`

// Store is the Metrics store's exposed surface (spec.md §4.2).
type Store interface {
	Record(inv Invocation) error
	BatchRecord(invs []Invocation) (int, error)
	Summary(window time.Duration) (Summary, error)
	Close() error
}

// SQLiteStore persists invocations in SQLite. record is an O(1) append;
// Summary walks the invocations table once. A failed single insert is
// logged and dropped — per spec.md, metrics are lossy-correct, never
// blocking the foreground path.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(createSchemaSQL); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Record(inv Invocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.Timestamp.IsZero() {
		inv.Timestamp = time.Now().UTC()
	}
	_, err := s.db.Exec(`INSERT INTO invocations (tool, mode, latency_ms, success, quality_score, session_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.Tool, inv.Mode, inv.LatencyMs, boolToInt(inv.Success), inv.QualityScore, inv.SessionID, inv.Timestamp.Format(time.RFC3339))
	if err != nil {
		slog.Warn("metrics: dropping invocation record after insert failure", "tool", inv.Tool, "error", err)
		return err
	}
	return nil
}

// BatchRecord inserts n records, chunking to respect the host storage
// engine's bind-variable limit. It returns the number of rows actually
// persisted; per spec.md §4.2 that number equals len(invs) unless an
// underlying error truncates the run, in which case the error is
// returned alongside the partial count.
func (s *SQLiteStore) BatchRecord(invs []Invocation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for start := 0; start < len(invs); start += BatchChunkSize {
		end := start + BatchChunkSize
		if end > len(invs) {
			end = len(invs)
		}
		chunk := invs[start:end]

		tx, err := s.db.Begin()
		if err != nil {
			return total, err
		}
		stmt, err := tx.Prepare(`INSERT INTO invocations (tool, mode, latency_ms, success, quality_score, session_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			tx.Rollback()
			return total, err
		}
		n := 0
		for _, inv := range chunk {
			ts := inv.Timestamp
			if ts.IsZero() {
				ts = time.Now().UTC()
			}
			if _, err := stmt.Exec(inv.Tool, inv.Mode, inv.LatencyMs, boolToInt(inv.Success), inv.QualityScore, inv.SessionID, ts.Format(time.RFC3339)); err != nil {
				stmt.Close()
				tx.Rollback()
				return total, err
			}
			n++
		}
		stmt.Close()
		if err := tx.Commit(); err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Summary walks the invocation table once and computes rolling
// aggregates over the trailing window (or all time if window <= 0).
func (s *SQLiteStore) Summary(window time.Duration) (Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT tool, latency_ms, success FROM invocations`
	var args []interface{}
	if window > 0 {
		cutoff := time.Now().UTC().Add(-window).Format(time.RFC3339)
		query += ` WHERE created_at >= ?`
		args = append(args, cutoff)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return Summary{}, err
	}
	defer rows.Close()

	type acc struct {
		count, successes int
		latencySum       int64
	}
	perTool := make(map[string]*acc)
	var total, successes int
	var latencySum int64

	for rows.Next() {
		var tool string
		var latencyMs int64
		var successInt int
		if err := rows.Scan(&tool, &latencyMs, &successInt); err != nil {
			return Summary{}, err
		}
		total++
		latencySum += latencyMs
		if successInt != 0 {
			successes++
		}
		a, ok := perTool[tool]
		if !ok {
			a = &acc{}
			perTool[tool] = a
		}
		a.count++
		a.latencySum += latencyMs
		if successInt != 0 {
			a.successes++
		}
	}
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}

	summary := Summary{TotalInvocations: total, PerTool: make(map[string]ToolSummary, len(perTool))}
	if total > 0 {
		summary.SuccessRate = float64(successes) / float64(total)
		summary.MeanLatencyMs = float64(latencySum) / float64(total)
	}
	for name, a := range perTool {
		ts := ToolSummary{Count: a.count}
		if a.count > 0 {
			ts.SuccessRate = float64(a.successes) / float64(a.count)
			ts.MeanLatencyMs = float64(a.latencySum) / float64(a.count)
		}
		summary.PerTool[name] = ts
	}
	return summary, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

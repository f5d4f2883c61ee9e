// Package auditstore records terminal action outcomes for operational
// forensics on the bridge (spec component C11). It is a one-way append log,
// never read back into the hub's in-memory state or session data.
package auditstore

import (
	"database/sql"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

// migrations holds the ordered list of DDL statements that bring the schema
// up to date. Index i corresponds to version i+1. Append, never edit.
var migrations = []string{
	// v1 — action outcomes
	`CREATE TABLE IF NOT EXISTS action_outcomes (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id      TEXT NOT NULL,
		target_agent_id TEXT NOT NULL DEFAULT '',
		action_type     TEXT NOT NULL DEFAULT '',
		status          TEXT NOT NULL,
		detail          TEXT NOT NULL DEFAULT '',
		recorded_at     INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v2 — lookups by request id and status
	`CREATE INDEX IF NOT EXISTS idx_action_outcomes_request_id ON action_outcomes(request_id)`,
	`CREATE INDEX IF NOT EXISTS idx_action_outcomes_status ON action_outcomes(status)`,
}

// Store wraps a SQLite database holding the bridge's action-outcome audit
// trail.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies any
// pending migrations. Use ":memory:" for ephemeral in-process storage.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("auditstore: open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		log.Printf("[auditstore] WAL mode: %v (non-fatal)", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		log.Printf("[auditstore] busy_timeout: %v (non-fatal)", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditstore: migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`,
	).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for i, stmt := range migrations {
		v := i + 1
		if v <= current {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", v, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations(version) VALUES(?)`, v); err != nil {
			return fmt.Errorf("record migration %d: %w", v, err)
		}
	}
	return nil
}

// Outcome is one recorded action-request result.
type Outcome struct {
	ID            int64
	RequestID     string
	TargetAgentID string
	ActionType    string
	Status        string
	Detail        string
	RecordedAt    int64
}

// RecordOutcome appends one terminal action outcome to the audit log.
func (s *Store) RecordOutcome(requestID, targetAgentID, actionType, status, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO action_outcomes(request_id, target_agent_id, action_type, status, detail)
		 VALUES(?, ?, ?, ?, ?)`,
		requestID, targetAgentID, actionType, status, detail,
	)
	if err != nil {
		return fmt.Errorf("auditstore: record outcome: %w", err)
	}
	return nil
}

// RecentOutcomes returns the most recently recorded outcomes, newest first,
// bounded by limit.
func (s *Store) RecentOutcomes(limit int) ([]Outcome, error) {
	rows, err := s.db.Query(
		`SELECT id, request_id, target_agent_id, action_type, status, detail, recorded_at
		 FROM action_outcomes ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("auditstore: query recent outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.ID, &o.RequestID, &o.TargetAgentID, &o.ActionType, &o.Status, &o.Detail, &o.RecordedAt); err != nil {
			return nil, fmt.Errorf("auditstore: scan outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CountByStatus returns how many outcomes are recorded for status.
func (s *Store) CountByStatus(status string) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM action_outcomes WHERE status = ?`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("auditstore: count by status: %w", err)
	}
	return n, nil
}

// Package store provides SQLite-backed persistence for sessions, transcripts,
// claim snapshots, audit and cost records, and the ICD-10-CM reference table.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS sessions (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	source_text     TEXT NOT NULL,
	claim_json      TEXT NOT NULL DEFAULT '',
	highlights_json TEXT NOT NULL DEFAULT '[]',
	agent_handle    TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'processing',
	turn_count      INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, status, created_at);

CREATE TABLE IF NOT EXISTS messages (
	id                     TEXT PRIMARY KEY,
	session_id             TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq_no                 INTEGER NOT NULL,
	role                   TEXT NOT NULL,
	content                TEXT NOT NULL,
	suggested_prompts_json TEXT NOT NULL DEFAULT '[]',
	claim_change_json      TEXT NOT NULL DEFAULT '',
	created_at             INTEGER NOT NULL,
	UNIQUE(session_id, seq_no)
);

CREATE TABLE IF NOT EXISTS claim_snapshots (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	turn       INTEGER NOT NULL,
	claim_json TEXT NOT NULL,
	checksum   TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_session ON claim_snapshots(session_id, turn);

CREATE TABLE IF NOT EXISTS audit_records (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	category     TEXT NOT NULL,
	actor        TEXT NOT NULL DEFAULT '',
	action       TEXT NOT NULL,
	request_json TEXT NOT NULL DEFAULT '{}',
	result_text  TEXT NOT NULL DEFAULT '',
	is_error     INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_records(session_id);

CREATE TABLE IF NOT EXISTS cost_deltas (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	amount_usd    REAL NOT NULL DEFAULT 0.0,
	provider      TEXT NOT NULL DEFAULT '',
	turn_kind     TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cost_deltas_session ON cost_deltas(session_id);

CREATE TABLE IF NOT EXISTS icd10_codes (
	code       TEXT PRIMARY KEY,
	code_dot   TEXT NOT NULL,
	short_desc TEXT NOT NULL,
	long_desc  TEXT NOT NULL,
	billable   INTEGER NOT NULL DEFAULT 0
);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}

// likePattern escapes LIKE wildcards in s and wraps it in %...%.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

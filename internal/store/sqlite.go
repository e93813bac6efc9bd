// Package store provides SQLite-backed persistence for hitlflow: members and
// their credit pools, priced models, the usage ledger, subject entities,
// approval audit records and interrupted-workflow snapshots.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS ai_models (
	id                       INTEGER PRIMARY KEY AUTOINCREMENT,
	name                     TEXT NOT NULL UNIQUE,
	display_name             TEXT NOT NULL DEFAULT '',
	provider                 TEXT NOT NULL DEFAULT '',
	input_cost_per_1m        REAL NOT NULL DEFAULT 0.0,
	output_cost_per_1m       REAL NOT NULL DEFAULT 0.0,
	cache_write_cost_per_1m  REAL NOT NULL DEFAULT 0.0,
	cache_read_cost_per_1m   REAL NOT NULL DEFAULT 0.0,
	active                   INTEGER NOT NULL DEFAULT 1,
	allowed_for_free_credits INTEGER NOT NULL DEFAULT 0,
	context_window           INTEGER NOT NULL DEFAULT 128000
);

CREATE TABLE IF NOT EXISTS members (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	email             TEXT NOT NULL UNIQUE,
	api_token         TEXT NOT NULL DEFAULT '',
	is_admin          INTEGER NOT NULL DEFAULT 0,
	free_credits      REAL NOT NULL DEFAULT 0.0 CHECK (free_credits >= 0),
	purchased_credits REAL NOT NULL DEFAULT 0.0 CHECK (purchased_credits >= 0),
	model_id          INTEGER NOT NULL DEFAULT 0,
	free_refilled_at  INTEGER NOT NULL DEFAULT 0,
	created_at_unix   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_members_token ON members(api_token);

CREATE TABLE IF NOT EXISTS usage_logs (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	idempotency_key         TEXT NOT NULL UNIQUE,
	member_id               INTEGER NOT NULL DEFAULT 0,
	model_id                INTEGER NOT NULL DEFAULT 0,
	model                   TEXT NOT NULL DEFAULT '',
	request_type            TEXT NOT NULL DEFAULT 'agent',
	entity_class            TEXT NOT NULL DEFAULT '',
	entity_id               INTEGER NOT NULL DEFAULT 0,
	prompt_tokens           INTEGER NOT NULL DEFAULT 0,
	completion_tokens       INTEGER NOT NULL DEFAULT 0,
	total_tokens            INTEGER NOT NULL DEFAULT 0,
	cache_write_tokens      INTEGER NOT NULL DEFAULT 0,
	cache_read_tokens       INTEGER NOT NULL DEFAULT 0,
	cost                    REAL NOT NULL DEFAULT 0.0,
	used_free_credits       REAL NOT NULL DEFAULT 0.0,
	used_paid_credits       REAL NOT NULL DEFAULT 0.0,
	input_cost_per_1m       REAL NOT NULL DEFAULT 0.0,
	output_cost_per_1m      REAL NOT NULL DEFAULT 0.0,
	cache_write_cost_per_1m REAL NOT NULL DEFAULT 0.0,
	cache_read_cost_per_1m  REAL NOT NULL DEFAULT 0.0,
	success                 INTEGER NOT NULL DEFAULT 0,
	error_message           TEXT NOT NULL DEFAULT '',
	error_type              TEXT NOT NULL DEFAULT '',
	request_time            INTEGER NOT NULL DEFAULT 0,
	response_time           INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_usage_member_time ON usage_logs(member_id, request_time);

CREATE TABLE IF NOT EXISTS entities (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	class           TEXT NOT NULL,
	title           TEXT NOT NULL DEFAULT '',
	owner_id        INTEGER NOT NULL DEFAULT 0,
	instructions    TEXT NOT NULL DEFAULT '',
	context         TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL DEFAULT '',
	updated_at_unix INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_entities_class ON entities(class);

CREATE TABLE IF NOT EXISTS audit_records (
	id            TEXT PRIMARY KEY,
	token         TEXT NOT NULL,
	member_id     INTEGER NOT NULL DEFAULT 0,
	category      TEXT NOT NULL,
	action        TEXT NOT NULL,
	decision_json TEXT NOT NULL DEFAULT '{}',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_token ON audit_records(token);

CREATE TABLE IF NOT EXISTS interrupts (
	id         TEXT PRIMARY KEY,
	record     BLOB NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interrupts_expiry ON interrupts(expires_at);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer; the credit debit relies on serialized row updates.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

// Migrate applies the schema to an already-open database.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func migrate(db *sql.DB) error {
	return Migrate(context.Background(), db)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

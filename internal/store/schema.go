// Package store persists assessments, ratings, history snapshots, and tags in
// SQLite. Every multi-row write happens inside a per-area immediate
// transaction obtained through WithinArea.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS assessments (
	id                   TEXT PRIMARY KEY,
	capability_area_id   TEXT NOT NULL UNIQUE,
	capability_domain_id TEXT NOT NULL DEFAULT '',
	status               TEXT NOT NULL DEFAULT 'not_started',
	tags                 TEXT NOT NULL DEFAULT '[]',
	created_at           DATETIME NOT NULL,
	updated_at           DATETIME NOT NULL,
	finalized_at         DATETIME,
	overall_score        REAL
);

CREATE TABLE IF NOT EXISTS ratings (
	id                 TEXT PRIMARY KEY,
	assessment_id      TEXT NOT NULL,
	dimension_id       TEXT NOT NULL,
	sub_dimension_id   TEXT NOT NULL DEFAULT '',
	aspect_id          TEXT NOT NULL,
	current_level      INTEGER NOT NULL DEFAULT 0,
	target_level       INTEGER,
	question_responses TEXT NOT NULL DEFAULT '[]',
	evidence_responses TEXT NOT NULL DEFAULT '[]',
	notes              TEXT NOT NULL DEFAULT '',
	barriers           TEXT NOT NULL DEFAULT '',
	plans              TEXT NOT NULL DEFAULT '',
	attachment_ids     TEXT NOT NULL DEFAULT '[]',
	updated_at         DATETIME NOT NULL,
	UNIQUE(assessment_id, dimension_id, sub_dimension_id, aspect_id)
);

CREATE TABLE IF NOT EXISTS history (
	id                       TEXT PRIMARY KEY,
	capability_assessment_id TEXT NOT NULL,
	capability_area_id       TEXT NOT NULL,
	capability_domain_id     TEXT NOT NULL DEFAULT '',
	snapshot_date            DATETIME NOT NULL,
	created_at               DATETIME,
	finalized_at             DATETIME,
	status                   TEXT NOT NULL DEFAULT '',
	tags                     TEXT NOT NULL DEFAULT '[]',
	overall_score            REAL,
	dimension_scores         TEXT NOT NULL DEFAULT '{}',
	ratings                  TEXT NOT NULL DEFAULT '[]',
	fingerprint              TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tags (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	usage_count INTEGER NOT NULL DEFAULT 0,
	last_used   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS attachments (
	id        TEXT PRIMARY KEY,
	rating_id TEXT NOT NULL DEFAULT '',
	file_name TEXT NOT NULL DEFAULT '',
	mime_type TEXT NOT NULL DEFAULT '',
	size      INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_ratings_assessment ON ratings(assessment_id);
CREATE INDEX IF NOT EXISTS idx_history_area ON history(capability_area_id, snapshot_date);
CREATE INDEX IF NOT EXISTS idx_history_fingerprint ON history(capability_area_id, fingerprint);
`

// DB is the SQLite-backed Store.
type DB struct {
	conn *sql.DB
	r    repo
}

// Open opens (or creates) the SQLite database at path and applies the schema.
// Transactions are opened with BEGIN IMMEDIATE so concurrent per-area writers
// queue on the busy timeout instead of failing on lock upgrade.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn, r: repo{q: conn}}, nil
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

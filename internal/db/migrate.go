// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents an applied database schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// migrationDef is one step of the schema history. Migrations ship inside the
// binary; the store lives in an app bundle with no migrations directory.
type migrationDef struct {
	version     int
	description string
	upSQL       string
	downSQL     string
}

// migrations is the full schema history, ascending by version. Entries are
// append-only: editing a released entry changes its checksum and Up will
// refuse to proceed rather than silently diverge.
var migrations = []migrationDef{
	{
		version:     1,
		description: "initial_schema",
		upSQL: `
CREATE TABLE chats (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	last_message_id TEXT,
	updated_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE messages (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	media_ref TEXT NOT NULL DEFAULT '',
	is_edited INTEGER NOT NULL DEFAULT 0,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	deleted_at INTEGER,
	is_synced INTEGER NOT NULL DEFAULT 0,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	local_timestamp INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE posts (
	id TEXT PRIMARY KEY,
	author_id TEXT NOT NULL,
	caption TEXT NOT NULL DEFAULT '',
	media_refs TEXT NOT NULL DEFAULT '[]',
	like_count INTEGER NOT NULL DEFAULT 0,
	is_edited INTEGER NOT NULL DEFAULT 0,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	deleted_at INTEGER,
	is_synced INTEGER NOT NULL DEFAULT 0,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	local_timestamp INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE post_likes (
	post_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	liked INTEGER NOT NULL DEFAULT 1,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (post_id, user_id)
);
CREATE TABLE stories (
	id TEXT PRIMARY KEY,
	author_id TEXT NOT NULL,
	media_ref TEXT NOT NULL DEFAULT '',
	caption TEXT NOT NULL DEFAULT '',
	expires_at INTEGER NOT NULL,
	is_deleted INTEGER NOT NULL DEFAULT 0,
	deleted_at INTEGER,
	is_synced INTEGER NOT NULL DEFAULT 0,
	sync_status TEXT NOT NULL DEFAULT 'pending',
	local_timestamp INTEGER NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE users_cache (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	avatar_ref TEXT NOT NULL DEFAULT '',
	fetched_at INTEGER NOT NULL
);
CREATE TABLE sync_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	action TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	payload TEXT NOT NULL,
	local_reference_id TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	retry_count INTEGER NOT NULL DEFAULT 0,
	last_attempt INTEGER,
	error_message TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL
);`,
		downSQL: `
DROP TABLE sync_queue;
DROP TABLE users_cache;
DROP TABLE stories;
DROP TABLE post_likes;
DROP TABLE posts;
DROP TABLE messages;
DROP TABLE chats;`,
	},
	{
		version:     2,
		description: "queue_and_lineage_indexes",
		upSQL: `
CREATE INDEX idx_sync_queue_status_ts ON sync_queue(status, timestamp);
CREATE INDEX idx_sync_queue_reference ON sync_queue(local_reference_id);
CREATE INDEX idx_messages_chat ON messages(chat_id, local_timestamp);
CREATE INDEX idx_posts_author ON posts(author_id, local_timestamp);
CREATE INDEX idx_stories_expiry ON stories(expires_at);`,
		downSQL: `
DROP INDEX idx_stories_expiry;
DROP INDEX idx_posts_author;
DROP INDEX idx_messages_chat;
DROP INDEX idx_sync_queue_reference;
DROP INDEX idx_sync_queue_status_ts;`,
	},
}

// Migrator handles database schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// AppliedMigrations returns all applied migrations in version order.
func (m *Migrator) AppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, mig)
	}
	return applied, rows.Err()
}

// Up applies all pending migrations in order. Already-applied migrations are
// checksum-verified first: a mismatch means the binary's schema history has
// been edited after release, and Up fails instead of re-running anything.
func (m *Migrator) Up() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations table: %w", err)
	}

	applied, err := m.AppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	appliedByVersion := make(map[int]Migration, len(applied))
	for _, mig := range applied {
		appliedByVersion[mig.Version] = mig
	}

	for _, def := range migrations {
		if prev, ok := appliedByVersion[def.version]; ok {
			if prev.Checksum != checksum(def.upSQL) {
				return fmt.Errorf("migration V%d checksum mismatch: schema history was modified", def.version)
			}
			continue
		}
		if err := m.apply(def); err != nil {
			return fmt.Errorf("failed to apply migration V%d: %w", def.version, err)
		}
	}
	return nil
}

// apply runs a single migration inside a transaction.
func (m *Migrator) apply(def migrationDef) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(def.upSQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	query := `INSERT INTO schema_migrations (version, applied_at, description, checksum)
			  VALUES (?, ?, ?, ?)`
	if _, err := tx.Exec(query, def.version, time.Now().Unix(), def.description, checksum(def.upSQL)); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

// Down rolls back the last applied migration.
func (m *Migrator) Down() error {
	current, err := m.CurrentVersion()
	if err != nil {
		return err
	}
	if current == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	var def *migrationDef
	for i := range migrations {
		if migrations[i].version == current {
			def = &migrations[i]
			break
		}
	}
	if def == nil {
		return fmt.Errorf("no rollback defined for version %d", current)
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(def.downSQL); err != nil {
		return fmt.Errorf("failed to execute rollback SQL: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = ?", current); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}

	return tx.Commit()
}

func checksum(sqlText string) string {
	hash := sha256.Sum256([]byte(sqlText))
	return hex.EncodeToString(hash[:])
}

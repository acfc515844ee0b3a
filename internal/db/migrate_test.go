package db

import (
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// TestMigrateUpFreshDatabase verifies all migrations apply on a new store and
// the version lands at the latest definition.
func TestMigrateUpFreshDatabase(t *testing.T) {
	database := openTestDB(t)
	migrator := NewMigrator(database.DB)

	if err := migrator.Up(); err != nil {
		t.Fatalf("Up failed: %v", err)
	}

	version, err := migrator.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("Expected version %d, got %d", len(migrations), version)
	}

	// Core tables must exist after V1.
	for _, table := range []string{"chats", "messages", "posts", "post_likes", "stories", "users_cache", "sync_queue"} {
		var name string
		err := database.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Expected table %s to exist: %v", table, err)
		}
	}
}

// TestMigrateUpIdempotent verifies a second Up is a no-op, not a re-run.
func TestMigrateUpIdempotent(t *testing.T) {
	database := openTestDB(t)
	migrator := NewMigrator(database.DB)

	if err := migrator.Up(); err != nil {
		t.Fatalf("First Up failed: %v", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("Second Up failed: %v", err)
	}

	applied, err := migrator.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations failed: %v", err)
	}
	if len(applied) != len(migrations) {
		t.Errorf("Expected %d applied migrations, got %d", len(migrations), len(applied))
	}
}

// TestMigrateChecksumMismatch verifies a tampered history entry blocks Up.
func TestMigrateChecksumMismatch(t *testing.T) {
	database := openTestDB(t)
	migrator := NewMigrator(database.DB)

	if err := migrator.Up(); err != nil {
		t.Fatalf("Up failed: %v", err)
	}

	bogus := checksum("ALTER TABLE messages ADD COLUMN smuggled TEXT;")
	if _, err := database.Exec("UPDATE schema_migrations SET checksum = ? WHERE version = 1", bogus); err != nil {
		t.Fatalf("Failed to tamper with migration record: %v", err)
	}

	if err := migrator.Up(); err == nil {
		t.Error("Expected Up to fail on checksum mismatch")
	}
}

// TestMigrateDown verifies the last migration rolls back cleanly.
func TestMigrateDown(t *testing.T) {
	database := openTestDB(t)
	migrator := NewMigrator(database.DB)

	if err := migrator.Up(); err != nil {
		t.Fatalf("Up failed: %v", err)
	}
	if err := migrator.Down(); err != nil {
		t.Fatalf("Down failed: %v", err)
	}

	version, err := migrator.CurrentVersion()
	if err != nil {
		t.Fatalf("CurrentVersion failed: %v", err)
	}
	if version != len(migrations)-1 {
		t.Errorf("Expected version %d after rollback, got %d", len(migrations)-1, version)
	}
}

// TestMigrateDownOnEmpty verifies rollback refuses when nothing was applied.
func TestMigrateDownOnEmpty(t *testing.T) {
	database := openTestDB(t)
	migrator := NewMigrator(database.DB)

	if err := migrator.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := migrator.Down(); err == nil {
		t.Error("Expected Down to fail with no applied migrations")
	}
}

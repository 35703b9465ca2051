package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// setupTestDB creates a new migrated temporary database.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "registry.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("parent directory not created: %v", err)
	}
	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query version: %v", err)
	}
	if version != 2 {
		t.Errorf("schema version = %d, want 2", version)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if count != 2 {
		t.Errorf("schema_version rows = %d, want 2", count)
	}
}

func TestMigrate_SessionsTable(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.Exec(`INSERT INTO sessions (id, topic, folder_name, folder_path, persona, depth, pid, created_at)
		VALUES ('a', 'Go', 'go', '/tmp/go', 'novice', 2, 1, ?)`, formatTime(time.Now()))
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	_, err = db.Exec(`INSERT INTO sessions (id, topic, folder_name, folder_path, persona, depth, created_at)
		VALUES ('b', 'Go', 'go', '/tmp/go', 'novice', 2, ?)`, formatTime(time.Now()))
	if err == nil {
		t.Error("expected UNIQUE violation on folder_name")
	}
}

func TestTransaction_Rollback(t *testing.T) {
	db := setupTestDB(t)

	wantErr := fmt.Errorf("boom")
	err := db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO sessions (id, topic, folder_name, folder_path, persona, depth, created_at)
			VALUES ('x', 'T', 't', '/t', 'novice', 1, ?)`, formatTime(time.Now())); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("Transaction error = %v, want %v", err, wantErr)
	}

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Errorf("rows after rollback = %d, want 0", n)
	}
}

func TestCheckIntegrity(t *testing.T) {
	db := setupTestDB(t)
	if err := db.CheckIntegrity(); err != nil {
		t.Errorf("CheckIntegrity on fresh db: %v", err)
	}
}

func TestRegistryPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	want := filepath.Join("/custom/data", "explainit", "registry.db")
	if got := RegistryPath(); got != want {
		t.Errorf("RegistryPath() = %q, want %q", got, want)
	}
}

func TestFormatAndParseTime(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 8900, time.UTC)
	parsed, err := parseTime(formatTime(now))
	if err != nil {
		t.Fatalf("parseTime failed: %v", err)
	}
	if !parsed.Equal(now) {
		t.Errorf("round trip = %v, want %v", parsed, now)
	}
}

func TestParseNullableTime(t *testing.T) {
	if got := parseNullableTime(sql.NullString{}); got != nil {
		t.Errorf("expected nil for NULL, got %v", got)
	}
	if got := parseNullableTime(sql.NullString{String: "garbage", Valid: true}); got != nil {
		t.Errorf("expected nil for invalid time, got %v", got)
	}
	if got := parseNullableTime(sql.NullString{String: "2025-01-01T00:00:00Z", Valid: true}); got == nil {
		t.Error("expected parsed time")
	}
}

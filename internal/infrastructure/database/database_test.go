package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// openTestDB opens a database in a temporary directory.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(context.Background(), Config{
		Path:        filepath.Join(t.TempDir(), "test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	return db
}

func TestOpen(t *testing.T) {
	t.Run("creates nested directory and file", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

		db, err := Open(context.Background(), Config{Path: dbPath, WALMode: true, BusyTimeout: 5})
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		defer db.Close() //nolint:errcheck // Test cleanup

		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			t.Error("database file was not created")
		}
		if db.Path() != dbPath {
			t.Errorf("Path() = %v, want %v", db.Path(), dbPath)
		}
	})

	t.Run("rejects empty path", func(t *testing.T) {
		if _, err := Open(context.Background(), Config{}); err == nil {
			t.Error("Open() expected error for empty path")
		}
	})
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t)

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestClose(t *testing.T) {
	db := openTestDB(t)

	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close() should fail")
	}
}

func TestForeignKeysEnabled(t *testing.T) {
	db := openTestDB(t)

	var enabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
		t.Fatalf("PRAGMA foreign_keys error = %v", err)
	}
	if enabled != 1 {
		t.Errorf("foreign_keys = %d, want 1", enabled)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE pairs (a TEXT NOT NULL, b TEXT NOT NULL, PRIMARY KEY (a, b));
		CREATE TABLE names (name TEXT NOT NULL UNIQUE);
	`); err != nil {
		t.Fatalf("creating tables: %v", err)
	}

	if _, err := db.ExecContext(ctx, "INSERT INTO pairs (a, b) VALUES ('x', 'y')"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := db.ExecContext(ctx, "INSERT INTO pairs (a, b) VALUES ('x', 'y')")
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(primary key dup) = false, err = %v", err)
	}

	if _, err := db.ExecContext(ctx, "INSERT INTO names (name) VALUES ('n')"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err = db.ExecContext(ctx, "INSERT INTO names (name) VALUES ('n')")
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(unique dup) = false, err = %v", err)
	}

	if IsUniqueViolation(nil) {
		t.Error("IsUniqueViolation(nil) = true")
	}
	if IsUniqueViolation(errors.New("disk I/O error")) {
		t.Error("IsUniqueViolation(other) = true")
	}
}

func TestFormatParseTime(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 30, 45, 123456000, time.FixedZone("X", 3600))

	formatted := FormatTime(ts)
	if formatted != "2026-03-01T11:30:45.123456Z" {
		t.Errorf("FormatTime() = %q", formatted)
	}

	parsed, err := ParseTime(formatted)
	if err != nil {
		t.Fatalf("ParseTime() error = %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("ParseTime() = %v, want %v", parsed, ts)
	}

	if _, err := ParseTime("2026-03-01T11:30:45Z"); err != nil {
		t.Errorf("ParseTime(RFC3339) error = %v", err)
	}
	if _, err := ParseTime(""); err == nil {
		t.Error("ParseTime(\"\") expected error")
	}
	if _, err := ParseTime("yesterday"); err == nil {
		t.Error("ParseTime(garbage) expected error")
	}

	// Fixed width keeps string order chronological.
	earlier := FormatTime(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	later := FormatTime(time.Date(2026, 3, 1, 10, 0, 0, 500, time.UTC))
	if earlier >= later {
		t.Errorf("%q should sort before %q", earlier, later)
	}
}

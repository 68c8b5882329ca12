package database_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cadence/internal/database"
)

func TestOpenCreatesSchemaAndSeedsLocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cadence.db")
	db, err := database.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	defer db.Close()

	var locks int
	if err := db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM queue_locks").Scan(&locks); err != nil {
		t.Fatalf("count locks: %v", err)
	}
	if locks != 3 {
		t.Fatalf("expected 3 seeded lock rows, got %d", locks)
	}

	var enabled string
	if err := db.QueryRowContext(context.Background(), "SELECT value FROM automation_settings WHERE key = 'enabled'").Scan(&enabled); err != nil {
		t.Fatalf("read enabled setting: %v", err)
	}
	if enabled != "false" {
		t.Fatalf("expected automation disabled by default, got %q", enabled)
	}
}

func TestOpenTwiceReusesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cadence.db")
	first, err := database.OpenPath(path)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	first.Close()

	second, err := database.OpenPath(path)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	second.Close()
}

func TestOpenRejectsSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cadence.db")
	db, err := database.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	if _, err := db.Exec(context.Background(), "UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	db.Close()

	if _, err := database.OpenPath(path); !errors.Is(err, database.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db, err := database.OpenPath(filepath.Join(t.TempDir(), "cadence.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	sentinel := errors.New("stop")
	err = db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "UPDATE automation_settings SET value = 'true' WHERE key = 'enabled'"); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	var enabled string
	if err := db.QueryRowContext(ctx, "SELECT value FROM automation_settings WHERE key = 'enabled'").Scan(&enabled); err != nil {
		t.Fatalf("read enabled setting: %v", err)
	}
	if enabled != "false" {
		t.Fatalf("expected rollback to keep false, got %q", enabled)
	}
}

func TestFormatTimeIsLexicallyOrdered(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	earlier := database.FormatTime(base)
	later := database.FormatTime(base.Add(500 * time.Millisecond))
	if !(earlier < later) {
		t.Fatalf("expected %q < %q", earlier, later)
	}
	if len(earlier) != len(later) {
		t.Fatalf("expected fixed width, got %q and %q", earlier, later)
	}
	if got := database.ParseTime(later); !got.Equal(base.Add(500 * time.Millisecond)) {
		t.Fatalf("round trip mismatch: %v", got)
	}
}

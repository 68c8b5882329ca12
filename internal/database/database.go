package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"cadence/internal/config"
	"cadence/internal/retry"
)

// DB wraps the SQLite connection pool.
type DB struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	sqliteConstraintCode    = 19
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// ErrBusyExhausted is returned when write contention outlasts the retry budget.
var ErrBusyExhausted = errors.New("database busy: retries exhausted")

// Open initializes or connects to the database configured for this installation.
func Open(cfg *config.Config) (*DB, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath opens the database file at path, creating it when missing.
func OpenPath(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	d := &DB{db: db, path: path}
	if err := d.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// dsn encodes per-connection pragmas so every pooled connection gets them,
// not just the first one.
func dsn(path string) string {
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Set("_txlock", "immediate")
	return path + "?" + params.Encode()
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Path returns the database file location.
func (d *DB) Path() string {
	return d.path
}

// QueryContext runs a read query.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ensureContext(ctx), query, args...)
}

// QueryRowContext runs a single-row read query.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ensureContext(ctx), query, args...)
}

// Exec runs a write statement, retrying on SQLITE_BUSY.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var res sql.Result
	result := retry.Do(ctx, BusyPolicy(), func(ctx context.Context, _ int) error {
		var err error
		res, err = d.db.ExecContext(ctx, query, args...)
		return err
	})
	if err := busyError(result); err != nil {
		return nil, err
	}
	return res, nil
}

// WithTx runs fn inside one transaction. The whole unit is retried when the
// transaction cannot start or commit because of SQLITE_BUSY; fn must therefore
// be safe to run again from scratch.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx = ensureContext(ctx)
	result := retry.Do(ctx, BusyPolicy(), func(ctx context.Context, _ int) error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
	return busyError(result)
}

// BusyPolicy is the bounded backoff applied to SQLITE_BUSY contention.
func BusyPolicy() retry.Policy {
	return retry.Policy{
		Attempts:     busyRetryAttempts,
		InitialDelay: busyRetryInitialBackoff,
		MaxDelay:     busyRetryMaxBackoff,
		Retryable:    IsBusy,
	}
}

func busyError(result retry.Result) error {
	switch result.Outcome {
	case retry.Succeeded:
		return nil
	case retry.Exhausted:
		return fmt.Errorf("%w after %d attempts: %w", ErrBusyExhausted, result.Attempts, result.Err)
	default:
		return result.Err
	}
}

// IsBusy reports whether err is SQLite write-lock contention.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		return true
	}
	var coder interface{ Code() int }
	return errors.As(err, &coder) && coder.Code()&0xff == sqliteConstraintCode && strings.Contains(strings.ToLower(msg), "unique")
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

package catalog

import (
	"context"
	"fmt"
	"time"

	"cadence/internal/database"
	"cadence/internal/logging"
)

// AppendPipelineLog appends a line to a stage run's log. Failures are logged, never returned.
func (s *Store) AppendPipelineLog(ctx context.Context, runID int64, level LogLevel, message string) {
	if _, err := s.db.Exec(ctx,
		`INSERT INTO pipeline_logs (pipeline_id, level, message, created_at) VALUES (?, ?, ?, ?)`,
		runID, level, message, database.FormatTime(time.Now()),
	); err != nil {
		s.logAppendFailure("pipeline", runID, err)
	}
}

// AppendTitleLog appends a human-readable progress line to a title. Failures are logged, never returned.
func (s *Store) AppendTitleLog(ctx context.Context, titleID int64, level LogLevel, message string) {
	if _, err := s.db.Exec(ctx,
		`INSERT INTO title_logs (title_id, level, message, created_at) VALUES (?, ?, ?, ?)`,
		titleID, level, message, database.FormatTime(time.Now()),
	); err != nil {
		s.logAppendFailure("title", titleID, err)
	}
}

func (s *Store) logAppendFailure(kind string, id int64, err error) {
	logging.WarnWithContext(s.logger, "append log failed", "log_append_failed",
		logging.String("log_kind", kind),
		logging.Int64("owner_id", id),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check database contention"),
		logging.String(logging.FieldImpact, "progress line dropped"),
	)
}

// TitleLogs returns a title's log lines, oldest first. A positive limit keeps the newest lines.
func (s *Store) TitleLogs(ctx context.Context, titleID int64, limit int) ([]LogEntry, error) {
	query := `SELECT id, level, message, created_at FROM title_logs WHERE title_id = ? ORDER BY id DESC`
	args := []any{titleID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT * FROM (`+query+`) ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("title logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var (
			entry     LogEntry
			level     string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &level, &entry.Message, &createdAt); err != nil {
			return nil, err
		}
		entry.Level = LogLevel(level)
		entry.CreatedAt = database.ParseTime(createdAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// PipelineLogs returns every stage log line for a schedule in write order.
func (s *Store) PipelineLogs(ctx context.Context, scheduleID int64) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, r.stage, l.level, l.message, l.created_at
        FROM pipeline_logs l JOIN pipeline_runs r ON r.id = l.pipeline_id
        WHERE r.schedule_id = ?
        ORDER BY l.id ASC`,
		scheduleID,
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline logs: %w", err)
	}
	defer rows.Close()

	var entries []LogEntry
	for rows.Next() {
		var (
			entry     LogEntry
			stage     string
			level     string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &stage, &level, &entry.Message, &createdAt); err != nil {
			return nil, err
		}
		entry.Stage = Stage(stage)
		entry.Level = LogLevel(level)
		entry.CreatedAt = database.ParseTime(createdAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

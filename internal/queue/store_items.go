package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cadence/internal/database"
	"cadence/internal/logging"
)

const defaultMaxRetries = 3

// Enqueue admits a new waiting task.
func (s *Store) Enqueue(ctx context.Context, req EnqueueRequest) (*Task, error) {
	if err := validType(req.Type); err != nil {
		return nil, err
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	metadata, err := encodeMetadata(req.Metadata)
	if err != nil {
		return nil, err
	}

	res, err := s.db.Exec(
		ctx,
		`INSERT INTO queue_tasks (
            task_type, status, priority, owner_user, owner_project, metadata_json, max_retries, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.Type,
		StatusWaiting,
		req.Priority,
		strings.TrimSpace(req.Owner.User),
		strings.TrimSpace(req.Owner.Project),
		metadata,
		maxRetries,
		database.FormatTime(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s task: %w", req.Type, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	s.logger.Debug("task enqueued",
		logging.TaskID(id),
		logging.TaskType(req.Type),
		logging.Int("priority", req.Priority),
	)
	return s.Get(ctx, id)
}

// Get returns a task by id.
func (s *Store) Get(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM queue_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// List returns tasks matching filter, oldest first within priority.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Task, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Type != "" {
		clauses = append(clauses, "task_type = ?")
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if owner := strings.TrimSpace(filter.Owner); owner != "" {
		clauses = append(clauses, "(owner_user = ? OR owner_project = ?)")
		args = append(args, owner, owner)
	}
	query := `SELECT ` + taskColumns + ` FROM queue_tasks`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY priority DESC, created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, max(filter.Offset, 0))
	}
	return s.queryTasks(ctx, query, args...)
}

// WaitingForSchedule returns waiting tasks whose metadata references scheduleID.
func (s *Store) WaitingForSchedule(ctx context.Context, scheduleID int64) ([]*Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM queue_tasks
        WHERE status = ? AND json_extract(metadata_json, '$.schedule_id') = ?
        ORDER BY id ASC`,
		StatusWaiting, scheduleID,
	)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Position returns how many same-type waiting tasks will be served before id.
// ok is false when the task is not waiting.
func (s *Store) Position(ctx context.Context, id int64) (position int, ok bool, err error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return 0, false, err
	}
	if task.Status != StatusWaiting {
		return 0, false, nil
	}
	created := database.FormatTime(task.CreatedAt)
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_tasks
        WHERE task_type = ? AND status = ? AND id <> ?
          AND (priority > ? OR (priority = ? AND (created_at < ? OR (created_at = ? AND id < ?))))`,
		task.Type, StatusWaiting, task.ID,
		task.Priority, task.Priority, created, created, task.ID,
	).Scan(&position)
	if err != nil {
		return 0, false, fmt.Errorf("task position: %w", err)
	}
	return position, true, nil
}

// AppendLog appends a line to the task's log. Failures are logged, never returned.
func (s *Store) AppendLog(ctx context.Context, id int64, message string) {
	entry, err := json.Marshal(LogLine{Time: time.Now().UTC(), Message: message})
	if err != nil {
		return
	}
	if _, err := s.db.Exec(ctx,
		`UPDATE queue_tasks SET logs_json = json_insert(COALESCE(logs_json, '[]'), '$[#]', json(?)) WHERE id = ?`,
		string(entry), id,
	); err != nil {
		logging.WarnWithContext(s.logger, "append task log failed", "task_log_append_failed",
			logging.TaskID(id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database contention"),
			logging.String(logging.FieldImpact, "task log line dropped"),
		)
	}
}

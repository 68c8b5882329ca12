package queue

import (
	"database/sql"
	"fmt"
	"log/slog"

	"cadence/internal/database"
	"cadence/internal/logging"
)

// Store persists queue tasks and locks.
type Store struct {
	db     *database.DB
	logger *slog.Logger
}

// New returns a queue store backed by db.
func New(db *database.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{db: db, logger: logging.NewComponentLogger(logger, "queue")}
}

const taskColumns = `id, task_type, status, priority, owner_user, owner_project, metadata_json,
    logs_json, error_message, retry_count, max_retries, created_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(scanner rowScanner) (*Task, error) {
	var (
		task        Task
		taskType    string
		status      string
		metadata    sql.NullString
		logs        sql.NullString
		errMsg      sql.NullString
		createdAt   string
		startedAt   sql.NullString
		completedAt sql.NullString
	)
	if err := scanner.Scan(
		&task.ID,
		&taskType,
		&status,
		&task.Priority,
		&task.Owner.User,
		&task.Owner.Project,
		&metadata,
		&logs,
		&errMsg,
		&task.RetryCount,
		&task.MaxRetries,
		&createdAt,
		&startedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}
	task.Type = TaskType(taskType)
	task.Status = TaskStatus(status)
	meta, err := decodeMetadata(metadata.String)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", task.ID, err)
	}
	task.Metadata = meta
	task.Logs = decodeLogs(logs.String)
	task.ErrorMessage = errMsg.String
	task.CreatedAt = database.ParseTime(createdAt)
	task.StartedAt = database.TimePtr(startedAt)
	task.CompletedAt = database.TimePtr(completedAt)
	return &task, nil
}

func validType(t TaskType) error {
	for _, candidate := range AllTaskTypes {
		if t == candidate {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownTaskType, t)
}

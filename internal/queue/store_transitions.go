package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"cadence/internal/database"
	"cadence/internal/logging"
)

// Dequeue claims the next waiting task of type t and takes its lock. It returns
// nil without error when the lock is held or nothing is waiting. The whole
// check-select-mark-lock unit runs in one immediate transaction and is retried
// as a unit under contention.
func (s *Store) Dequeue(ctx context.Context, t TaskType) (*Task, error) {
	if err := validType(t); err != nil {
		return nil, err
	}
	var claimed *Task
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		claimed = nil

		var lockedBy sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT locked_by FROM queue_locks WHERE task_type = ?`, t,
		).Scan(&lockedBy); err != nil {
			return fmt.Errorf("read %s lock: %w", t, err)
		}
		if lockedBy.Valid {
			return nil
		}

		candidate, err := scanTask(tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM queue_tasks
            WHERE task_type = ? AND status = ?
            ORDER BY priority DESC, created_at ASC, id ASC
            LIMIT 1`,
			t, StatusWaiting,
		))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select next %s task: %w", t, err)
		}

		now := time.Now().UTC()
		stamp := database.FormatTime(now)
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_tasks SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
			StatusProcessing, stamp, candidate.ID, StatusWaiting,
		); err != nil {
			return fmt.Errorf("mark task processing: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE queue_locks SET locked_by = ?, locked_at = ?, worker_pid = ?
            WHERE task_type = ? AND locked_by IS NULL`,
			candidate.ID, stamp, os.Getpid(), t,
		)
		if err != nil {
			return fmt.Errorf("take %s lock: %w", t, err)
		}
		if n, err := res.RowsAffected(); err != nil || n != 1 {
			return ErrLockRace
		}

		candidate.Status = StatusProcessing
		candidate.StartedAt = &now
		claimed = candidate
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", t, err)
	}
	if claimed != nil {
		s.logger.Info("task dequeued",
			logging.TaskID(claimed.ID),
			logging.TaskType(t),
			logging.String(logging.FieldEventType, "task_dequeued"),
		)
	}
	return claimed, nil
}

// Complete marks a task completed and releases its lock if it holds it.
func (s *Store) Complete(ctx context.Context, id int64) error {
	return s.Finish(ctx, id, StatusCompleted, "")
}

// Fail marks a task failed with reason and releases its lock if it holds it.
func (s *Store) Fail(ctx context.Context, id int64, reason string) error {
	return s.Finish(ctx, id, StatusFailed, reason)
}

// Finish moves a processing task to a terminal status, then releases the
// type's lock only when it is still held by id. A task that is no longer
// processing, whether force-released, cancelled, already finished, or never
// dequeued, is left untouched and ErrNotProcessing is returned.
func (s *Store) Finish(ctx context.Context, id int64, status TaskStatus, reason string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish task %d: status %q is not terminal", id, status)
	}
	var finished, released bool
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		finished, released = false, false
		var taskType string
		if err := tx.QueryRowContext(ctx, `SELECT task_type FROM queue_tasks WHERE id = ?`, id).Scan(&taskType); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %d", ErrTaskNotFound, id)
			}
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE queue_tasks SET status = ?, error_message = ?, completed_at = ? WHERE id = ? AND status = ?`,
			status, database.NullableString(reason), database.FormatTime(time.Now()), id, StatusProcessing,
		)
		if err != nil {
			return fmt.Errorf("record terminal status: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return nil
		}
		finished = true
		res, err = tx.ExecContext(ctx,
			`UPDATE queue_locks SET locked_by = NULL, locked_at = NULL, worker_pid = NULL
            WHERE task_type = ? AND locked_by = ?`,
			taskType, id,
		)
		if err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
		n, _ := res.RowsAffected()
		released = n == 1
		return nil
	})
	if err != nil {
		return fmt.Errorf("finish task %d: %w", id, err)
	}
	if !finished {
		return fmt.Errorf("finish task %d as %s: %w", id, status, ErrNotProcessing)
	}
	if !released {
		s.logger.Debug("finish did not release lock; task was not the holder",
			logging.TaskID(id),
			logging.String("status", string(status)),
		)
	}
	return nil
}

// Cancel fails a waiting task. Waiting tasks never hold a lock, so locks are untouched.
func (s *Store) Cancel(ctx context.Context, id int64) error {
	res, err := s.db.Exec(ctx,
		`UPDATE queue_tasks SET status = ?, error_message = ?, completed_at = ? WHERE id = ? AND status = ?`,
		StatusFailed, CancelReason, database.FormatTime(time.Now()), id, StatusWaiting,
	)
	if err != nil {
		return fmt.Errorf("cancel task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %d", ErrNotCancellable, id)
}

// Requeue returns a failed task with retry budget to waiting and counts the retry.
func (s *Store) Requeue(ctx context.Context, id int64) (*Task, error) {
	res, err := s.db.Exec(ctx,
		`UPDATE queue_tasks
        SET status = ?, retry_count = retry_count + 1, error_message = NULL, started_at = NULL, completed_at = NULL
        WHERE id = ? AND status = ? AND retry_count < max_retries`,
		StatusWaiting, id, StatusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("requeue task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d", ErrNotRequeueable, id)
	}
	return s.Get(ctx, id)
}

// ForceRelease clears the lock for t regardless of holder and fails the holder
// if it is still processing. It reports whether a lock was held.
func (s *Store) ForceRelease(ctx context.Context, t TaskType) (bool, error) {
	if err := validType(t); err != nil {
		return false, err
	}
	var holder int64
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		holder = 0
		var lockedBy sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT locked_by FROM queue_locks WHERE task_type = ?`, t).Scan(&lockedBy); err != nil {
			return err
		}
		if !lockedBy.Valid {
			return nil
		}
		holder = lockedBy.Int64
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_locks SET locked_by = NULL, locked_at = NULL, worker_pid = NULL WHERE task_type = ?`, t,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE queue_tasks SET status = ?, error_message = ?, completed_at = ? WHERE id = ? AND status = ?`,
			StatusFailed, ForceReleaseReason, database.FormatTime(time.Now()), holder, StatusProcessing,
		)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("force release %s lock: %w", t, err)
	}
	if holder != 0 {
		logging.WarnWithContext(s.logger, "queue lock force-released", "lock_force_released",
			logging.TaskType(t),
			logging.TaskID(holder),
			logging.String(logging.FieldErrorHint, "requeue the task if the work should run again"),
			logging.String(logging.FieldImpact, "holder task marked failed"),
		)
	}
	return holder != 0, nil
}

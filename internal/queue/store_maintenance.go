package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"cadence/internal/database"
)

// DefaultStaleAfter is the processing age after which HealthCheck flags a task.
const DefaultStaleAfter = 10 * time.Minute

// HealthCheck flags tasks processing longer than staleAfter. It does not
// change them; recovery is an operator decision.
func (s *Store) HealthCheck(ctx context.Context, staleAfter time.Duration) (HealthReport, error) {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	now := time.Now().UTC()
	report := HealthReport{CheckedAt: now, StaleAfter: staleAfter}
	stuck, err := s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM queue_tasks
        WHERE status = ? AND started_at IS NOT NULL AND started_at < ?
        ORDER BY started_at ASC`,
		StatusProcessing, database.FormatTime(now.Add(-staleAfter)),
	)
	if err != nil {
		return report, fmt.Errorf("health check: %w", err)
	}
	report.Stuck = stuck
	return report, nil
}

// Cleanup deletes terminal tasks that finished more than olderThanDays ago.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, fmt.Errorf("cleanup: retention must be positive, got %d days", olderThanDays)
	}
	cutoff := time.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	res, err := s.db.Exec(ctx,
		`DELETE FROM queue_tasks WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		StatusCompleted, StatusFailed, database.FormatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Summary counts tasks per type and status.
func (s *Store) Summary(ctx context.Context) (Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_type, status, COUNT(*) FROM queue_tasks GROUP BY task_type, status`)
	if err != nil {
		return nil, fmt.Errorf("queue summary: %w", err)
	}
	defer rows.Close()

	summary := make(Summary, len(AllTaskTypes))
	for _, t := range AllTaskTypes {
		summary[t] = make(map[TaskStatus]int, len(AllStatuses))
	}
	for rows.Next() {
		var (
			taskType, status string
			count            int
		)
		if err := rows.Scan(&taskType, &status, &count); err != nil {
			return nil, err
		}
		if summary[TaskType(taskType)] == nil {
			summary[TaskType(taskType)] = make(map[TaskStatus]int)
		}
		summary[TaskType(taskType)][TaskStatus(status)] = count
	}
	return summary, rows.Err()
}

// Locks returns the lock table in task type order.
func (s *Store) Locks(ctx context.Context) ([]Lock, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT task_type, locked_by, locked_at, worker_pid FROM queue_locks ORDER BY task_type`)
	if err != nil {
		return nil, fmt.Errorf("read locks: %w", err)
	}
	defer rows.Close()

	var locks []Lock
	for rows.Next() {
		var (
			taskType string
			lockedBy sql.NullInt64
			lockedAt sql.NullString
			pid      sql.NullInt64
		)
		if err := rows.Scan(&taskType, &lockedBy, &lockedAt, &pid); err != nil {
			return nil, err
		}
		locks = append(locks, Lock{
			Type:      TaskType(taskType),
			TaskID:    lockedBy.Int64,
			LockedAt:  database.TimePtr(lockedAt),
			WorkerPID: int(pid.Int64),
		})
	}
	return locks, rows.Err()
}

// Lock returns the lock row for t.
func (s *Store) Lock(ctx context.Context, t TaskType) (Lock, error) {
	locks, err := s.Locks(ctx)
	if err != nil {
		return Lock{}, err
	}
	for _, lock := range locks {
		if lock.Type == t {
			return lock, nil
		}
	}
	return Lock{}, fmt.Errorf("%w: %q", ErrUnknownTaskType, t)
}

package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cadence/internal/database"
	"cadence/internal/logging"
)

// NewSchedule describes a schedule to attach to a title.
type NewSchedule struct {
	TitleID     int64
	ScheduledAt time.Time
	PublishAt   *time.Time
	Visibility  Visibility
}

// ScheduleFilter narrows ListSchedules.
type ScheduleFilter struct {
	Status  ScheduleStatus
	TitleID int64
	Limit   int
}

var activeScheduleStatuses = []any{SchedulePending, ScheduleProcessing, ScheduleWaitingForUpload}

// CreateSchedule attaches a schedule to a title and moves the title to
// scheduled. When the title already has an active schedule, that schedule is
// returned with created=false and nothing is inserted.
func (s *Store) CreateSchedule(ctx context.Context, req NewSchedule) (schedule *Schedule, created bool, err error) {
	if req.ScheduledAt.IsZero() {
		return nil, false, fmt.Errorf("%w: scheduled time is required", ErrInvalid)
	}
	if req.PublishAt != nil && req.PublishAt.Before(req.ScheduledAt) {
		return nil, false, fmt.Errorf("%w: publish time precedes execution time", ErrInvalid)
	}
	if _, err := s.GetTitle(ctx, req.TitleID); err != nil {
		return nil, false, err
	}
	if req.Visibility == "" {
		settings, err := s.LoadSettings(ctx)
		if err != nil {
			return nil, false, err
		}
		req.Visibility = settings.DefaultVisibility
	}
	if _, err := ParseVisibility(string(req.Visibility)); err != nil {
		return nil, false, err
	}

	var id int64
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		id, created = 0, false
		existing, err := activeScheduleID(ctx, tx, req.TitleID)
		if err != nil {
			return err
		}
		if existing != 0 {
			id = existing
			return nil
		}

		now := database.FormatTime(time.Now())
		res, err := tx.ExecContext(ctx,
			`INSERT INTO schedules (title_id, scheduled_at, publish_at, visibility, status, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?)`,
			req.TitleID,
			database.FormatTime(req.ScheduledAt),
			database.NullableTime(req.PublishAt),
			req.Visibility,
			SchedulePending,
			now,
			now,
		)
		if database.IsUniqueViolation(err) {
			existing, lookupErr := activeScheduleID(ctx, tx, req.TitleID)
			if lookupErr != nil {
				return lookupErr
			}
			id = existing
			return nil
		}
		if err != nil {
			return fmt.Errorf("insert schedule: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE titles SET status = ?, updated_at = ? WHERE id = ?`,
			TitleScheduled, now, req.TitleID,
		); err != nil {
			return fmt.Errorf("mark title scheduled: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !created {
		s.logger.Info("title already has an active schedule; returning it",
			logging.TitleID(req.TitleID),
			logging.ScheduleID(id),
			logging.String(logging.FieldEventType, "schedule_duplicate"),
		)
	}
	schedule, err = s.GetSchedule(ctx, id)
	return schedule, created, err
}

func activeScheduleID(ctx context.Context, tx *sql.Tx, titleID int64) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM schedules WHERE title_id = ? AND status IN (`+database.Placeholders(len(activeScheduleStatuses))+`)
        ORDER BY created_at DESC, id DESC LIMIT 1`,
		append([]any{titleID}, activeScheduleStatuses...)...,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find active schedule: %w", err)
	}
	return id, nil
}

// GetSchedule returns a schedule by id.
func (s *Store) GetSchedule(ctx context.Context, id int64) (*Schedule, error) {
	schedule, err := scanSchedule(s.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return schedule, nil
}

// ListSchedules returns schedules ordered by execution time.
func (s *Store) ListSchedules(ctx context.Context, filter ScheduleFilter) ([]*Schedule, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.TitleID != 0 {
		clauses = append(clauses, "title_id = ?")
		args = append(args, filter.TitleID)
	}
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY scheduled_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return s.querySchedules(ctx, query, args...)
}

// SchedulesByStatus returns every schedule in status, oldest execution time first.
func (s *Store) SchedulesByStatus(ctx context.Context, status ScheduleStatus) ([]*Schedule, error) {
	return s.ListSchedules(ctx, ScheduleFilter{Status: status})
}

// LatestScheduleForTitle returns the newest schedule for a title by creation time.
func (s *Store) LatestScheduleForTitle(ctx context.Context, titleID int64) (*Schedule, error) {
	schedule, err := scanSchedule(s.db.QueryRowContext(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE title_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		titleID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule for title %d: %w", titleID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest schedule: %w", err)
	}
	return schedule, nil
}

// DueSchedules returns pending schedules whose execution time is at or before
// now, joined with their titles, highest title priority first.
func (s *Store) DueSchedules(ctx context.Context, now time.Time) ([]DueSchedule, error) {
	schedules, err := s.querySchedules(ctx,
		`SELECT `+prefixColumns("s", scheduleColumns)+`
        FROM schedules s JOIN titles t ON t.id = s.title_id
        WHERE s.status = ? AND s.scheduled_at <= ?
        ORDER BY t.priority DESC, s.scheduled_at ASC, s.id ASC`,
		SchedulePending, database.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("due schedules: %w", err)
	}

	titles := make(map[int64]*Title, len(schedules))
	due := make([]DueSchedule, 0, len(schedules))
	for _, schedule := range schedules {
		title, ok := titles[schedule.TitleID]
		if !ok {
			if title, err = s.GetTitle(ctx, schedule.TitleID); err != nil {
				return nil, err
			}
			titles[schedule.TitleID] = title
		}
		due = append(due, DueSchedule{Schedule: schedule, Title: title})
	}
	return due, nil
}

// ClaimSchedule moves a schedule from pending to processing and stamps runID.
// It reports false when another caller claimed it first.
func (s *Store) ClaimSchedule(ctx context.Context, id int64, runID string) (bool, error) {
	res, err := s.db.Exec(ctx,
		`UPDATE schedules SET status = ?, run_id = ?, error_message = NULL, updated_at = ?
        WHERE id = ? AND status = ?`,
		ScheduleProcessing, runID, database.FormatTime(time.Now()), id, SchedulePending,
	)
	if err != nil {
		return false, fmt.Errorf("claim schedule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected: %w", err)
	}
	return n == 1, nil
}

// ResumeSchedule moves a schedule from waiting_for_upload back to processing,
// along with its title. It reports false when the schedule was not waiting.
func (s *Store) ResumeSchedule(ctx context.Context, id int64) (bool, error) {
	var resumed bool
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		resumed = false
		now := database.FormatTime(time.Now())
		res, err := tx.ExecContext(ctx,
			`UPDATE schedules SET status = ?, error_message = NULL, updated_at = ? WHERE id = ? AND status = ?`,
			ScheduleProcessing, now, id, ScheduleWaitingForUpload,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE titles SET status = ?, updated_at = ? WHERE id = (SELECT title_id FROM schedules WHERE id = ?)`,
			TitleProcessing, now, id,
		); err != nil {
			return err
		}
		resumed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("resume schedule: %w", err)
	}
	return resumed, nil
}

// TransitionSchedule moves a processing schedule to status with the given
// error text and mirrors titleStatus onto its title in one transaction. A
// schedule that is no longer processing, for instance one stopped by an
// operator, is left alone and ErrScheduleNotProcessing is returned.
func (s *Store) TransitionSchedule(ctx context.Context, id int64, status ScheduleStatus, titleStatus TitleStatus, errMsg string) error {
	var moved bool
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		moved = false
		now := database.FormatTime(time.Now())
		res, err := tx.ExecContext(ctx,
			`UPDATE schedules SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = ?`,
			status, database.NullableString(errMsg), now, id, ScheduleProcessing,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE titles SET status = ?, updated_at = ? WHERE id = (SELECT title_id FROM schedules WHERE id = ?)`,
			titleStatus, now, id,
		); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("transition schedule %d to %s: %w", id, status, err)
	}
	if moved {
		return nil
	}
	if _, err := s.GetSchedule(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("transition schedule %d to %s: %w", id, status, ErrScheduleNotProcessing)
}

// CancelSchedule cancels a pending schedule and returns its title to pending.
func (s *Store) CancelSchedule(ctx context.Context, id int64) error {
	return s.cancelFrom(ctx, id, SchedulePending, ErrScheduleNotPending)
}

// CancelWaitingSchedule cancels a schedule parked for manual upload. Callers
// must first cancel the schedule's waiting media task.
func (s *Store) CancelWaitingSchedule(ctx context.Context, id int64) error {
	return s.cancelFrom(ctx, id, ScheduleWaitingForUpload, ErrScheduleNotWaiting)
}

func (s *Store) cancelFrom(ctx context.Context, id int64, from ScheduleStatus, notInState error) error {
	var cancelled bool
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		cancelled = false
		now := database.FormatTime(time.Now())
		res, err := tx.ExecContext(ctx,
			`UPDATE schedules SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			ScheduleCancelled, now, id, from,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE titles SET status = ?, updated_at = ? WHERE id = (SELECT title_id FROM schedules WHERE id = ?)`,
			TitlePending, now, id,
		); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("cancel schedule: %w", err)
	}
	if cancelled {
		return nil
	}
	if _, err := s.GetSchedule(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("schedule %d: %w", id, notInState)
}

// SetScriptRef records the script stage output.
func (s *Store) SetScriptRef(ctx context.Context, id int64, ref string) error {
	return s.setColumns(ctx, id, "script_ref = ?", ref)
}

// SetVideoRef records the render stage output.
func (s *Store) SetVideoRef(ctx context.Context, id int64, ref string) error {
	return s.setColumns(ctx, id, "video_ref = ?", ref)
}

// SetUploadRef records the upload stage output.
func (s *Store) SetUploadRef(ctx context.Context, id int64, ref, url string) error {
	return s.setColumns(ctx, id, "upload_ref = ?, published_url = ?", ref, database.NullableString(url))
}

// SetProjectDir records where the working project artifact lives.
func (s *Store) SetProjectDir(ctx context.Context, id int64, dir string) error {
	return s.setColumns(ctx, id, "project_dir = ?", database.NullableString(dir))
}

// SetDerivative records a requested derivative job and the parent's published URL.
func (s *Store) SetDerivative(ctx context.Context, id int64, jobID, parentURL string) error {
	return s.setColumns(ctx, id, "derivative_job_id = ?, parent_url = ?, derivative_state = ?",
		jobID, database.NullableString(parentURL), DerivativeRequested)
}

// SetDerivativeState updates the chained derivative's state.
func (s *Store) SetDerivativeState(ctx context.Context, id int64, state DerivativeState) error {
	return s.setColumns(ctx, id, "derivative_state = ?", state)
}

func (s *Store) setColumns(ctx context.Context, id int64, assignments string, values ...any) error {
	args := append(values, database.FormatTime(time.Now()), id)
	res, err := s.db.Exec(ctx, `UPDATE schedules SET `+assignments+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update schedule %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return nil
}

// StaleSchedules returns processing schedules that have not been touched
// since idleSince. A live pipeline heartbeats its schedule, so these are runs
// whose process stopped mid-stage.
func (s *Store) StaleSchedules(ctx context.Context, idleSince time.Time) ([]*Schedule, error) {
	return s.querySchedules(ctx,
		`SELECT `+scheduleColumns+` FROM schedules
        WHERE status = ? AND updated_at < ?
        ORDER BY updated_at ASC`,
		ScheduleProcessing, database.FormatTime(idleSince),
	)
}

// ClaimStale takes over a stale processing schedule by bumping updated_at.
// Only one caller can win, since the row stops matching once touched.
func (s *Store) ClaimStale(ctx context.Context, id int64, idleSince time.Time) (bool, error) {
	res, err := s.db.Exec(ctx,
		`UPDATE schedules SET updated_at = ? WHERE id = ? AND status = ? AND updated_at < ?`,
		database.FormatTime(time.Now()), id, ScheduleProcessing, database.FormatTime(idleSince),
	)
	if err != nil {
		return false, fmt.Errorf("claim stale schedule %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim stale schedule %d: %w", id, err)
	}
	return n == 1, nil
}

// TouchSchedule bumps a processing schedule's updated_at. It reports false
// when the schedule is no longer processing.
func (s *Store) TouchSchedule(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.Exec(ctx,
		`UPDATE schedules SET updated_at = ? WHERE id = ? AND status = ?`,
		database.FormatTime(time.Now()), id, ScheduleProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("touch schedule %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// StopSchedule fails a processing schedule on operator request. The first
// unfinished stage run is marked failed with reason and the title is marked
// failed, which frees it for a new schedule. The stopped stage is returned,
// empty when no stage run was unfinished.
func (s *Store) StopSchedule(ctx context.Context, id int64, reason string) (Stage, error) {
	var (
		stopped bool
		stage   Stage
	)
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		stopped, stage = false, ""
		now := database.FormatTime(time.Now())
		res, err := tx.ExecContext(ctx,
			`UPDATE schedules SET status = ?, error_message = ?, updated_at = ? WHERE id = ? AND status = ?`,
			ScheduleFailed, reason, now, id, ScheduleProcessing,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return nil
		}

		var (
			runID int64
			name  string
		)
		err = tx.QueryRowContext(ctx,
			`SELECT id, stage FROM pipeline_runs WHERE schedule_id = ? AND status <> ?
            ORDER BY `+stageOrder+` LIMIT 1`,
			id, StageCompleted,
		).Scan(&runID, &name)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		default:
			if _, err := tx.ExecContext(ctx,
				`UPDATE pipeline_runs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
				StageFailed, reason, now, runID,
			); err != nil {
				return err
			}
			stage = Stage(name)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE titles SET status = ?, updated_at = ? WHERE id = (SELECT title_id FROM schedules WHERE id = ?)`,
			TitleFailed, now, id,
		); err != nil {
			return err
		}
		stopped = true
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("stop schedule: %w", err)
	}
	if stopped {
		return stage, nil
	}
	if _, err := s.GetSchedule(ctx, id); err != nil {
		return "", err
	}
	return "", fmt.Errorf("schedule %d: %w", id, ErrScheduleNotProcessing)
}

// ClaimDerivativeUpload moves a requested derivative to uploading. Only the
// caller that gets true may upload it.
func (s *Store) ClaimDerivativeUpload(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.Exec(ctx,
		`UPDATE schedules SET derivative_state = ?, updated_at = ? WHERE id = ? AND derivative_state = ?`,
		DerivativeUploading, database.FormatTime(time.Now()), id, DerivativeRequested,
	)
	if err != nil {
		return false, fmt.Errorf("claim derivative upload %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim derivative upload %d: %w", id, err)
	}
	return n == 1, nil
}

// PendingDerivatives returns schedules whose chained derivative job has been
// requested but not yet uploaded.
func (s *Store) PendingDerivatives(ctx context.Context) ([]*Schedule, error) {
	return s.querySchedules(ctx,
		`SELECT `+scheduleColumns+` FROM schedules
        WHERE derivative_state = ? AND COALESCE(derivative_job_id, '') <> ''
        ORDER BY updated_at ASC`,
		DerivativeRequested,
	)
}

func (s *Store) querySchedules(ctx context.Context, query string, args ...any) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

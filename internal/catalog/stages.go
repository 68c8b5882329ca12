package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cadence/internal/database"
	"cadence/internal/logging"
)

// stageOrder sorts pipeline_runs rows into execution order.
const stageOrder = `CASE stage WHEN 'script' THEN 0 WHEN 'video' THEN 1 WHEN 'upload' THEN 2 ELSE 3 END`

// EnsureStageRuns creates the four stage runs for a schedule. A stage that
// already has a row (for instance from a racing claim) is reused, never
// duplicated, so the result always holds exactly one run per stage.
func (s *Store) EnsureStageRuns(ctx context.Context, scheduleID int64) ([]*StageRun, error) {
	runs := make([]*StageRun, 0, len(Stages))
	for _, stage := range Stages {
		run, err := s.ensureStageRun(ctx, scheduleID, stage)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *Store) ensureStageRun(ctx context.Context, scheduleID int64, stage Stage) (*StageRun, error) {
	_, err := s.db.Exec(ctx,
		`INSERT INTO pipeline_runs (schedule_id, stage, status, created_at) VALUES (?, ?, ?, ?)`,
		scheduleID, stage, StagePending, database.FormatTime(time.Now()),
	)
	switch {
	case err == nil:
	case database.IsUniqueViolation(err):
		s.logger.Debug("stage run already exists; reusing",
			logging.ScheduleID(scheduleID),
			logging.String(logging.FieldStage, string(stage)),
		)
	default:
		return nil, fmt.Errorf("create %s stage run: %w", stage, err)
	}
	return s.StageRun(ctx, scheduleID, stage)
}

// StageRun returns the run for one stage of a schedule.
func (s *Store) StageRun(ctx context.Context, scheduleID int64, stage Stage) (*StageRun, error) {
	run, err := scanStageRun(s.db.QueryRowContext(ctx,
		`SELECT `+stageRunColumns+` FROM pipeline_runs WHERE schedule_id = ? AND stage = ?`,
		scheduleID, stage,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s stage of schedule %d: %w", stage, scheduleID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get stage run: %w", err)
	}
	return run, nil
}

// StageRuns returns a schedule's stage runs in execution order.
func (s *Store) StageRuns(ctx context.Context, scheduleID int64) ([]*StageRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stageRunColumns+` FROM pipeline_runs WHERE schedule_id = ? ORDER BY `+stageOrder,
		scheduleID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stage runs: %w", err)
	}
	defer rows.Close()

	var runs []*StageRun
	for rows.Next() {
		run, err := scanStageRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkStageRunning stamps the start of a stage attempt sequence.
func (s *Store) MarkStageRunning(ctx context.Context, runID int64) error {
	return s.updateStageRun(ctx, runID,
		`status = ?, error_message = NULL, started_at = ?, completed_at = NULL`,
		StageRunning, database.FormatTime(time.Now()),
	)
}

// RecordStageAttemptFailure counts one failed attempt and keeps its error text.
func (s *Store) RecordStageAttemptFailure(ctx context.Context, runID int64, errMsg string) error {
	return s.updateStageRun(ctx, runID, `retry_count = retry_count + 1, error_message = ?`, errMsg)
}

// MarkStageCompleted finishes a stage successfully.
func (s *Store) MarkStageCompleted(ctx context.Context, runID int64) error {
	return s.updateStageRun(ctx, runID,
		`status = ?, error_message = NULL, completed_at = ?`,
		StageCompleted, database.FormatTime(time.Now()),
	)
}

// MarkStageFailed finishes a stage with a terminal error.
func (s *Store) MarkStageFailed(ctx context.Context, runID int64, errMsg string) error {
	return s.updateStageRun(ctx, runID,
		`status = ?, error_message = ?, completed_at = ?`,
		StageFailed, errMsg, database.FormatTime(time.Now()),
	)
}

// ResetStagePending returns a stage to pending so it runs again on resume.
func (s *Store) ResetStagePending(ctx context.Context, runID int64) error {
	return s.updateStageRun(ctx, runID, `status = ?, started_at = NULL, completed_at = NULL`, StagePending)
}

func (s *Store) updateStageRun(ctx context.Context, runID int64, assignments string, values ...any) error {
	res, err := s.db.Exec(ctx, `UPDATE pipeline_runs SET `+assignments+` WHERE id = ?`, append(values, runID)...)
	if err != nil {
		return fmt.Errorf("update stage run %d: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stage run %d: %w", runID, ErrNotFound)
	}
	return nil
}

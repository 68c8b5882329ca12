package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"cadence/internal/catalog"
	"cadence/internal/logging"
	"cadence/internal/pipeline"
)

// TickReport summarizes what one tick did.
type TickReport struct {
	Seq         int64
	Skipped     bool
	Claimed     int
	Resumed     int
	Recovered   int
	Derivatives int
	Dispatched  int
	Maintenance bool
}

// Tick runs one poll iteration. When another tick is still in flight it
// returns immediately with Skipped set.
func (s *Scheduler) Tick(ctx context.Context) (report TickReport) {
	if !s.ticking.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Info("tick skipped; previous tick still running",
			logging.String(logging.FieldEventType, "tick_skipped"),
		)
		return TickReport{Skipped: true}
	}
	defer s.ticking.Store(false)

	report.Seq = s.seq.Add(1)
	logger := s.logger.With(logging.Args(logging.Int64("tick", report.Seq))...)
	defer func() {
		if r := recover(); r != nil {
			s.setLastError(fmt.Errorf("tick panic: %v", r))
			logging.ErrorWithContext(logger, "tick panicked", "tick_panic",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldErrorHint, "report the stack trace; the next tick will run normally"),
			)
		}
	}()
	if s.beforeTick != nil {
		s.beforeTick()
	}

	now := s.now()
	s.mu.Lock()
	s.lastTick = now
	s.mu.Unlock()

	settings, err := s.catalog.LoadSettings(ctx)
	if err != nil {
		s.setLastError(err)
		logging.WarnWithContext(logger, "load automation settings failed", "settings_load_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database access"),
			logging.String(logging.FieldImpact, "tick skipped"),
		)
		return report
	}

	if settings.Enabled {
		report.Claimed = s.claimDue(ctx, logger, now)
	} else {
		logger.Debug("automation disabled; not claiming", logging.String(logging.FieldEventType, "claim_disabled"))
	}
	report.Resumed = s.resumeWaiting(ctx, logger)
	report.Derivatives = s.finishDerivatives(ctx, logger)
	report.Recovered = s.recoverStale(ctx, logger, now)
	report.Dispatched = s.dispatch(ctx, logger)
	report.Maintenance = s.maintain(ctx, logger, now)
	return report
}

func (s *Scheduler) claimDue(ctx context.Context, logger *slog.Logger, now time.Time) int {
	due, err := s.catalog.DueSchedules(ctx, now)
	if err != nil {
		s.pollFailed(logger, "due schedules", err)
		return 0
	}
	claimed := 0
	for _, item := range due {
		if ctx.Err() != nil {
			break
		}
		runID := uuid.NewString()
		won, err := s.catalog.ClaimSchedule(ctx, item.Schedule.ID, runID)
		if err != nil {
			s.pollFailed(logger, "claim schedule", err)
			continue
		}
		if !won {
			logger.Debug("schedule already claimed", logging.ScheduleID(item.Schedule.ID))
			continue
		}
		if _, err := s.catalog.EnsureStageRuns(ctx, item.Schedule.ID); err != nil {
			s.pollFailed(logger, "create stage runs", err)
		}
		if err := s.catalog.UpdateTitleStatus(ctx, item.Title.ID, catalog.TitleProcessing); err != nil {
			s.pollFailed(logger, "mark title processing", err)
		}
		s.catalog.AppendTitleLog(ctx, item.Title.ID, catalog.LevelInfo, fmt.Sprintf("Schedule #%d claimed", item.Schedule.ID))
		logger.Info("schedule claimed",
			logging.ScheduleID(item.Schedule.ID),
			logging.TitleID(item.Title.ID),
			logging.String(logging.FieldRunID, runID),
			logging.String(logging.FieldEventType, "schedule_claimed"),
		)
		s.exec.Start(item.Schedule.ID, catalog.StageScript)
		claimed++
	}
	return claimed
}

func (s *Scheduler) resumeWaiting(ctx context.Context, logger *slog.Logger) int {
	waiting, err := s.catalog.SchedulesByStatus(ctx, catalog.ScheduleWaitingForUpload)
	if err != nil {
		s.pollFailed(logger, "waiting schedules", err)
		return 0
	}
	resumed := 0
	for _, schedule := range waiting {
		ready, err := pipeline.HasMediaAssets(schedule.ProjectDir)
		if err != nil {
			s.pollFailed(logger, "inspect project dir", err)
			continue
		}
		if !ready {
			continue
		}
		ok, err := s.exec.Resume(ctx, schedule.ID)
		if err != nil {
			s.pollFailed(logger, "resume schedule", err)
			continue
		}
		if ok {
			s.catalog.AppendTitleLog(ctx, schedule.TitleID, catalog.LevelInfo, "Media assets detected; resuming at video stage")
			resumed++
		}
	}
	return resumed
}

func (s *Scheduler) finishDerivatives(ctx context.Context, logger *slog.Logger) int {
	pending, err := s.catalog.PendingDerivatives(ctx)
	if err != nil {
		s.pollFailed(logger, "pending derivatives", err)
		return 0
	}
	checked := 0
	for _, schedule := range pending {
		if err := s.exec.CompleteDerivative(ctx, schedule); err != nil {
			logging.WarnWithContext(logger, "derivative poll failed", "derivative_poll_failed",
				logging.ScheduleID(schedule.ID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the derivative service"),
				logging.String(logging.FieldImpact, "retried next tick"),
			)
			continue
		}
		checked++
	}
	return checked
}

// recoverStale restarts processing schedules whose pipeline stopped without
// finishing, whether from a crash or a shutdown mid-stage. Each is claimed
// with a conditional update first so only one instance restarts it.
func (s *Scheduler) recoverStale(ctx context.Context, logger *slog.Logger, now time.Time) int {
	idleSince := now.Add(-s.cfg.RecoveryGrace())
	stale, err := s.catalog.StaleSchedules(ctx, idleSince)
	if err != nil {
		s.pollFailed(logger, "stale schedules", err)
		return 0
	}
	recovered := 0
	for _, schedule := range stale {
		if ctx.Err() != nil {
			break
		}
		if s.exec.Active(schedule.ID) {
			continue
		}
		won, err := s.catalog.ClaimStale(ctx, schedule.ID, idleSince)
		if err != nil {
			s.pollFailed(logger, "claim stale schedule", err)
			continue
		}
		if !won {
			logger.Debug("stale schedule already reclaimed", logging.ScheduleID(schedule.ID))
			continue
		}
		stage, err := s.resumePoint(ctx, schedule.ID)
		if err != nil {
			s.pollFailed(logger, "load stage runs", err)
			continue
		}
		if s.exec.Start(schedule.ID, stage) {
			s.catalog.AppendTitleLog(ctx, schedule.TitleID, catalog.LevelWarn,
				fmt.Sprintf("Schedule #%d recovered at %s stage", schedule.ID, stage))
			logger.Info("recovering stale schedule",
				logging.ScheduleID(schedule.ID),
				logging.String(logging.FieldStage, string(stage)),
				logging.String(logging.FieldEventType, "schedule_recovered"),
			)
			recovered++
		}
	}
	return recovered
}

// resumePoint returns the first stage that has not completed. A schedule
// whose stages all completed resumes at publish, which only finalizes it.
func (s *Scheduler) resumePoint(ctx context.Context, scheduleID int64) (catalog.Stage, error) {
	runs, err := s.catalog.EnsureStageRuns(ctx, scheduleID)
	if err != nil {
		return "", err
	}
	for _, run := range runs {
		if run.Status != catalog.StageCompleted {
			return run.Stage, nil
		}
	}
	return catalog.StagePublish, nil
}

func (s *Scheduler) pollFailed(logger *slog.Logger, what string, err error) {
	s.setLastError(err)
	logging.WarnWithContext(logger, what+" failed", "poll_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check database access"),
		logging.String(logging.FieldImpact, "retried next tick"),
	)
}

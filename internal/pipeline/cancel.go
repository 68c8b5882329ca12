package pipeline

import (
	"context"
	"errors"
	"fmt"

	"cadence/internal/catalog"
	"cadence/internal/logging"
	"cadence/internal/queue"
)

// ErrNotCancellable is returned when a schedule is past the point where it
// can be cancelled.
var ErrNotCancellable = errors.New("schedule cannot be cancelled")

// CancelSchedule cancels a pending schedule, or a waiting one whose queued
// media tasks have not started. The title goes back to pending.
func (e *Executor) CancelSchedule(ctx context.Context, scheduleID int64) error {
	schedule, err := e.catalog.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	switch schedule.Status {
	case catalog.SchedulePending:
		err = e.catalog.CancelSchedule(ctx, scheduleID)
	case catalog.ScheduleWaitingForUpload:
		err = e.cancelWaiting(ctx, schedule)
	default:
		return fmt.Errorf("%w: status is %s", ErrNotCancellable, schedule.Status)
	}
	if err != nil {
		return err
	}
	e.catalog.AppendTitleLog(ctx, schedule.TitleID, catalog.LevelInfo, fmt.Sprintf("Schedule #%d cancelled", scheduleID))
	e.logger.Info("schedule cancelled",
		logging.ScheduleID(scheduleID),
		logging.String("previous_status", string(schedule.Status)),
		logging.String(logging.FieldEventType, "schedule_cancelled"),
	)
	return nil
}

func (e *Executor) cancelWaiting(ctx context.Context, schedule *catalog.Schedule) error {
	if e.queue == nil {
		return fmt.Errorf("%w: no queue available", ErrNotCancellable)
	}
	tasks, err := e.queue.WaitingForSchedule(ctx, schedule.ID)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return fmt.Errorf("%w: no waiting media task", ErrNotCancellable)
	}
	for _, task := range tasks {
		if err := e.queue.Cancel(ctx, task.ID); err != nil && !errors.Is(err, queue.ErrNotCancellable) {
			return err
		}
	}
	return e.catalog.CancelWaitingSchedule(ctx, schedule.ID)
}

// StopSchedule fails a processing schedule whose pipeline is stuck or no
// longer wanted. The unfinished stage is recorded as failed, a run active in
// this process is cancelled, and the title is freed for a new schedule. Runs
// on other instances notice at their next heartbeat.
func (e *Executor) StopSchedule(ctx context.Context, scheduleID int64) error {
	schedule, err := e.catalog.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	stage, err := e.catalog.StopSchedule(ctx, scheduleID, ErrStopped.Error())
	if err != nil {
		return err
	}
	wasActive := e.interrupt(scheduleID, ErrStopped)

	message := fmt.Sprintf("Schedule #%d stopped by operator", scheduleID)
	if stage != "" {
		message = fmt.Sprintf("Schedule #%d stopped by operator at %s stage", scheduleID, stage)
	}
	e.catalog.AppendTitleLog(ctx, schedule.TitleID, catalog.LevelWarn, message)
	e.logger.Info("schedule stopped",
		logging.ScheduleID(scheduleID),
		logging.String(logging.FieldStage, string(stage)),
		logging.Bool("was_active", wasActive),
		logging.String(logging.FieldEventType, "schedule_stopped"),
	)
	return nil
}

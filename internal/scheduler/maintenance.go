package scheduler

import (
	"context"
	"log/slog"
	"time"

	"cadence/internal/logging"
	"cadence/internal/notifications"
)

// maintain runs the queue health check and retention cleanup once per
// maintenance interval. It reports whether it ran.
func (s *Scheduler) maintain(ctx context.Context, logger *slog.Logger, now time.Time) bool {
	s.mu.Lock()
	due := s.lastMaintenance.IsZero() || now.Sub(s.lastMaintenance) >= s.cfg.MaintenanceInterval()
	if due {
		s.lastMaintenance = now
	}
	s.mu.Unlock()
	if !due {
		return false
	}
	s.checkHealth(ctx, logger)

	removed, err := s.queue.Cleanup(ctx, s.cfg.Queue.RetentionDays)
	if err != nil {
		s.pollFailed(logger, "queue cleanup", err)
	} else if removed > 0 {
		logger.Info("queue cleanup removed finished tasks",
			logging.Int64("removed", removed),
			logging.Int("retention_days", s.cfg.Queue.RetentionDays),
			logging.String(logging.FieldEventType, "queue_cleanup"),
		)
	}
	return true
}

func (s *Scheduler) checkHealth(ctx context.Context, logger *slog.Logger) {
	report, err := s.queue.HealthCheck(ctx, s.cfg.QueueStaleAfter())
	if err != nil {
		s.pollFailed(logger, "queue health check", err)
		return
	}
	if report.Healthy() {
		return
	}
	for _, task := range report.Stuck {
		logger.Error("queue task stuck in processing",
			logging.TaskID(task.ID),
			logging.TaskType(task.Type),
			logging.Duration("stale_after", report.StaleAfter),
			logging.Alert("queue_stuck"),
			logging.String(logging.FieldEventType, "queue_task_stuck"),
			logging.String(logging.FieldErrorHint, "cadence queue release <type> clears the lock"),
		)
	}
	if err := s.notifier.Publish(ctx, notifications.EventStuckTasks, notifications.Payload{
		"count": len(report.Stuck),
	}); err != nil {
		logger.Debug("stuck task notification failed", logging.Error(err))
	}
}

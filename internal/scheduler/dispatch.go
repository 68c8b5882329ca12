package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cadence/internal/logging"
	"cadence/internal/queue"
	"cadence/internal/services"
)

// dispatch hands at most one task per registered type to its handler. The
// queue's per-type lock keeps a second task of the same type from starting
// until the first one finishes.
func (s *Scheduler) dispatch(ctx context.Context, logger *slog.Logger) int {
	s.mu.RLock()
	handlers := make(map[queue.TaskType]TaskHandler, len(s.handlers))
	for t, h := range s.handlers {
		handlers[t] = h
	}
	s.mu.RUnlock()

	started := 0
	for _, t := range queue.AllTaskTypes {
		handler, ok := handlers[t]
		if !ok {
			continue
		}
		task, err := s.queue.Dequeue(ctx, t)
		if errors.Is(err, queue.ErrLockRace) {
			logger.Debug("queue lock taken by another worker", logging.TaskType(t))
			continue
		}
		if err != nil {
			s.pollFailed(logger, "dequeue", err)
			continue
		}
		if task == nil {
			continue
		}
		s.taskWG.Add(1)
		s.tasks.Add(1)
		go func() {
			defer s.taskWG.Done()
			defer s.tasks.Add(-1)
			s.runTask(ctx, handler, task)
		}()
		started++
	}
	return started
}

func (s *Scheduler) runTask(ctx context.Context, handler TaskHandler, task *queue.Task) {
	ctx = services.WithTaskID(ctx, task.ID)
	logger := logging.WithContext(ctx, s.logger).With(logging.Args(logging.TaskType(task.Type))...)
	logger.Info("queue task started", logging.String(logging.FieldEventType, "task_start"))

	err := invoke(ctx, handler, task)
	// Bookkeeping must land even when shutdown cancelled the handler.
	ctx = context.WithoutCancel(ctx)
	if err == nil {
		if err := s.queue.Complete(ctx, task.ID); err != nil {
			if errors.Is(err, queue.ErrNotProcessing) {
				logging.WarnWithContext(logger, "queue task finished after it was released", "task_finish_stale",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "the lock was force-released while the handler ran"),
					logging.String(logging.FieldImpact, "task keeps its released status"),
				)
				return
			}
			s.pollFailed(logger, "complete task", err)
			return
		}
		logger.Info("queue task completed", logging.String(logging.FieldEventType, "task_complete"))
		return
	}

	if failErr := s.queue.Fail(ctx, task.ID, err.Error()); failErr != nil {
		if errors.Is(failErr, queue.ErrNotProcessing) {
			logger.Info("queue task already released; failure not recorded", logging.Error(err))
			return
		}
		s.pollFailed(logger, "fail task", failErr)
		return
	}
	failed, getErr := s.queue.Get(ctx, task.ID)
	if getErr == nil && services.Retryable(err) && failed.CanRetry() {
		if _, reqErr := s.queue.Requeue(ctx, task.ID); reqErr == nil {
			logging.WarnWithContext(logger, "queue task failed; requeued", "task_requeued",
				logging.Error(err),
				logging.Int("retry_count", failed.RetryCount+1),
				logging.Int("max_retries", failed.MaxRetries),
				logging.String(logging.FieldErrorHint, "check the asset crawler"),
				logging.String(logging.FieldImpact, "task will run again"),
			)
			return
		}
	}
	logging.WarnWithContext(logger, "queue task failed", "task_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "inspect the task logs with cadence queue list"),
		logging.String(logging.FieldImpact, "no automatic asset discovery for this project"),
	)
}

func invoke(ctx context.Context, handler TaskHandler, task *queue.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panic: %v", r)
		}
	}()
	return handler(ctx, task)
}

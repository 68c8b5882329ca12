package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cadence/internal/catalog"
	"cadence/internal/config"
	"cadence/internal/logging"
	"cadence/internal/notifications"
	"cadence/internal/queue"
	"cadence/internal/services"
)

var (
	// ErrAlreadyRunning is returned by Run when this process is already driving the schedule.
	ErrAlreadyRunning = errors.New("schedule already running in this process")
	// ErrStopped is the cause attached to a run that was stopped by an operator.
	ErrStopped = errors.New("stopped by operator")
)

// StageError reports the stage at which a schedule failed. The failure has
// already been recorded and notified when it is returned.
type StageError struct {
	ScheduleID int64
	Stage      catalog.Stage
	Err        error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("schedule %d failed at %s: %v", e.ScheduleID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Executor drives schedules through their stages.
type Executor struct {
	cfg      *config.Config
	catalog  *catalog.Store
	queue    *queue.Store
	collab   Collaborators
	notifier notifications.Service
	logger   *slog.Logger

	mu        sync.Mutex
	active    map[int64]context.CancelCauseFunc
	lifecycle context.Context
	wg        sync.WaitGroup
}

// NewExecutor constructs an executor. A nil notifier drops events.
func NewExecutor(cfg *config.Config, cat *catalog.Store, q *queue.Store, collab Collaborators, notifier notifications.Service, logger *slog.Logger) *Executor {
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		cfg:       cfg,
		catalog:   cat,
		queue:     q,
		collab:    collab,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(logger, "pipeline"),
		active:    make(map[int64]context.CancelCauseFunc),
		lifecycle: context.Background(),
	}
}

// Attach sets the context that bounds pipelines launched with Start.
func (e *Executor) Attach(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lifecycle = ctx
}

// Start drives a schedule from the given stage in the background. It reports
// false without doing anything when the schedule is already active here.
func (e *Executor) Start(scheduleID int64, from catalog.Stage) bool {
	e.mu.Lock()
	parent := e.lifecycle
	e.mu.Unlock()

	ctx, cancel := context.WithCancelCause(parent)
	if !e.acquire(scheduleID, cancel) {
		cancel(nil)
		return false
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.release(scheduleID)
		defer func() {
			if r := recover(); r != nil {
				logging.ErrorWithContext(e.logger, "pipeline panicked", "pipeline_panic",
					logging.ScheduleID(scheduleID),
					logging.Any("panic", r),
					logging.String(logging.FieldErrorHint, "inspect the stack; recovery restarts the schedule, or run 'cadence schedule stop' to fail it"),
				)
			}
		}()
		_ = e.run(ctx, scheduleID, from)
	}()
	return true
}

// Run drives a schedule from the given stage and returns when it completes,
// parks, or fails. Failures come back as *StageError.
func (e *Executor) Run(ctx context.Context, scheduleID int64, from catalog.Stage) error {
	ctx, cancel := context.WithCancelCause(ctx)
	if !e.acquire(scheduleID, cancel) {
		cancel(nil)
		return ErrAlreadyRunning
	}
	defer e.release(scheduleID)
	return e.run(ctx, scheduleID, from)
}

// Resume moves a schedule parked in waiting_for_upload back to processing and
// restarts it at the video stage. It reports false when the schedule was not
// waiting (another caller resumed it first, or it was never parked).
func (e *Executor) Resume(ctx context.Context, scheduleID int64) (bool, error) {
	resumed, err := e.catalog.ResumeSchedule(ctx, scheduleID)
	if err != nil || !resumed {
		return false, err
	}
	e.logger.Info("schedule resumed for media stage",
		logging.ScheduleID(scheduleID),
		logging.String(logging.FieldEventType, "schedule_resumed"),
	)
	e.Start(scheduleID, catalog.StageVideo)
	return true, nil
}

// Active reports whether this process is driving the schedule.
func (e *Executor) Active(scheduleID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[scheduleID]
	return ok
}

// ActiveCount returns how many schedules this process is driving.
func (e *Executor) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Wait blocks until background pipelines and derivative requests finish.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) acquire(id int64, cancel context.CancelCauseFunc) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[id]; ok {
		return false
	}
	e.active[id] = cancel
	return true
}

func (e *Executor) release(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.active[id]; ok {
		cancel(nil)
		delete(e.active, id)
	}
}

// interrupt cancels the schedule's run in this process with cause. It
// reports false when no run is active here.
func (e *Executor) interrupt(id int64, cause error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.active[id]
	if ok {
		cancel(cause)
	}
	return ok
}

// heartbeat keeps a running schedule's updated_at fresh so other instances
// do not treat it as stale. When the schedule leaves processing underneath
// the run, as on a stop from another instance, the run is cancelled.
func (e *Executor) heartbeat(ctx context.Context, id int64, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			live, err := e.catalog.TouchSchedule(ctx, id)
			if err != nil {
				e.logger.Debug("schedule heartbeat failed", logging.ScheduleID(id), logging.Error(err))
				continue
			}
			if !live {
				e.interrupt(id, ErrStopped)
				return
			}
		}
	}
}

// runState is the in-memory view of one schedule during a run.
type runState struct {
	schedule *catalog.Schedule
	title    *catalog.Title
	settings catalog.Settings
	runs     map[catalog.Stage]*catalog.StageRun
	logger   *slog.Logger
}

type stepResult int

const (
	stepAdvance stepResult = iota
	stepParked
	stepDone
)

func (e *Executor) run(ctx context.Context, scheduleID int64, from catalog.Stage) error {
	start := from.Index()
	if start < 0 {
		return fmt.Errorf("unknown stage %q", from)
	}

	schedule, err := e.catalog.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	title, err := e.catalog.GetTitle(ctx, schedule.TitleID)
	if err != nil {
		return err
	}
	settings, err := e.catalog.LoadSettings(ctx)
	if err != nil {
		return err
	}
	runs, err := e.catalog.EnsureStageRuns(ctx, scheduleID)
	if err != nil {
		return err
	}

	ctx = services.WithScheduleID(ctx, scheduleID)
	ctx = services.WithRunID(ctx, schedule.RunID)
	st := &runState{
		schedule: schedule,
		title:    title,
		settings: settings,
		runs:     make(map[catalog.Stage]*catalog.StageRun, len(runs)),
		logger:   logging.WithContext(ctx, e.logger).With(logging.Args(logging.TitleID(title.ID))...),
	}
	for _, run := range runs {
		st.runs[run.Stage] = run
	}

	if interval := e.cfg.RecoveryGrace() / 3; interval > 0 {
		done := make(chan struct{})
		defer close(done)
		go e.heartbeat(ctx, scheduleID, interval, done)
	}

	st.logger.Info("pipeline started",
		logging.String("from_stage", string(from)),
		logging.String(logging.FieldEventType, "pipeline_start"),
	)

	for _, stage := range catalog.Stages[start:] {
		if err := ctx.Err(); err != nil {
			return err
		}
		if st.runs[stage].Status == catalog.StageCompleted {
			if stage == catalog.StagePublish {
				_, err := e.finish(ctx, st)
				return err
			}
			continue
		}
		stageCtx := services.WithStage(ctx, string(stage))
		var (
			result stepResult
			err    error
		)
		switch stage {
		case catalog.StageScript:
			result, err = e.scriptStage(stageCtx, st)
		case catalog.StageVideo:
			result, err = e.videoStage(stageCtx, st)
		case catalog.StageUpload:
			result, err = e.uploadStage(stageCtx, st)
		case catalog.StagePublish:
			result, err = e.publishStage(stageCtx, st)
		}
		if err != nil {
			return err
		}
		if result != stepAdvance {
			return nil
		}
	}
	return nil
}

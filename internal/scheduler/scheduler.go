package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cadence/internal/catalog"
	"cadence/internal/config"
	"cadence/internal/logging"
	"cadence/internal/notifications"
	"cadence/internal/pipeline"
	"cadence/internal/queue"
)

// TaskHandler processes one dequeued admission-queue task.
type TaskHandler func(ctx context.Context, task *queue.Task) error

// Scheduler runs the poll loop.
type Scheduler struct {
	cfg      *config.Config
	catalog  *catalog.Store
	queue    *queue.Store
	exec     *pipeline.Executor
	notifier notifications.Service
	logger   *slog.Logger

	handlers map[queue.TaskType]TaskHandler

	ticking atomic.Bool
	seq     atomic.Int64
	skipped atomic.Int64
	tasks   atomic.Int64

	mu              sync.RWMutex
	running         bool
	cancel          context.CancelFunc
	lastTick        time.Time
	lastErr         error
	lastMaintenance time.Time

	wg     sync.WaitGroup
	taskWG sync.WaitGroup

	now        func() time.Time
	beforeTick func()
}

// New constructs a scheduler. A nil notifier drops events.
func New(cfg *config.Config, cat *catalog.Store, q *queue.Store, exec *pipeline.Executor, notifier notifications.Service, logger *slog.Logger) *Scheduler {
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Scheduler{
		cfg:      cfg,
		catalog:  cat,
		queue:    q,
		exec:     exec,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
		handlers: make(map[queue.TaskType]TaskHandler),
		now:      time.Now,
	}
}

// RegisterHandler routes dequeued tasks of type t to h. Types without a
// handler are never dequeued by this scheduler.
func (s *Scheduler) RegisterHandler(t queue.TaskType, h TaskHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[t] = h
}

// Start launches the poll loop. The first tick runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	s.exec.Attach(runCtx)
	go s.loop(runCtx)

	s.logger.Info("scheduler started",
		logging.Duration("min_poll_interval", s.cfg.MinPollInterval()),
		logging.String(logging.FieldEventType, "scheduler_start"),
	)
	return nil
}

// Stop cancels the loop and waits for ticks, pipelines, and queue handlers.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.Wait()
	s.logger.Info("scheduler stopped", logging.String(logging.FieldEventType, "scheduler_stop"))
}

// Wait blocks until in-flight ticks, pipelines, and queue handlers finish.
func (s *Scheduler) Wait() {
	s.wg.Wait()
	s.taskWG.Wait()
	s.exec.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Tick(ctx)
		}()
		timer.Reset(s.interval(ctx))
	}
}

// interval is the larger of the check_interval_seconds setting and the
// configured floor.
func (s *Scheduler) interval(ctx context.Context) time.Duration {
	floor := s.cfg.MinPollInterval()
	settings, err := s.catalog.LoadSettings(ctx)
	if err != nil {
		return floor
	}
	if d := settings.CheckInterval(); d > floor {
		return d
	}
	return floor
}

func (s *Scheduler) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

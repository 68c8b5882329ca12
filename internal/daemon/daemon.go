package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"cadence/internal/api"
	"cadence/internal/catalog"
	"cadence/internal/config"
	"cadence/internal/logging"
	"cadence/internal/notifications"
	"cadence/internal/pipeline"
	"cadence/internal/preflight"
	"cadence/internal/queue"
	"cadence/internal/scheduler"
)

// ErrAlreadyRunning is returned when another daemon holds the lock.
var ErrAlreadyRunning = errors.New("another cadence daemon instance is already running")

// Deps are the components the daemon coordinates.
type Deps struct {
	Catalog   *catalog.Store
	Queue     *queue.Store
	Executor  *pipeline.Executor
	Scheduler *scheduler.Scheduler
	Notifier  notifications.Service
	Logger    *slog.Logger
}

// Daemon owns the scheduler loop and admin API and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	catalog   *catalog.Store
	queue     *queue.Store
	scheduler *scheduler.Scheduler

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc

	host func(ctx context.Context) *api.HostStats
}

// New constructs a daemon and its API handler.
func New(cfg *config.Config, deps Deps) (*Daemon, error) {
	if cfg == nil || deps.Catalog == nil || deps.Queue == nil || deps.Scheduler == nil {
		return nil, errors.New("daemon requires config, catalog, queue, and scheduler")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		catalog:   deps.Catalog,
		queue:     deps.Queue,
		scheduler: deps.Scheduler,
		lockPath:  cfg.LockPath(),
		lock:      flock.New(cfg.LockPath()),
		host:      hostSnapshot,
	}
	handler := api.NewHandler(api.Deps{
		Catalog:         deps.Catalog,
		Queue:           deps.Queue,
		Executor:        deps.Executor,
		Notifier:        deps.Notifier,
		Status:          d.Status,
		Logger:          logger,
		QueueStaleAfter: cfg.QueueStaleAfter(),
	})
	if bind := strings.TrimSpace(cfg.API.Bind); bind != "" {
		d.api = newAPIServer(bind, handler, logger)
	}
	return d, nil
}

// Start runs preflight, acquires the lock, and launches the scheduler and API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := d.preflight(ctx); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.scheduler.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.scheduler.Stop()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("cadence daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.Addr()),
	)
	return nil
}

// Stop shuts down the API, drains the scheduler, and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.scheduler.Stop()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
		)
	}
	d.running.Store(false)
	d.logger.Info("cadence daemon stopped", logging.String(logging.FieldEventType, "daemon_stop"))
}

// Addr returns the API listen address, or "" when the API is disabled or stopped.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		Scheduler:    d.scheduler.Status(),
		Schedules:    make(map[string]int),
	}
	for _, s := range []catalog.ScheduleStatus{
		catalog.SchedulePending,
		catalog.ScheduleProcessing,
		catalog.ScheduleWaitingForUpload,
		catalog.ScheduleCompleted,
		catalog.ScheduleFailed,
		catalog.ScheduleCancelled,
	} {
		schedules, err := d.catalog.SchedulesByStatus(ctx, s)
		if err != nil {
			d.logger.Debug("status schedule count failed", logging.String("status", string(s)), logging.Error(err))
			continue
		}
		status.Schedules[string(s)] = len(schedules)
	}
	if summary, err := d.queue.Summary(ctx); err == nil {
		status.Queue = api.FromSummary(summary)
	} else {
		d.logger.Debug("status queue summary failed", logging.Error(err))
	}
	if settings, err := d.catalog.RawSettings(ctx); err == nil {
		status.Settings = settings
	}
	if d.host != nil {
		status.Host = d.host(ctx)
	}
	return status
}

func (d *Daemon) preflight(ctx context.Context) error {
	results := preflight.RunAll(ctx, d.cfg)
	for _, r := range results {
		if r.Passed {
			d.logger.Debug("preflight check passed", logging.String("check", r.Name), logging.String("detail", r.Detail))
			continue
		}
		impact := "cadence may fail when the dependency is first used"
		if r.Required {
			impact = "daemon will not start"
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "fix the path or service named in the check and restart"),
			logging.String(logging.FieldImpact, impact),
		)
	}
	if failed := preflight.Failures(results); len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, r := range failed {
			names = append(names, r.Name+": "+r.Detail)
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(names, "; "))
	}
	return nil
}

package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"cadence/internal/catalog"
	"cadence/internal/config"
	"cadence/internal/daemon"
	"cadence/internal/database"
	"cadence/internal/logging"
	"cadence/internal/notifications"
	"cadence/internal/pipeline"
	"cadence/internal/queue"
	"cadence/internal/scheduler"
	"cadence/internal/studio"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the cadence daemon and blocks until SIGINT/SIGTERM or cmdCtx ends.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logConfigSnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.DataDir, "cadenced.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	db, err := database.Open(cfg)
	if err != nil {
		logger.Error("open database", logging.Error(err))
		return err
	}
	defer db.Close()

	cat := catalog.New(db, logger)
	q := queue.New(db, logger)
	notifier := notifications.NewService(cfg, notifications.WithDestination(alertDestination(cat, logger)))
	client := studio.New(cfg)
	exec := pipeline.NewExecutor(cfg, cat, q, client.Collaborators(cfg.Studio.CrawlerEnabled), notifier, logger)
	sched := scheduler.New(cfg, cat, q, exec, notifier, logger)
	sched.RegisterHandler(queue.TaskImage, exec.HandleMediaTask)

	d, err := daemon.New(cfg, daemon.Deps{
		Catalog:   cat,
		Queue:     q,
		Executor:  exec,
		Scheduler: sched,
		Notifier:  notifier,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration, directory permissions, and whether another daemon holds the lock"),
		)
		return err
	}
	defer d.Stop()

	<-signalCtx.Done()
	logger.Info("cadence daemon shutting down", logging.String(logging.FieldEventType, "daemon_shutdown"))
	return nil
}

// alertDestination resolves the ntfy endpoint from the alert_destination
// setting on every send, so operators can redirect alerts without a restart.
func alertDestination(cat *catalog.Store, logger *slog.Logger) notifications.DestinationFunc {
	return func(ctx context.Context) string {
		settings, err := cat.LoadSettings(ctx)
		if err != nil {
			logger.Debug("alert destination lookup failed", logging.Error(err))
			return ""
		}
		return settings.AlertDestination
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("data_dir", cfg.Paths.DataDir),
		logging.String("projects_dir", cfg.Paths.ProjectsDir),
		logging.String("studio_url", cfg.Studio.BaseURL),
		logging.Bool("studio_token_present", strings.TrimSpace(cfg.Studio.APIToken) != ""),
		logging.Bool("crawler_enabled", cfg.Studio.CrawlerEnabled),
		logging.Bool("ntfy_configured", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
		logging.String("api_bind", cfg.API.Bind),
		logging.Duration("min_poll_interval", cfg.MinPollInterval()),
	)
}

package daemon_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"testing"

	"cadence/internal/api"
	"cadence/internal/config"
	"cadence/internal/daemon"
	"cadence/internal/logging"
	"cadence/internal/pipeline"
	"cadence/internal/scheduler"
	"cadence/internal/testsupport"
)

func newDaemon(t *testing.T, cfg *config.Config) *daemon.Daemon {
	t.Helper()
	cat, q := testsupport.MustOpenStores(t, cfg)
	notifier := &testsupport.RecordingNotifier{}
	exec := pipeline.NewExecutor(cfg, cat, q, testsupport.NewStubStudio().Collaborators(), notifier, logging.NewNop())
	sched := scheduler.New(cfg, cat, q, exec, notifier, logging.NewNop())
	d, err := daemon.New(cfg, daemon.Deps{
		Catalog:   cat,
		Queue:     q,
		Executor:  exec,
		Scheduler: sched,
		Notifier:  notifier,
		Logger:    logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func readyConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	return cfg
}

func TestDaemonStartStop(t *testing.T) {
	cfg := readyConfig(t)
	d := newDaemon(t, cfg)
	ctx := context.Background()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || status.LockFilePath != cfg.LockPath() || status.DatabasePath != cfg.DatabasePath() {
		t.Fatalf("unexpected status %+v", status)
	}
	if !status.Scheduler.Running {
		t.Fatal("expected scheduler running")
	}
	if _, ok := status.Schedules["pending"]; !ok {
		t.Fatalf("expected schedule counts, got %+v", status.Schedules)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second Start on the same daemon to fail")
	}

	d.Stop()
	if d.Status(ctx).Running {
		t.Fatal("expected daemon stopped")
	}
	if err := d.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := readyConfig(t)
	first := newDaemon(t, cfg)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}

	second := newDaemon(t, cfg)
	if err := second.Start(context.Background()); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestDaemonServesAPI(t *testing.T) {
	cfg := readyConfig(t)
	d := newDaemon(t, cfg)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	addr := d.Addr()
	if addr == "" {
		t.Fatal("expected API address")
	}

	resp, err := http.Get("http://" + addr + "/v1/status")
	if err != nil {
		t.Fatalf("GET status failed: %v", err)
	}
	defer resp.Body.Close()
	var status api.DaemonStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.PID != os.Getpid() {
		t.Fatalf("unexpected status over API %+v", status)
	}

	client := api.NewClient(addr)
	if err := client.Health(context.Background()); err != nil {
		t.Fatalf("client Health failed: %v", err)
	}
}

func TestDaemonPreflightFailure(t *testing.T) {
	cfg := readyConfig(t)
	if err := os.RemoveAll(cfg.Paths.ProjectsDir); err != nil {
		t.Fatal(err)
	}
	d := newDaemon(t, cfg)
	err := d.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "Projects directory") {
		t.Fatalf("expected projects directory preflight failure, got %v", err)
	}
	if d.Status(context.Background()).Running {
		t.Fatal("daemon must not run after failed preflight")
	}
}

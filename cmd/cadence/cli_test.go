package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"cadence/internal/catalog"
	"cadence/internal/config"
	"cadence/internal/queue"
	"cadence/internal/testsupport"
)

func writeConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config failed: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func runCLI(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", configPath, "--api", "127.0.0.1:1"}, args...))
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return out.String(), err
}

func mustRunCLI(t *testing.T, configPath string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, configPath, args...)
	if err != nil {
		t.Fatalf("cadence %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestTitleCommands(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeConfig(t, cfg)

	out := mustRunCLI(t, path, "title", "add", "--type", "short", "--tag", "space", "--priority", "3", "Why", "stars", "twinkle")
	if !strings.Contains(out, "Added title 1: Why stars twinkle") {
		t.Fatalf("unexpected add output: %q", out)
	}
	if _, err := runCLI(t, path, "title", "add", "--type", "novel", "Bad type"); err == nil {
		t.Fatal("expected invalid content type to fail")
	}

	out = mustRunCLI(t, path, "title", "list", "--json")
	var titles []struct {
		ID          int64    `json:"id"`
		Title       string   `json:"title"`
		ContentType string   `json:"contentType"`
		Tags        []string `json:"tags"`
		Priority    int      `json:"priority"`
	}
	if err := json.Unmarshal([]byte(out), &titles); err != nil {
		t.Fatalf("decode title list failed: %v\n%s", err, out)
	}
	if len(titles) != 1 || titles[0].ContentType != "short" || titles[0].Priority != 3 {
		t.Fatalf("unexpected titles: %+v", titles)
	}

	out = mustRunCLI(t, path, "title", "show", "1")
	if !strings.Contains(out, "Why stars twinkle") {
		t.Fatalf("unexpected show output: %q", out)
	}
	if _, err := runCLI(t, path, "title", "show", "99"); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing title, got %v", err)
	}
}

func TestTitleImport(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeConfig(t, cfg)

	importPath := filepath.Join(testsupport.BaseDir(cfg), "titles.yaml")
	doc := `titles:
  - title: Deep sea vents
    content_type: long
    tags: [ocean]
    schedule_at: 2h
    visibility: unlisted
  - title: Tide pools
    content_type: short
`
	if err := os.WriteFile(importPath, []byte(doc), 0o644); err != nil {
		t.Fatalf("write import file failed: %v", err)
	}
	out := mustRunCLI(t, path, "title", "import", importPath)
	if !strings.Contains(out, "Imported 2 of 2 title(s); 1 scheduled") {
		t.Fatalf("unexpected import output: %q", out)
	}

	store := testsupport.MustOpenCatalog(t, cfg)
	titles, err := store.ListTitles(context.Background(), catalog.TitleFilter{})
	if err != nil {
		t.Fatalf("ListTitles failed: %v", err)
	}
	if len(titles) != 2 {
		t.Fatalf("expected 2 imported titles, got %d", len(titles))
	}
	schedules, err := store.ListSchedules(context.Background(), catalog.ScheduleFilter{})
	if err != nil {
		t.Fatalf("ListSchedules failed: %v", err)
	}
	if len(schedules) != 1 || schedules[0].Visibility != catalog.VisibilityUnlisted {
		t.Fatalf("expected one unlisted schedule, got %+v", schedules)
	}
	if !schedules[0].ScheduledAt.After(time.Now().Add(time.Hour)) {
		t.Fatalf("expected schedule roughly two hours out, got %s", schedules[0].ScheduledAt)
	}
}

func TestScheduleCommands(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeConfig(t, cfg)

	mustRunCLI(t, path, "title", "add", "Volcano lightning")
	out := mustRunCLI(t, path, "schedule", "add", "1", "--at", "3h", "--visibility", "private")
	if !strings.Contains(out, "Scheduled title 1 as schedule 1") {
		t.Fatalf("unexpected schedule add output: %q", out)
	}
	out = mustRunCLI(t, path, "schedule", "add", "1", "--at", "5h")
	if !strings.Contains(out, "already has active schedule 1") {
		t.Fatalf("expected duplicate schedule to be reported, got %q", out)
	}
	if _, err := runCLI(t, path, "schedule", "add", "1", "--at", "next tuesday"); err == nil {
		t.Fatal("expected unparseable time to fail")
	}

	out = mustRunCLI(t, path, "schedule", "list", "--status", "pending")
	if !strings.Contains(out, "pending") || !strings.Contains(out, "private") {
		t.Fatalf("unexpected schedule list output: %q", out)
	}

	mustRunCLI(t, path, "schedule", "show", "1")
	out = mustRunCLI(t, path, "schedule", "cancel", "1")
	if !strings.Contains(out, "Schedule 1 cancelled") {
		t.Fatalf("unexpected cancel output: %q", out)
	}
	if _, err := runCLI(t, path, "schedule", "cancel", "1"); err == nil {
		t.Fatal("expected second cancel to fail")
	}
}

func TestScheduleStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeConfig(t, cfg)

	mustRunCLI(t, path, "title", "add", "Volcano lightning")
	mustRunCLI(t, path, "schedule", "add", "1", "--at", "1h")
	if _, err := runCLI(t, path, "schedule", "stop", "1"); !errors.Is(err, catalog.ErrScheduleNotProcessing) {
		t.Fatalf("expected pending schedule stop to fail, got %v", err)
	}

	store := testsupport.MustOpenCatalog(t, cfg)
	if ok, err := store.ClaimSchedule(context.Background(), 1, "run-stuck"); err != nil || !ok {
		t.Fatalf("ClaimSchedule failed: ok=%v err=%v", ok, err)
	}
	out := mustRunCLI(t, path, "schedule", "stop", "1")
	if !strings.Contains(out, "Schedule 1 stopped (failed)") {
		t.Fatalf("unexpected stop output: %q", out)
	}
	out = mustRunCLI(t, path, "schedule", "add", "1", "--at", "2h")
	if !strings.Contains(out, "Scheduled title 1 as schedule 2") {
		t.Fatalf("stopped title should accept a new schedule, got %q", out)
	}
}

func TestQueueCommands(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeConfig(t, cfg)

	store := testsupport.MustOpenQueue(t, cfg)
	ctx := context.Background()
	first, err := store.Enqueue(ctx, queue.EnqueueRequest{Type: queue.TaskImage, Owner: queue.Owner{User: "ops"}})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if _, err := store.Enqueue(ctx, queue.EnqueueRequest{Type: queue.TaskVideo}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	out := mustRunCLI(t, path, "queue", "list", "--type", "media", "--json")
	var tasks []struct {
		ID   int64  `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(out), &tasks); err != nil {
		t.Fatalf("decode queue list failed: %v\n%s", err, out)
	}
	if len(tasks) != 1 || tasks[0].ID != first.ID || tasks[0].Type != "image" {
		t.Fatalf("unexpected filtered tasks: %+v", tasks)
	}

	out = mustRunCLI(t, path, "queue", "summary")
	if !strings.Contains(out, "video") {
		t.Fatalf("unexpected summary output: %q", out)
	}
	out = mustRunCLI(t, path, "queue", "health")
	if !strings.Contains(out, "Queue healthy") {
		t.Fatalf("unexpected health output: %q", out)
	}

	mustRunCLI(t, path, "queue", "cancel", "1")
	if _, err := runCLI(t, path, "queue", "cancel", "1"); !errors.Is(err, queue.ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
	if _, err := runCLI(t, path, "queue", "retry", "2"); !errors.Is(err, queue.ErrNotRequeueable) {
		t.Fatalf("expected ErrNotRequeueable for waiting task, got %v", err)
	}

	out = mustRunCLI(t, path, "queue", "release", "script")
	if !strings.Contains(out, "No script lock held") {
		t.Fatalf("unexpected release output: %q", out)
	}
	if _, err := runCLI(t, path, "queue", "release", "audio"); !errors.Is(err, queue.ErrUnknownTaskType) {
		t.Fatalf("expected ErrUnknownTaskType, got %v", err)
	}
	mustRunCLI(t, path, "queue", "locks")
	out = mustRunCLI(t, path, "queue", "cleanup", "--days", "1")
	if !strings.Contains(out, "Removed 0 task(s)") {
		t.Fatalf("unexpected cleanup output: %q", out)
	}
}

func TestSettingsCommands(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeConfig(t, cfg)

	mustRunCLI(t, path, "settings", "set", catalog.SettingEnabled, "true")
	out := mustRunCLI(t, path, "settings", "show", "--json")
	var settings map[string]string
	if err := json.Unmarshal([]byte(out), &settings); err != nil {
		t.Fatalf("decode settings failed: %v\n%s", err, out)
	}
	if settings[catalog.SettingEnabled] != "true" {
		t.Fatalf("expected enabled=true, got %+v", settings)
	}
}

func TestStatusWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeConfig(t, cfg)

	out := mustRunCLI(t, path, "status")
	if !strings.Contains(out, "not running") {
		t.Fatalf("expected offline status, got %q", out)
	}
	if !strings.Contains(out, "Data directory") {
		t.Fatalf("expected preflight table, got %q", out)
	}

	if _, err := runCLI(t, path, "test-notify"); err == nil {
		t.Fatal("expected test-notify without daemon to fail")
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "config.toml")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected sample config written: %v", err)
	}

	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"config", "init", "--path", target})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected init without --overwrite to refuse an existing file")
	}
}

func TestParseWhen(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"now", now},
		{"", now},
		{"90m", now.Add(90 * time.Minute)},
		{"+2h", now.Add(2 * time.Hour)},
		{"2026-03-02T08:00:00Z", time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		got, err := parseWhen(tc.in, now)
		if err != nil {
			t.Fatalf("parseWhen(%q) failed: %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("parseWhen(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
	if _, err := parseWhen("soonish", now); err == nil {
		t.Fatal("expected parseWhen to reject garbage")
	}
}

func TestLogsCommand(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	path := writeConfig(t, cfg)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	content := "level=INFO msg=tick\nlevel=WARN msg=\"stage retry\" stage=render\nlevel=INFO msg=tick\n"
	if err := os.WriteFile(cfg.LogPath(), []byte(content), 0o644); err != nil {
		t.Fatalf("write log failed: %v", err)
	}

	out := mustRunCLI(t, path, "logs", "--lines", "2")
	if strings.Count(out, "\n") != 2 || !strings.Contains(out, "stage retry") {
		t.Fatalf("unexpected logs output: %q", out)
	}
	out = mustRunCLI(t, path, "logs", "--grep", "render")
	if strings.TrimSpace(out) != `level=WARN msg="stage retry" stage=render` {
		t.Fatalf("unexpected filtered output: %q", out)
	}
}

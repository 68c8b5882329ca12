package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cadence/internal/config"
)

func TestLoadWithoutFileRequiresStudioURL(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	_, _, _, err := config.Load("")
	if err == nil {
		t.Fatal("expected validation error without studio.base_url")
	}
	if !strings.Contains(err.Error(), "studio.base_url") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSampleConfigLoadsAndExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CADENCE_STUDIO_TOKEN", "from-env")

	path := filepath.Join(tempHome, "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("unexpected resolution: path=%q exists=%v", resolved, exists)
	}

	wantData := filepath.Join(tempHome, ".local", "share", "cadence")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.DatabasePath() != filepath.Join(wantData, "cadence.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
	if cfg.Studio.APIToken != "from-env" {
		t.Fatalf("expected studio token from env, got %q", cfg.Studio.APIToken)
	}
	if cfg.MinPollInterval() != 3*time.Second {
		t.Fatalf("unexpected min poll interval: %s", cfg.MinPollInterval())
	}
	if cfg.QueueStaleAfter() != 10*time.Minute {
		t.Fatalf("unexpected stale threshold: %s", cfg.QueueStaleAfter())
	}
	if cfg.Logging.Format != "auto" {
		t.Fatalf("unexpected log format: %q", cfg.Logging.Format)
	}
}

func TestLoadNormalizesOverridesAndPlaceholders(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cadence.toml")
	body := `
[paths]
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"

[studio]
base_url = "http://studio.local:3000/"

[project.placeholders]
" Affiliate_Link " = "https://example.test/ref"

[logging]
format = "JSON"
level = "Debug"

[logging.stage_overrides]
" Upload " = "WARN"
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Studio.BaseURL != "http://studio.local:3000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Studio.BaseURL)
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.Logging.StageOverrides["upload"] != "warn" {
		t.Fatalf("unexpected stage overrides: %v", cfg.Logging.StageOverrides)
	}
	if cfg.Project.Placeholders["affiliate_link"] != "https://example.test/ref" {
		t.Fatalf("unexpected placeholders: %v", cfg.Project.Placeholders)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"relative studio url", func(c *config.Config) { c.Studio.BaseURL = "studio" }, "studio.base_url"},
		{"zero poll floor", func(c *config.Config) { c.Workflow.MinPollInterval = 0 }, "workflow.min_poll_interval"},
		{"zero retention", func(c *config.Config) { c.Queue.RetentionDays = 0 }, "queue.retention_days"},
		{"bad format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad override", func(c *config.Config) { c.Logging.StageOverrides = map[string]string{"script": "loud"} }, "logging.stage_overrides"},
		{"bad bind", func(c *config.Config) { c.API.Bind = "localhost" }, "api.bind"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Studio.BaseURL = "http://127.0.0.1:3000"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

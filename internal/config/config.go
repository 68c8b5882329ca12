package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir     string `toml:"data_dir"`
	LogDir      string `toml:"log_dir"`
	ProjectsDir string `toml:"projects_dir"`
}

// Workflow contains scheduler loop timing.
type Workflow struct {
	MinPollInterval            int `toml:"min_poll_interval"`
	StageRetryBackoffMillis    int `toml:"stage_retry_backoff_ms"`
	RecoveryGraceSeconds       int `toml:"recovery_grace_seconds"`
	MaintenanceIntervalMinutes int `toml:"maintenance_interval_minutes"`
}

// Queue contains resource admission queue settings.
type Queue struct {
	StaleAfterMinutes int `toml:"stale_after_minutes"`
	RetentionDays     int `toml:"retention_days"`
	DefaultMaxRetries int `toml:"default_max_retries"`
}

// Studio contains connection settings for the production services
// (script generation, rendering, hosting upload and publishing).
type Studio struct {
	BaseURL        string `toml:"base_url"`
	APIToken       string `toml:"api_token"`
	RequestTimeout int    `toml:"request_timeout"`
	RetryMax       int    `toml:"retry_max"`
	CrawlerEnabled bool   `toml:"crawler_enabled"`
}

// Project contains settings for on-disk working projects.
type Project struct {
	Placeholders map[string]string `toml:"placeholders"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completions    bool   `toml:"completions"`
}

// API contains the admin HTTP API settings.
type API struct {
	Bind string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string            `toml:"format"`
	Level          string            `toml:"level"`
	StageOverrides map[string]string `toml:"stage_overrides"`
}

// Config encapsulates all static configuration values for Cadence.
//
// Configuration sections by subsystem:
//   - Paths: database, log and project directories
//   - Workflow: scheduler loop floors, backoff and recovery windows
//   - Queue: admission queue staleness, retention and retry caps
//   - Studio: production service endpoint and credentials
//   - Project: placeholder values used when materializing scripts
//   - Notifications: ntfy push notification settings
//   - API: admin HTTP API bind address
//   - Logging: log format, level, and per-stage overrides
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workflow      Workflow      `toml:"workflow"`
	Queue         Queue         `toml:"queue"`
	Studio        Studio        `toml:"studio"`
	Project       Project       `toml:"project"`
	Notifications Notifications `toml:"notifications"`
	API           API           `toml:"api"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("cadence.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.ProjectsDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "cadence.db")
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "cadence.log")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "cadenced.lock")
}

// MinPollInterval returns the floor applied to the runtime check interval.
func (c *Config) MinPollInterval() time.Duration {
	return time.Duration(c.Workflow.MinPollInterval) * time.Second
}

// StageRetryBackoff returns the initial delay between collaborator attempts.
func (c *Config) StageRetryBackoff() time.Duration {
	return time.Duration(c.Workflow.StageRetryBackoffMillis) * time.Millisecond
}

// RecoveryGrace returns how long a processing schedule may sit idle before
// the loop treats it as orphaned.
func (c *Config) RecoveryGrace() time.Duration {
	return time.Duration(c.Workflow.RecoveryGraceSeconds) * time.Second
}

// MaintenanceInterval returns how often queue health and cleanup run.
func (c *Config) MaintenanceInterval() time.Duration {
	return time.Duration(c.Workflow.MaintenanceIntervalMinutes) * time.Minute
}

// QueueStaleAfter returns the processing duration after which a task is reported stuck.
func (c *Config) QueueStaleAfter() time.Duration {
	return time.Duration(c.Queue.StaleAfterMinutes) * time.Minute
}

// StudioTimeout returns the per-request timeout for production service calls.
func (c *Config) StudioTimeout() time.Duration {
	return time.Duration(c.Studio.RequestTimeout) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

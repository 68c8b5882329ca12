package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var validLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStudio(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateStudio() error {
	if c.Studio.BaseURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = defaultConfigPath
		}
		return fmt.Errorf("studio.base_url is required. Edit %s (create with 'cadence config init')", defaultPath)
	}
	parsed, err := url.Parse(c.Studio.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("studio.base_url %q must be an absolute http(s) URL", c.Studio.BaseURL)
	}
	if c.Studio.RetryMax < 0 {
		return errors.New("studio.retry_max must be >= 0")
	}
	return ensurePositiveMap(map[string]int{
		"studio.request_timeout":        c.Studio.RequestTimeout,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	})
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.min_poll_interval":            c.Workflow.MinPollInterval,
		"workflow.recovery_grace_seconds":       c.Workflow.RecoveryGraceSeconds,
		"workflow.maintenance_interval_minutes": c.Workflow.MaintenanceIntervalMinutes,
	}); err != nil {
		return err
	}
	if c.Workflow.StageRetryBackoffMillis < 0 {
		return errors.New("workflow.stage_retry_backoff_ms must be >= 0")
	}
	return nil
}

func (c *Config) validateQueue() error {
	if err := ensurePositiveMap(map[string]int{
		"queue.stale_after_minutes": c.Queue.StaleAfterMinutes,
		"queue.retention_days":      c.Queue.RetentionDays,
	}); err != nil {
		return err
	}
	if c.Queue.DefaultMaxRetries < 0 {
		return errors.New("queue.default_max_retries must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use auto, console or json)", c.Logging.Format)
	}
	if _, ok := validLogLevels[c.Logging.Level]; !ok {
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	for stage, level := range c.Logging.StageOverrides {
		if _, ok := validLogLevels[level]; !ok {
			return fmt.Errorf("logging.stage_overrides.%s: unsupported level %q", stage, level)
		}
	}
	if c.API.Bind != "" && !strings.Contains(c.API.Bind, ":") {
		return fmt.Errorf("api.bind %q must be host:port", c.API.Bind)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

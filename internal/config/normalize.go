package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeStudio()
	c.normalizeNotifications()
	c.normalizeProject()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.ProjectsDir) == "" {
		c.Paths.ProjectsDir = defaultProjectsDir
	}
	if c.Paths.ProjectsDir, err = expandPath(c.Paths.ProjectsDir); err != nil {
		return fmt.Errorf("paths.projects_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeStudio() {
	c.Studio.BaseURL = strings.TrimRight(strings.TrimSpace(c.Studio.BaseURL), "/")
	c.Studio.APIToken = strings.TrimSpace(c.Studio.APIToken)
	if c.Studio.APIToken == "" {
		if value, ok := os.LookupEnv("CADENCE_STUDIO_TOKEN"); ok {
			c.Studio.APIToken = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("CADENCE_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeProject() {
	if len(c.Project.Placeholders) == 0 {
		return
	}
	normalized := make(map[string]string, len(c.Project.Placeholders))
	for key, value := range c.Project.Placeholders {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		normalized[key] = value
	}
	c.Project.Placeholders = normalized
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if len(c.Logging.StageOverrides) == 0 {
		return
	}
	overrides := make(map[string]string, len(c.Logging.StageOverrides))
	for stage, level := range c.Logging.StageOverrides {
		stage = strings.ToLower(strings.TrimSpace(stage))
		level = strings.ToLower(strings.TrimSpace(level))
		if stage == "" || level == "" {
			continue
		}
		overrides[stage] = level
	}
	c.Logging.StageOverrides = overrides
}

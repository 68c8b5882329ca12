package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cadence/internal/database"
	"cadence/internal/logging"
)

// Automation setting keys.
const (
	SettingEnabled              = "enabled"
	SettingCheckIntervalSeconds = "check_interval_seconds"
	SettingMaxRetry             = "max_retry"
	SettingDefaultMediaMode     = "default_media_mode"
	SettingDefaultVisibility    = "default_visibility"
	SettingScriptGenerationMode = "script_generation_mode"
	SettingAlertDestination     = "alert_destination"

	// PlaceholderPrefix marks settings merged into project placeholder resolution.
	PlaceholderPrefix = "placeholder."
)

// Settings is the typed view of the automation settings table.
type Settings struct {
	Enabled              bool
	CheckIntervalSeconds int
	MaxRetry             int
	DefaultMediaMode     MediaMode
	DefaultVisibility    Visibility
	ScriptGenerationMode ScriptMode
	AlertDestination     string
	Placeholders         map[string]string
}

// DefaultSettings mirrors the rows seeded at schema creation.
func DefaultSettings() Settings {
	return Settings{
		Enabled:              false,
		CheckIntervalSeconds: 60,
		MaxRetry:             3,
		DefaultMediaMode:     MediaGenerated,
		DefaultVisibility:    VisibilityPrivate,
		ScriptGenerationMode: ScriptAPI,
		Placeholders:         map[string]string{},
	}
}

// CheckInterval returns the poll interval as a duration.
func (s Settings) CheckInterval() time.Duration {
	return time.Duration(s.CheckIntervalSeconds) * time.Second
}

// RawSettings returns every stored key and value.
func (s *Store) RawSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM automation_settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, rows.Err()
}

// LoadSettings reads the typed settings. Unparseable stored values fall back
// to their defaults with a warning so one bad row cannot stop the loop.
func (s *Store) LoadSettings(ctx context.Context) (Settings, error) {
	raw, err := s.RawSettings(ctx)
	if err != nil {
		return Settings{}, err
	}
	settings := DefaultSettings()
	for key, value := range raw {
		if name, ok := strings.CutPrefix(key, PlaceholderPrefix); ok {
			settings.Placeholders[name] = value
			continue
		}
		if err := applySetting(&settings, key, value); err != nil {
			logging.WarnWithContext(s.logger, "ignoring invalid automation setting", "setting_invalid",
				logging.String("key", key),
				logging.String("value", value),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "fix it with cadence settings set"),
				logging.String(logging.FieldImpact, "default value used"),
			)
		}
	}
	return settings, nil
}

// SetSetting validates and stores one setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)
	if name, ok := strings.CutPrefix(key, PlaceholderPrefix); ok {
		if name == "" {
			return fmt.Errorf("%w: placeholder name is required", ErrInvalid)
		}
	} else {
		candidate := DefaultSettings()
		if err := applySetting(&candidate, key, value); err != nil {
			return err
		}
		value = canonicalSetting(candidate, key, value)
	}
	if _, err := s.db.Exec(ctx,
		`INSERT INTO automation_settings (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, database.FormatTime(time.Now()),
	); err != nil {
		return fmt.Errorf("store setting %s: %w", key, err)
	}
	s.logger.Info("automation setting updated", logging.String("key", key), logging.String("value", value))
	return nil
}

func applySetting(settings *Settings, key, value string) error {
	switch key {
	case SettingEnabled:
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be true or false", ErrInvalid, key)
		}
		settings.Enabled = enabled
	case SettingCheckIntervalSeconds:
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds <= 0 {
			return fmt.Errorf("%w: %s must be a positive integer", ErrInvalid, key)
		}
		settings.CheckIntervalSeconds = seconds
	case SettingMaxRetry:
		retries, err := strconv.Atoi(value)
		if err != nil || retries <= 0 {
			return fmt.Errorf("%w: %s must be a positive integer", ErrInvalid, key)
		}
		settings.MaxRetry = retries
	case SettingDefaultMediaMode:
		mode, err := ParseMediaMode(value)
		if err != nil {
			return err
		}
		settings.DefaultMediaMode = mode
	case SettingDefaultVisibility:
		visibility, err := ParseVisibility(value)
		if err != nil {
			return err
		}
		settings.DefaultVisibility = visibility
	case SettingScriptGenerationMode:
		mode, err := ParseScriptMode(value)
		if err != nil {
			return err
		}
		settings.ScriptGenerationMode = mode
	case SettingAlertDestination:
		settings.AlertDestination = value
	default:
		return fmt.Errorf("%w: unknown setting %q", ErrInvalid, key)
	}
	return nil
}

func canonicalSetting(settings Settings, key, value string) string {
	switch key {
	case SettingEnabled:
		return strconv.FormatBool(settings.Enabled)
	case SettingDefaultMediaMode:
		return string(settings.DefaultMediaMode)
	case SettingDefaultVisibility:
		return string(settings.DefaultVisibility)
	case SettingScriptGenerationMode:
		return string(settings.ScriptGenerationMode)
	default:
		return value
	}
}

package config

const (
	defaultConfigPath                 = "~/.config/cadence/config.toml"
	defaultDataDir                    = "~/.local/share/cadence"
	defaultLogDir                     = "~/.local/share/cadence/logs"
	defaultProjectsDir                = "~/.local/share/cadence/projects"
	defaultMinPollInterval            = 3
	defaultStageRetryBackoffMillis    = 2000
	defaultRecoveryGraceSeconds       = 300
	defaultMaintenanceIntervalMinutes = 60
	defaultQueueStaleAfterMinutes     = 10
	defaultQueueRetentionDays         = 30
	defaultQueueMaxRetries            = 3
	defaultStudioRequestTimeout       = 120
	defaultStudioRetryMax             = 3
	defaultNotifyRequestTimeout       = 10
	defaultAPIBind                    = "127.0.0.1:7788"
	defaultLogFormat                  = "auto"
	defaultLogLevel                   = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:     defaultDataDir,
			LogDir:      defaultLogDir,
			ProjectsDir: defaultProjectsDir,
		},
		Workflow: Workflow{
			MinPollInterval:            defaultMinPollInterval,
			StageRetryBackoffMillis:    defaultStageRetryBackoffMillis,
			RecoveryGraceSeconds:       defaultRecoveryGraceSeconds,
			MaintenanceIntervalMinutes: defaultMaintenanceIntervalMinutes,
		},
		Queue: Queue{
			StaleAfterMinutes: defaultQueueStaleAfterMinutes,
			RetentionDays:     defaultQueueRetentionDays,
			DefaultMaxRetries: defaultQueueMaxRetries,
		},
		Studio: Studio{
			RequestTimeout: defaultStudioRequestTimeout,
			RetryMax:       defaultStudioRetryMax,
			CrawlerEnabled: true,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completions:    true,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

package testsupport

import (
	"path/filepath"
	"testing"

	"cadence/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.ProjectsDir = filepath.Join(base, "projects")
	cfgVal.Studio.BaseURL = "http://127.0.0.1:0"
	cfgVal.Workflow.StageRetryBackoffMillis = 1
	cfgVal.API.Bind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithStudioURL points the studio client at a test server.
func WithStudioURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Studio.BaseURL = url
	}
}

// WithNtfyTopic sets the ntfy endpoint on the test config.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithPlaceholders sets project placeholder values.
func WithPlaceholders(values map[string]string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Project.Placeholders = values
	}
}

// WithoutCrawler disables media-crawl task enqueueing.
func WithoutCrawler() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Studio.CrawlerEnabled = false
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

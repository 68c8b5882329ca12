package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"cadence/internal/api"
	"cadence/internal/catalog"
	"cadence/internal/config"
	"cadence/internal/database"
	"cadence/internal/logging"
	"cadence/internal/pipeline"
	"cadence/internal/queue"
)

type commandContext struct {
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		apiFlag:    apiFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// stores bundles the direct-database handles a command works with.
type stores struct {
	cfg     *config.Config
	db      *database.DB
	catalog *catalog.Store
	queue   *queue.Store
}

// executor returns a pipeline executor without collaborators. It serves
// catalog-only operations such as cancellation.
func (s *stores) executor() *pipeline.Executor {
	return pipeline.NewExecutor(s.cfg, s.catalog, s.queue, pipeline.Collaborators{}, nil, logging.NewNop())
}

func (c *commandContext) withStores(fn func(*stores) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	logger := logging.NewNop()
	return fn(&stores{
		cfg:     cfg,
		db:      db,
		catalog: catalog.New(db, logger),
		queue:   queue.New(db, logger),
	})
}

func (c *commandContext) apiClient() (*api.Client, error) {
	if c.apiFlag != nil {
		if addr := strings.TrimSpace(*c.apiFlag); addr != "" {
			return api.NewClient(addr), nil
		}
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.API.Bind) == "" {
		return nil, fmt.Errorf("api.bind is empty; the daemon API is disabled")
	}
	return api.NewClient(cfg.API.Bind), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

package preflight

import (
	"context"
	"strings"

	"cadence/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Required bool
	Detail   string
}

// RunAll executes the directory checks and, when a studio URL is configured,
// the studio reachability check.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		required(CheckDirectoryAccess("Data directory", cfg.Paths.DataDir)),
		required(CheckDirectoryAccess("Projects directory", cfg.Paths.ProjectsDir)),
		required(CheckDirectoryAccess("Log directory", cfg.Paths.LogDir)),
	}
	if strings.TrimSpace(cfg.Studio.BaseURL) != "" {
		results = append(results, CheckStudio(ctx, cfg.Studio.BaseURL, cfg.Studio.APIToken))
	}
	return results
}

// Failures returns the required checks that did not pass.
func Failures(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if r.Required && !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

func required(r Result) Result {
	r.Required = true
	return r
}

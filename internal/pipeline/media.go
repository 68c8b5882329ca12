package pipeline

import (
	"context"
	"fmt"

	"cadence/internal/queue"
	"cadence/internal/services"
)

// HandleMediaTask runs an asset crawl for an image queue task. It is
// registered with the scheduler's queue dispatcher.
func (e *Executor) HandleMediaTask(ctx context.Context, task *queue.Task) error {
	if e.collab.Crawler == nil {
		return services.Wrap(services.ErrConfiguration, "media", "crawl", "no asset crawler configured", nil)
	}
	if task.Metadata.ProjectDir == "" {
		return services.Wrap(services.ErrValidation, "media", "crawl", "task has no project directory", nil)
	}
	ctx = services.WithTaskID(ctx, task.ID)
	e.queue.AppendLog(ctx, task.ID, "crawl started")
	found, err := e.collab.Crawler.CrawlAssets(ctx, CrawlRequest{
		RunID:      task.Metadata.RunID,
		ProjectDir: task.Metadata.ProjectDir,
		Keywords:   task.Metadata.Keywords,
	})
	if err != nil {
		e.queue.AppendLog(ctx, task.ID, fmt.Sprintf("crawl failed: %v", err))
		return err
	}
	e.queue.AppendLog(ctx, task.ID, fmt.Sprintf("crawl found %d asset(s)", found))
	return nil
}

package pipeline

import (
	"context"
	"fmt"

	"cadence/internal/catalog"
	"cadence/internal/logging"
	"cadence/internal/queue"
)

// parkForUpload prepares the project directory for a manual-media title,
// optionally queues an asset crawl, and parks the schedule until scene
// assets appear.
func (e *Executor) parkForUpload(ctx context.Context, st *runState, script Script) (stepResult, error) {
	dir := ProjectDir(e.cfg.Paths.ProjectsDir, st.schedule.RunID, st.title.Title)
	placeholders := PlaceholderValues(e.cfg.Project.Placeholders, st.settings.Placeholders, st.title)
	if err := WriteStory(dir, NewStory(st.schedule, st.title, script, placeholders)); err != nil {
		return stepAdvance, e.fail(ctx, st, catalog.StageScript, err)
	}
	if err := e.catalog.SetProjectDir(ctx, st.schedule.ID, dir); err != nil {
		return stepAdvance, e.fail(ctx, st, catalog.StageScript, err)
	}
	st.schedule.ProjectDir = dir

	if e.cfg.Studio.CrawlerEnabled && e.queue != nil {
		task, err := e.queue.Enqueue(ctx, queue.EnqueueRequest{
			Type:     queue.TaskImage,
			Priority: st.title.Priority,
			Owner:    queue.Owner{User: st.title.ChannelID, Project: st.schedule.RunID},
			Metadata: queue.Metadata{
				ScheduleID: st.schedule.ID,
				TitleID:    st.title.ID,
				RunID:      st.schedule.RunID,
				ProjectDir: dir,
				Keywords:   st.title.Tags,
			},
			MaxRetries: e.cfg.Queue.DefaultMaxRetries,
		})
		if err != nil {
			logging.WarnWithContext(st.logger, "asset crawl not queued", "crawl_enqueue_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "place scene assets in the project directory by hand"),
				logging.String(logging.FieldImpact, "no automatic asset discovery for this run"),
			)
		} else {
			st.logger.Info("asset crawl queued",
				logging.TaskID(task.ID),
				logging.String(logging.FieldEventType, "crawl_enqueued"),
			)
		}
	}

	return e.park(ctx, st, fmt.Sprintf("Waiting for scene assets in %s", dir))
}

// pauseForInput handles a render that needs human-supplied media. The video
// stage goes back to pending so the resume path retries it.
func (e *Executor) pauseForInput(ctx context.Context, st *runState) (stepResult, error) {
	run := st.runs[catalog.StageVideo]
	if err := e.catalog.ResetStagePending(ctx, run.ID); err != nil {
		return stepAdvance, e.fail(ctx, st, catalog.StageVideo, err)
	}
	run.Status = catalog.StagePending
	e.catalog.AppendPipelineLog(ctx, run.ID, catalog.LevelInfo, "render awaiting media input")
	return e.park(ctx, st, "Render is waiting for media input")
}

func (e *Executor) park(ctx context.Context, st *runState, message string) (stepResult, error) {
	if err := e.catalog.TransitionSchedule(ctx, st.schedule.ID, catalog.ScheduleWaitingForUpload, catalog.TitleWaitingForUpload, ""); err != nil {
		return stepAdvance, err
	}
	st.schedule.Status = catalog.ScheduleWaitingForUpload
	e.catalog.AppendTitleLog(ctx, st.title.ID, catalog.LevelInfo, message)
	st.logger.Info("pipeline parked",
		logging.String("reason", message),
		logging.String(logging.FieldEventType, "pipeline_parked"),
	)
	return stepParked, nil
}

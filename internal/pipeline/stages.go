package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"cadence/internal/catalog"
	"cadence/internal/logging"
	"cadence/internal/notifications"
	"cadence/internal/retry"
	"cadence/internal/services"
)

// errParked signals that a stage paused for human input.
var errParked = errors.New("stage parked for input")

func (e *Executor) scriptStage(ctx context.Context, st *runState) (stepResult, error) {
	req := ScriptRequest{
		RunID:       st.schedule.RunID,
		TitleID:     st.title.ID,
		Title:       st.title.Title,
		ContentType: st.title.ContentType,
		Category:    st.title.Category,
		Tags:        st.title.Tags,
		Model:       st.title.Model,
		Mode:        st.title.ScriptMode,
		Metadata:    st.title.Metadata,
	}
	var script Script
	err := e.attempt(ctx, st, catalog.StageScript, func(ctx context.Context) error {
		generated, err := e.collab.Scripts.GenerateScript(ctx, req)
		if err != nil {
			return err
		}
		if strings.TrimSpace(generated.ID) == "" {
			return services.Wrap(services.ErrExternalTool, "script", "generate", "empty script reference", nil)
		}
		script = generated
		return nil
	})
	if err != nil {
		return stepAdvance, err
	}
	if err := e.catalog.SetScriptRef(ctx, st.schedule.ID, script.ID); err != nil {
		return stepAdvance, e.fail(ctx, st, catalog.StageScript, err)
	}
	st.schedule.ScriptRef = script.ID
	e.completeStage(ctx, st, catalog.StageScript, fmt.Sprintf("Script generated (%s)", script.ID))

	if st.title.MediaMode == catalog.MediaManual {
		return e.parkForUpload(ctx, st, script)
	}
	return stepAdvance, nil
}

func (e *Executor) videoStage(ctx context.Context, st *runState) (stepResult, error) {
	req := RenderRequest{
		RunID:       st.schedule.RunID,
		ScriptRef:   st.schedule.ScriptRef,
		ContentType: st.title.ContentType,
		MediaMode:   st.title.MediaMode,
		Model:       st.title.Model,
		ProjectDir:  st.schedule.ProjectDir,
	}
	var videoRef string
	err := e.attempt(ctx, st, catalog.StageVideo, func(ctx context.Context) error {
		ref, err := e.collab.Renderer.Render(ctx, req)
		if err != nil {
			return err
		}
		if strings.TrimSpace(ref) == "" {
			return services.Wrap(services.ErrExternalTool, "video", "render", "empty video reference", nil)
		}
		videoRef = ref
		return nil
	})
	if errors.Is(err, errParked) {
		return e.pauseForInput(ctx, st)
	}
	if err != nil {
		return stepAdvance, err
	}
	if err := e.catalog.SetVideoRef(ctx, st.schedule.ID, videoRef); err != nil {
		return stepAdvance, e.fail(ctx, st, catalog.StageVideo, err)
	}
	st.schedule.VideoRef = videoRef
	e.completeStage(ctx, st, catalog.StageVideo, fmt.Sprintf("Video rendered (%s)", videoRef))
	return stepAdvance, nil
}

func (e *Executor) uploadStage(ctx context.Context, st *runState) (stepResult, error) {
	req := UploadRequest{
		VideoRef:   st.schedule.VideoRef,
		ChannelID:  st.title.ChannelID,
		Visibility: st.schedule.Visibility,
		Title:      st.title.Title,
		Tags:       st.title.Tags,
	}
	if st.schedule.ProjectDir != "" {
		if story, err := ReadStory(st.schedule.ProjectDir); err == nil {
			if story.DisplayTitle != "" {
				req.Title = story.DisplayTitle
			}
			req.Description = story.Description
		}
	}
	var result UploadResult
	err := e.attempt(ctx, st, catalog.StageUpload, func(ctx context.Context) error {
		uploaded, err := e.collab.Uploader.Upload(ctx, req)
		if err != nil {
			return err
		}
		if strings.TrimSpace(uploaded.UploadID) == "" {
			return services.Wrap(services.ErrExternalTool, "upload", "upload", "empty upload reference", nil)
		}
		result = uploaded
		return nil
	})
	if err != nil {
		return stepAdvance, err
	}
	if err := e.catalog.SetUploadRef(ctx, st.schedule.ID, result.UploadID, result.URL); err != nil {
		return stepAdvance, e.fail(ctx, st, catalog.StageUpload, err)
	}
	st.schedule.UploadRef = result.UploadID
	st.schedule.PublishedURL = result.URL
	e.completeStage(ctx, st, catalog.StageUpload, fmt.Sprintf("Uploaded (%s)", result.URL))

	if st.title.ContentType == catalog.ContentLong {
		e.chainDerivative(ctx, st.schedule.ID, st.title.Title, st.schedule.VideoRef, result.URL)
	}
	return stepAdvance, nil
}

func (e *Executor) publishStage(ctx context.Context, st *runState) (stepResult, error) {
	err := e.attempt(ctx, st, catalog.StagePublish, func(ctx context.Context) error {
		return e.collab.Publisher.SchedulePublish(ctx, st.schedule.UploadRef, st.schedule.PublishAt, st.schedule.Visibility)
	})
	if err != nil {
		return stepAdvance, err
	}
	e.completeStage(ctx, st, catalog.StagePublish, "Publish scheduled")
	return e.finish(ctx, st)
}

// finish marks the schedule and title completed once every stage is done.
func (e *Executor) finish(ctx context.Context, st *runState) (stepResult, error) {
	if err := e.catalog.TransitionSchedule(ctx, st.schedule.ID, catalog.ScheduleCompleted, catalog.TitleCompleted, ""); err != nil {
		if errors.Is(err, catalog.ErrScheduleNotProcessing) {
			st.logger.Info("schedule left processing before completion", logging.Error(err))
			return stepDone, &StageError{ScheduleID: st.schedule.ID, Stage: catalog.StagePublish, Err: ErrStopped}
		}
		return stepDone, e.fail(ctx, st, catalog.StagePublish, err)
	}
	e.catalog.AppendTitleLog(ctx, st.title.ID, catalog.LevelInfo, "Pipeline completed")
	st.logger.Info("pipeline completed",
		logging.String(logging.FieldEventType, "pipeline_complete"),
		logging.String("published_url", st.schedule.PublishedURL),
	)
	e.publish(ctx, notifications.EventPipelineCompleted, notifications.Payload{
		"schedule_id": st.schedule.ID,
		"title_id":    st.title.ID,
		"title":       st.title.Title,
		"url":         st.schedule.PublishedURL,
	})
	return stepDone, nil
}

// attempt marks the stage running and calls op under the retry policy. It
// returns nil on success, errParked for an awaiting-input pause, the context
// error when interrupted, and a recorded *StageError otherwise.
func (e *Executor) attempt(ctx context.Context, st *runState, stage catalog.Stage, op func(context.Context) error) error {
	run := st.runs[stage]
	logger := logging.ForStage(st.logger, string(stage), e.cfg.Logging.StageOverrides)

	if err := e.catalog.MarkStageRunning(ctx, run.ID); err != nil {
		return e.fail(ctx, st, stage, err)
	}
	run.Status = catalog.StageRunning
	e.catalog.AppendPipelineLog(ctx, run.ID, catalog.LevelInfo, fmt.Sprintf("%s stage started", stage))
	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"))

	backoff := e.cfg.StageRetryBackoff()
	result := retry.Do(ctx, retry.Policy{
		Attempts:     st.settings.MaxRetry,
		InitialDelay: backoff,
		MaxDelay:     8 * backoff,
		Retryable:    services.Retryable,
		OnFailure: func(attempt int, err error) {
			if errors.Is(err, services.ErrAwaitingInput) || ctx.Err() != nil {
				return
			}
			if recErr := e.catalog.RecordStageAttemptFailure(ctx, run.ID, err.Error()); recErr != nil {
				logger.Debug("record attempt failure", logging.Error(recErr))
			}
			e.catalog.AppendPipelineLog(ctx, run.ID, catalog.LevelWarn, fmt.Sprintf("attempt %d failed: %v", attempt, err))
			logging.WarnWithContext(logger, "stage attempt failed", "stage_attempt_failed",
				logging.Int("attempt", attempt),
				logging.Int("max_attempts", st.settings.MaxRetry),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the production service"),
				logging.String(logging.FieldImpact, "stage will retry until attempts are exhausted"),
			)
		},
	}, func(ctx context.Context, _ int) error {
		return op(ctx)
	})

	switch {
	case result.OK():
		return nil
	case errors.Is(result.Err, services.ErrAwaitingInput):
		return errParked
	case ctx.Err() != nil:
		e.interrupted(ctx, st, stage, logger)
		return ctx.Err()
	default:
		return e.fail(ctx, st, stage, result.Err)
	}
}

func (e *Executor) completeStage(ctx context.Context, st *runState, stage catalog.Stage, message string) {
	run := st.runs[stage]
	if err := e.catalog.MarkStageCompleted(ctx, run.ID); err != nil {
		st.logger.Debug("mark stage completed", logging.Error(err))
	}
	run.Status = catalog.StageCompleted
	e.catalog.AppendPipelineLog(ctx, run.ID, catalog.LevelInfo, message)
	e.catalog.AppendTitleLog(ctx, st.title.ID, catalog.LevelInfo, message)
	st.logger.Info("stage completed",
		logging.String(logging.FieldStage, string(stage)),
		logging.String(logging.FieldEventType, "stage_complete"),
	)
}

// fail records a terminal stage failure on the stage run, schedule, and title,
// and sends exactly one failure notification.
func (e *Executor) fail(ctx context.Context, st *runState, stage catalog.Stage, cause error) error {
	if errors.Is(context.Cause(ctx), ErrStopped) {
		return &StageError{ScheduleID: st.schedule.ID, Stage: stage, Err: ErrStopped}
	}
	ctx = context.WithoutCancel(ctx)
	message := cause.Error()
	if run := st.runs[stage]; run != nil {
		if err := e.catalog.MarkStageFailed(ctx, run.ID, message); err != nil {
			st.logger.Debug("mark stage failed", logging.Error(err))
		}
		run.Status = catalog.StageFailed
		e.catalog.AppendPipelineLog(ctx, run.ID, catalog.LevelError, message)
	}
	if err := e.catalog.TransitionSchedule(ctx, st.schedule.ID, catalog.ScheduleFailed, catalog.TitleFailed, message); err != nil {
		if errors.Is(err, catalog.ErrScheduleNotProcessing) {
			st.logger.Info("schedule already left processing; failure not recorded", logging.Error(cause))
			return &StageError{ScheduleID: st.schedule.ID, Stage: stage, Err: cause}
		}
		st.logger.Debug("mark schedule failed", logging.Error(err))
	}
	e.catalog.AppendTitleLog(ctx, st.title.ID, catalog.LevelError, fmt.Sprintf("%s stage failed: %s", stage, message))
	logging.ErrorWithContext(st.logger, "pipeline failed", "pipeline_failed",
		logging.String(logging.FieldStage, string(stage)),
		logging.Error(cause),
		logging.String(logging.FieldErrorHint, failureHint(cause)),
	)
	e.publish(ctx, notifications.EventPipelineFailed, notifications.Payload{
		"schedule_id": st.schedule.ID,
		"title_id":    st.title.ID,
		"title":       st.title.Title,
		"stage":       string(stage),
		"error":       message,
	})
	return &StageError{ScheduleID: st.schedule.ID, Stage: stage, Err: cause}
}

// interrupted returns the stage to pending and leaves the schedule processing,
// the same state a crash leaves behind, so recovery treats both alike. A run
// stopped by an operator keeps the failed stage its stop recorded.
func (e *Executor) interrupted(ctx context.Context, st *runState, stage catalog.Stage, logger *slog.Logger) {
	if errors.Is(context.Cause(ctx), ErrStopped) {
		logger.Info("stage stopped", logging.String(logging.FieldEventType, "stage_stopped"))
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := e.catalog.ResetStagePending(ctx, st.runs[stage].ID); err != nil {
		logger.Debug("reset interrupted stage", logging.Error(err))
	}
	e.catalog.AppendPipelineLog(ctx, st.runs[stage].ID, catalog.LevelWarn, "interrupted by shutdown")
	logging.WarnWithContext(logger, "stage interrupted", "stage_interrupted",
		logging.String(logging.FieldErrorHint, "recovery restarts this stage once the schedule is idle past workflow.recovery_grace_seconds; run 'cadence schedule stop' to fail it instead"),
		logging.String(logging.FieldImpact, "stage will not finish in this process"),
	)
}

func (e *Executor) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := e.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(e.logger, "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic or the alert_destination setting"),
			logging.String(logging.FieldImpact, "operator was not alerted"),
		)
	}
}

func failureHint(err error) string {
	switch {
	case errors.Is(err, services.ErrValidation):
		return "fix the title's fields and schedule it again"
	case errors.Is(err, services.ErrConfiguration):
		return "check the [studio] section of config.toml"
	case errors.Is(err, services.ErrNotFound):
		return "the referenced artifact no longer exists upstream"
	default:
		return "check the production service and schedule the title again"
	}
}

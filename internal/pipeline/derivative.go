package pipeline

import (
	"context"
	"fmt"

	"cadence/internal/catalog"
	"cadence/internal/logging"
	"cadence/internal/notifications"
	"cadence/internal/services"
)

// DerivativeFormat is the format requested for cut-downs of long videos.
const DerivativeFormat = "short"

// chainDerivative requests a short cut of a freshly uploaded long video.
// It runs in the background and never affects the parent schedule.
func (e *Executor) chainDerivative(ctx context.Context, scheduleID int64, title, videoRef, parentURL string) {
	if e.collab.Derivatives == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		logger := logging.WithContext(ctx, e.logger)
		jobID, err := e.collab.Derivatives.RequestDerivative(ctx, DerivativeRequest{
			ScheduleID: scheduleID,
			VideoRef:   videoRef,
			ParentURL:  parentURL,
			Format:     DerivativeFormat,
		})
		if err == nil {
			err = e.catalog.SetDerivative(ctx, scheduleID, jobID, parentURL)
		}
		if err != nil {
			logging.WarnWithContext(logger, "derivative request failed", "derivative_request_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "request the short cut manually"),
				logging.String(logging.FieldImpact, "no short derivative for "+title),
			)
			if sched, getErr := e.catalog.GetSchedule(ctx, scheduleID); getErr == nil {
				e.catalog.AppendTitleLog(ctx, sched.TitleID, catalog.LevelWarn, fmt.Sprintf("Derivative request failed: %v", err))
			}
			return
		}
		logger.Info("derivative requested",
			logging.String("job_id", jobID),
			logging.String(logging.FieldEventType, "derivative_requested"),
		)
	}()
}

// CompleteDerivative polls a requested derivative job and uploads the
// result once the job finishes. Pending jobs are left for the next poll.
func (e *Executor) CompleteDerivative(ctx context.Context, schedule *catalog.Schedule) error {
	if schedule.DerivativeState != catalog.DerivativeRequested || schedule.DerivativeJobID == "" {
		return nil
	}
	if e.collab.Derivatives == nil {
		return services.Wrap(services.ErrConfiguration, "derivative", "poll", "no derivative service configured", nil)
	}
	ctx = services.WithScheduleID(ctx, schedule.ID)
	logger := logging.WithContext(ctx, e.logger).With(logging.Args(logging.String("job_id", schedule.DerivativeJobID))...)

	status, err := e.collab.Derivatives.DerivativeStatus(ctx, schedule.DerivativeJobID)
	if err != nil {
		return err
	}
	title, err := e.catalog.GetTitle(ctx, schedule.TitleID)
	if err != nil {
		return err
	}

	switch status.State {
	case DerivativeJobCompleted:
		won, err := e.catalog.ClaimDerivativeUpload(ctx, schedule.ID)
		if err != nil {
			return err
		}
		if !won {
			logger.Debug("derivative upload already claimed")
			return nil
		}
		result, err := e.collab.Uploader.Upload(ctx, UploadRequest{
			VideoRef:    status.VideoRef,
			ChannelID:   title.ChannelID,
			Visibility:  schedule.Visibility,
			Title:       title.Title,
			Description: "Full video: " + schedule.ParentURL,
			Tags:        title.Tags,
		})
		if err != nil {
			if resetErr := e.catalog.SetDerivativeState(context.WithoutCancel(ctx), schedule.ID, catalog.DerivativeRequested); resetErr != nil {
				logger.Debug("release derivative upload claim", logging.Error(resetErr))
			}
			return err
		}
		if err := e.catalog.SetDerivativeState(ctx, schedule.ID, catalog.DerivativeUploaded); err != nil {
			return err
		}
		e.catalog.AppendTitleLog(ctx, title.ID, catalog.LevelInfo, fmt.Sprintf("Derivative uploaded (%s)", result.URL))
		logger.Info("derivative uploaded",
			logging.String("url", result.URL),
			logging.String(logging.FieldEventType, "derivative_uploaded"),
		)
	case DerivativeJobFailed:
		if err := e.catalog.SetDerivativeState(ctx, schedule.ID, catalog.DerivativeFailed); err != nil {
			return err
		}
		e.catalog.AppendTitleLog(ctx, title.ID, catalog.LevelWarn, fmt.Sprintf("Derivative failed: %s", status.Error))
		logging.WarnWithContext(logger, "derivative job failed", "derivative_failed",
			logging.String("job_error", status.Error),
			logging.String(logging.FieldErrorHint, "inspect the derivative service"),
			logging.String(logging.FieldImpact, "no short derivative for this upload"),
		)
		e.publish(ctx, notifications.EventDerivativeFailed, notifications.Payload{
			"schedule_id": schedule.ID,
			"title":       title.Title,
			"error":       status.Error,
		})
	}
	return nil
}

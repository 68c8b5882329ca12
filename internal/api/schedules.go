package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"cadence/internal/catalog"
)

// ScheduleRequest attaches a schedule to a title.
type ScheduleRequest struct {
	TitleID     int64      `json:"titleId"`
	ScheduledAt time.Time  `json:"scheduledAt"`
	PublishAt   *time.Time `json:"publishAt,omitempty"`
	Visibility  string     `json:"visibility,omitempty"`
}

// NewSchedule converts the request for the catalog.
func (r ScheduleRequest) NewSchedule() (catalog.NewSchedule, error) {
	out := catalog.NewSchedule{
		TitleID:     r.TitleID,
		ScheduledAt: r.ScheduledAt,
		PublishAt:   r.PublishAt,
	}
	if r.Visibility != "" {
		visibility, err := catalog.ParseVisibility(r.Visibility)
		if err != nil {
			return catalog.NewSchedule{}, err
		}
		out.Visibility = visibility
	}
	return out, nil
}

type scheduleIDPath struct {
	ID int64 `path:"id"`
}

type createScheduleOutput struct {
	Status int
	Body   Schedule
}

type scheduleOutput struct {
	Body Schedule
}

type scheduleListOutput struct {
	Body []Schedule
}

func registerSchedules(api huma.API, deps Deps) {
	huma.Register(api, huma.Operation{
		OperationID: "create-schedule",
		Method:      http.MethodPost,
		Path:        "/schedules",
		Summary:     "Schedule a title; returns the existing active schedule on duplicates",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct{ Body ScheduleRequest }) (*createScheduleOutput, error) {
		req, err := input.Body.NewSchedule()
		if err != nil {
			return nil, handleError(err)
		}
		schedule, created, err := deps.Catalog.CreateSchedule(ctx, req)
		if err != nil {
			return nil, handleError(err)
		}
		out := &createScheduleOutput{Status: http.StatusOK, Body: FromSchedule(schedule, nil)}
		if created {
			out.Status = http.StatusCreated
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-schedules",
		Method:      http.MethodGet,
		Path:        "/schedules",
		Summary:     "List schedules by execution time",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status  string `query:"status"`
		TitleID int64  `query:"titleId"`
		Limit   int    `query:"limit" minimum:"0"`
	}) (*scheduleListOutput, error) {
		filter := catalog.ScheduleFilter{TitleID: input.TitleID, Limit: input.Limit}
		if input.Status != "" {
			status, err := catalog.ParseScheduleStatus(input.Status)
			if err != nil {
				return nil, handleError(err)
			}
			filter.Status = status
		}
		schedules, err := deps.Catalog.ListSchedules(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		out := &scheduleListOutput{Body: make([]Schedule, 0, len(schedules))}
		for _, s := range schedules {
			out.Body = append(out.Body, FromSchedule(s, nil))
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-schedule",
		Method:      http.MethodGet,
		Path:        "/schedules/{id}",
		Summary:     "Get a schedule with its stage runs",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *scheduleIDPath) (*scheduleOutput, error) {
		return loadSchedule(ctx, deps.Catalog, input.ID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-schedule",
		Method:      http.MethodPost,
		Path:        "/schedules/{id}/cancel",
		Summary:     "Cancel a pending or parked schedule",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *scheduleIDPath) (*scheduleOutput, error) {
		if deps.Executor == nil {
			return nil, unavailable("pipeline executor")
		}
		if err := deps.Executor.CancelSchedule(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return loadSchedule(ctx, deps.Catalog, input.ID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-schedule",
		Method:      http.MethodPost,
		Path:        "/schedules/{id}/stop",
		Summary:     "Fail a processing schedule and free its title",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *scheduleIDPath) (*scheduleOutput, error) {
		if deps.Executor == nil {
			return nil, unavailable("pipeline executor")
		}
		if err := deps.Executor.StopSchedule(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return loadSchedule(ctx, deps.Catalog, input.ID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-schedule",
		Method:      http.MethodPost,
		Path:        "/schedules/{id}/resume",
		Summary:     "Resume a schedule parked for manual upload",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *scheduleIDPath) (*scheduleOutput, error) {
		if deps.Executor == nil {
			return nil, unavailable("pipeline executor")
		}
		resumed, err := deps.Executor.Resume(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !resumed {
			if _, err := deps.Catalog.GetSchedule(ctx, input.ID); err != nil {
				return nil, handleError(err)
			}
			return nil, handleError(fmt.Errorf("schedule %d: %w", input.ID, catalog.ErrScheduleNotWaiting))
		}
		return loadSchedule(ctx, deps.Catalog, input.ID)
	})
}

func loadSchedule(ctx context.Context, cat *catalog.Store, id int64) (*scheduleOutput, error) {
	schedule, err := cat.GetSchedule(ctx, id)
	if err != nil {
		return nil, handleError(err)
	}
	runs, err := cat.StageRuns(ctx, id)
	if err != nil {
		return nil, handleError(err)
	}
	return &scheduleOutput{Body: FromSchedule(schedule, runs)}, nil
}

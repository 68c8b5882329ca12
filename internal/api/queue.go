package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"cadence/internal/queue"
	"cadence/internal/services"
)

type taskIDPath struct {
	ID int64 `path:"id"`
}

type taskOutput struct {
	Body Task
}

type taskListOutput struct {
	Body []Task
}

type queueSummaryOutput struct {
	Body map[string]map[string]int
}

type queueHealthOutput struct {
	Body QueueHealth
}

type positionOutput struct {
	Body struct {
		ID       int64 `json:"id"`
		Waiting  bool  `json:"waiting"`
		Position int   `json:"position"`
	}
}

func registerQueue(api huma.API, deps Deps) {
	huma.Register(api, huma.Operation{
		OperationID: "list-queue",
		Method:      http.MethodGet,
		Path:        "/queue",
		Summary:     "List admission-queue tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type"`
		Status string `query:"status"`
		Owner  string `query:"owner"`
		Limit  int    `query:"limit" minimum:"0"`
		Offset int    `query:"offset" minimum:"0"`
	}) (*taskListOutput, error) {
		filter := queue.Filter{Owner: input.Owner, Limit: input.Limit, Offset: input.Offset}
		if input.Type != "" {
			t, err := queue.ParseTaskType(input.Type)
			if err != nil {
				return nil, handleError(err)
			}
			filter.Type = t
		}
		if input.Status != "" {
			status, err := queue.ParseStatus(input.Status)
			if err != nil {
				return nil, handleError(fmt.Errorf("%w: %v", services.ErrValidation, err))
			}
			filter.Status = status
		}
		tasks, err := deps.Queue.List(ctx, filter)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskListOutput{Body: FromTasks(tasks)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "queue-summary",
		Method:      http.MethodGet,
		Path:        "/queue/summary",
		Summary:     "Task counts per type and status",
	}, func(ctx context.Context, _ *struct{}) (*queueSummaryOutput, error) {
		summary, err := deps.Queue.Summary(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &queueSummaryOutput{Body: FromSummary(summary)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "queue-health",
		Method:      http.MethodGet,
		Path:        "/queue/health",
		Summary:     "Tasks processing longer than the staleness threshold",
	}, func(ctx context.Context, input *struct {
		StaleMinutes int `query:"staleMinutes" minimum:"0"`
	}) (*queueHealthOutput, error) {
		staleAfter := deps.QueueStaleAfter
		if input.StaleMinutes > 0 {
			staleAfter = time.Duration(input.StaleMinutes) * time.Minute
		}
		report, err := deps.Queue.HealthCheck(ctx, staleAfter)
		if err != nil {
			return nil, handleError(err)
		}
		return &queueHealthOutput{Body: QueueHealth{
			Healthy:    report.Healthy(),
			StaleAfter: report.StaleAfter.String(),
			Stuck:      FromTasks(report.Stuck),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/queue/{id}",
		Summary:     "Get a queue task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskIDPath) (*taskOutput, error) {
		task, err := deps.Queue.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: FromTask(task)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-task",
		Method:      http.MethodPost,
		Path:        "/queue/{id}/cancel",
		Summary:     "Cancel a waiting task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *taskIDPath) (*taskOutput, error) {
		if err := deps.Queue.Cancel(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		task, err := deps.Queue.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: FromTask(task)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-position",
		Method:      http.MethodGet,
		Path:        "/queue/{id}/position",
		Summary:     "Position of a waiting task within its type",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskIDPath) (*positionOutput, error) {
		position, ok, err := deps.Queue.Position(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &positionOutput{}
		out.Body.ID = input.ID
		out.Body.Waiting = ok
		out.Body.Position = position
		return out, nil
	})
}

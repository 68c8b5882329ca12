package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"cadence/internal/logging"
)

type healthOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

type statusOutput struct {
	Body DaemonStatus
}

type testNotifyOutput struct {
	Body struct {
		Sent bool `json:"sent"`
	}
}

func registerSystem(api huma.API, deps Deps) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Liveness check",
	}, func(context.Context, *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "ok"
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Daemon status",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*statusOutput, error) {
		if deps.Status == nil {
			return nil, unavailable("daemon status")
		}
		return &statusOutput{Body: deps.Status(ctx)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "test-notification",
		Method:      http.MethodPost,
		Path:        "/notifications/test",
		Summary:     "Send a test notification",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, _ *struct{}) (*testNotifyOutput, error) {
		if err := deps.Notifier.TestNotification(ctx); err != nil {
			logging.WarnWithContext(deps.Logger, "test notification failed", "notification_test_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and the alert_destination setting"),
				logging.String(logging.FieldImpact, "operators will not receive pipeline alerts"),
			)
			return nil, handleError(err)
		}
		out := &testNotifyOutput{}
		out.Body.Sent = true
		return out, nil
	})
}

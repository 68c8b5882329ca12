package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"cadence/internal/catalog"
	"cadence/internal/logging"
	"cadence/internal/notifications"
	"cadence/internal/pipeline"
	"cadence/internal/queue"
	"cadence/internal/services"
)

// BasePath prefixes every route.
const BasePath = "/v1"

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Deps are the collaborators the handler serves from. Executor and Status may
// be nil, in which case the routes that need them answer 503.
type Deps struct {
	Catalog  *catalog.Store
	Queue    *queue.Store
	Executor *pipeline.Executor
	Notifier notifications.Service
	Status   func(ctx context.Context) DaemonStatus
	Logger   *slog.Logger

	// QueueStaleAfter is the default threshold for the queue health route.
	QueueStaleAfter time.Duration
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// apiError is the single error envelope every route returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

var overrideErrors sync.Once

// NewHandler returns the admin API mounted on a chi router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewNoop()
	}
	deps.Logger = logging.NewComponentLogger(deps.Logger, "api")

	overrideErrors.Do(func() {
		huma.DefaultArrayNullable = false
		huma.NewError = func(status int, msg string, _ ...error) huma.StatusError {
			return newAPIError(status, "", msg)
		}
		huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
			if status == http.StatusUnprocessableEntity {
				status = http.StatusBadRequest
			}
			if len(errs) > 0 {
				details := make([]string, 0, len(errs))
				for _, err := range errs {
					details = append(details, err.Error())
				}
				msg = msg + ": " + strings.Join(details, "; ")
			}
			return newAPIError(status, "", msg)
		}
	})

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestID(deps.Logger))

	cfg := huma.DefaultConfig("Cadence API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)
	group := huma.NewGroup(api, BasePath)

	registerSystem(group, deps)
	registerTitles(group, deps)
	registerSchedules(group, deps)
	registerQueue(group, deps)
	registerSettings(group, deps)

	return router
}

func requestID(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			ctx := services.WithRequestID(r.Context(), id)
			logger.Debug("api request",
				logging.String("request_id", id),
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newAPIError(status int, code, message string) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message}}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		if status >= 500 {
			return "internal"
		}
		return "error"
	}
}

// handleError maps domain sentinels onto HTTP statuses.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, queue.ErrTaskNotFound), errors.Is(err, services.ErrNotFound):
		return newAPIError(http.StatusNotFound, "", err.Error())
	case errors.Is(err, catalog.ErrInvalid), errors.Is(err, queue.ErrUnknownTaskType), errors.Is(err, services.ErrValidation):
		return newAPIError(http.StatusBadRequest, "", err.Error())
	case errors.Is(err, catalog.ErrScheduleNotPending),
		errors.Is(err, catalog.ErrScheduleNotWaiting),
		errors.Is(err, catalog.ErrScheduleNotProcessing),
		errors.Is(err, catalog.ErrTitleBusy),
		errors.Is(err, pipeline.ErrNotCancellable),
		errors.Is(err, queue.ErrNotCancellable),
		errors.Is(err, queue.ErrNotRequeueable):
		return newAPIError(http.StatusConflict, "", err.Error())
	default:
		return newAPIError(http.StatusInternalServerError, "", err.Error())
	}
}

func unavailable(what string) huma.StatusError {
	return newAPIError(http.StatusServiceUnavailable, "", what+" is not available in this process")
}

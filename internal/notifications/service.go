package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"cadence/internal/config"
)

const userAgent = "Cadence-Go/0.1.0"

// Event identifies a notification type.
type Event string

const (
	EventPipelineFailed    Event = "pipeline_failed"
	EventPipelineCompleted Event = "pipeline_completed"
	EventDerivativeFailed  Event = "derivative_failed"
	EventStuckTasks        Event = "stuck_tasks"
	EventTest              Event = "test"
)

// Payload carries event-specific values. Well-known keys are schedule_id,
// title_id, title, stage, error, url, count, and task_type.
type Payload map[string]any

// Service defines the notification surface exposed to pipeline components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
	TestNotification(ctx context.Context) error
}

// DestinationFunc resolves a runtime destination that overrides the configured topic.
type DestinationFunc func(ctx context.Context) string

// Option customizes NewService.
type Option func(*ntfyService)

// WithDestination installs a runtime destination resolver.
func WithDestination(fn DestinationFunc) Option {
	return func(n *ntfyService) {
		n.destination = fn
	}
}

// NewService builds a notification service backed by ntfy when a topic or a
// destination resolver is configured, and a noop implementation otherwise.
func NewService(cfg *config.Config, opts ...Option) Service {
	svc := &ntfyService{
		endpoint:    strings.TrimSpace(cfg.Notifications.NtfyTopic),
		completions: cfg.Notifications.Completions,
	}
	for _, opt := range opts {
		opt(svc)
	}
	if svc.endpoint == "" && svc.destination == nil {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	client.HTTPClient.Timeout = timeout
	svc.client = client
	return svc
}

// NewNoop returns a notifier that drops every event.
func NewNoop() Service {
	return noopService{}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	destination DestinationFunc
	completions bool
	client      *retryablehttp.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.Publish(ctx, EventTest, nil)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventPipelineFailed:
		title := payload.text("title")
		if title == "" {
			title = fmt.Sprintf("schedule %s", payload.text("schedule_id"))
		}
		var b strings.Builder
		fmt.Fprintf(&b, "❌ %s failed at %s", title, payload.text("stage"))
		if errText := payload.text("error"); errText != "" {
			fmt.Fprintf(&b, ": %s", errText)
		}
		if id := payload.text("schedule_id"); id != "" {
			fmt.Fprintf(&b, "\nSchedule #%s", id)
		}
		return message{
			title:    "Cadence - Pipeline Failed",
			body:     b.String(),
			tags:     []string{"cadence", "pipeline", "failed"},
			priority: "high",
		}, true
	case EventPipelineCompleted:
		if !n.completions {
			return message{}, false
		}
		body := fmt.Sprintf("✅ Published: %s", payload.text("title"))
		if url := payload.text("url"); url != "" {
			body += "\n" + url
		}
		return message{
			title: "Cadence - Published",
			body:  body,
			tags:  []string{"cadence", "pipeline", "completed"},
		}, true
	case EventDerivativeFailed:
		return message{
			title: "Cadence - Derivative Failed",
			body:  fmt.Sprintf("⚠️ Short-form derivative for %s failed: %s", payload.text("title"), payload.text("error")),
			tags:  []string{"cadence", "derivative", "failed"},
		}, true
	case EventStuckTasks:
		return message{
			title:    "Cadence - Stuck Tasks",
			body:     fmt.Sprintf("⏳ %s queue task(s) processing past the staleness threshold", payload.text("count")),
			tags:     []string{"cadence", "queue", "stuck"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Cadence - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"cadence", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) resolveEndpoint(ctx context.Context) string {
	if n.destination != nil {
		if dest := strings.TrimSpace(n.destination(ctx)); dest != "" {
			return dest
		}
	}
	return n.endpoint
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}
	endpoint := n.resolveEndpoint(ctx)
	if endpoint == "" {
		return nil
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) text(key string) string {
	if p == nil {
		return ""
	}
	value, ok := p[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
func (noopService) TestNotification(context.Context) error        { return nil }

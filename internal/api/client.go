package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrDaemonUnreachable is returned when no daemon answers at the API address.
var ErrDaemonUnreachable = errors.New("daemon API unreachable")

// ResponseError is a non-2xx answer decoded from the error envelope.
type ResponseError struct {
	Status  int
	Code    string
	Message string
}

func (e *ResponseError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.Status)
	}
	return fmt.Sprintf("daemon returned %d (%s): %s", e.Status, e.Code, e.Message)
}

// Client calls a running daemon's admin API.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

// NewClient returns a client for the daemon listening on bind (host:port).
func NewClient(bind string) *Client {
	retry := retryablehttp.NewClient()
	retry.RetryMax = 1
	retry.RetryWaitMin = 100 * time.Millisecond
	retry.RetryWaitMax = 500 * time.Millisecond
	retry.Logger = nil
	retry.HTTPClient.Timeout = 15 * time.Second
	return &Client{baseURL: BaseURL(bind), http: retry}
}

// BaseURL turns a listen address into a loopback URL the CLI can dial.
func BaseURL(bind string) string {
	bind = strings.TrimSpace(bind)
	if strings.HasPrefix(bind, "http://") || strings.HasPrefix(bind, "https://") {
		return strings.TrimRight(bind, "/")
	}
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return "http://" + bind
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// Health reports whether the daemon answers.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Status fetches the daemon's runtime status.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var status DaemonStatus
	err := c.do(ctx, http.MethodGet, "/status", nil, &status)
	return status, err
}

// ResumeSchedule asks the daemon to resume a parked schedule.
func (c *Client) ResumeSchedule(ctx context.Context, id int64) (Schedule, error) {
	var schedule Schedule
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/schedules/%d/resume", id), nil, &schedule)
	return schedule, err
}

// StopSchedule asks the daemon to fail a processing schedule.
func (c *Client) StopSchedule(ctx context.Context, id int64) (Schedule, error) {
	var schedule Schedule
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/schedules/%d/stop", id), nil, &schedule)
	return schedule, err
}

// TestNotify asks the daemon to send a test notification.
func (c *Client) TestNotify(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/notifications/test", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, payload, response any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+BasePath+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w at %s: %v", ErrDaemonUnreachable, c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var envelope apiError
		_ = json.Unmarshal(data, &envelope)
		return &ResponseError{Status: resp.StatusCode, Code: envelope.Body.Code, Message: envelope.Body.Message}
	}
	if response == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, response); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

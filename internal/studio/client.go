package studio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"cadence/internal/config"
	"cadence/internal/pipeline"
	"cadence/internal/services"
)

// Client talks to the studio API.
type Client struct {
	baseURL     string
	token       string
	readClient  *http.Client
	writeClient *http.Client
}

var (
	_ pipeline.ScriptGenerator   = (*Client)(nil)
	_ pipeline.Renderer          = (*Client)(nil)
	_ pipeline.Uploader          = (*Client)(nil)
	_ pipeline.Publisher         = (*Client)(nil)
	_ pipeline.DerivativeService = (*Client)(nil)
	_ pipeline.AssetCrawler      = (*Client)(nil)
)

// New builds a client. GET requests retry at the transport level on
// connection errors and 5xx responses, up to studio.retry_max times. POST
// requests are sent once per call; re-sending a write is left to the stage
// retry policy so one stage attempt never produces more than one upload.
func New(cfg *config.Config) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.Studio.BaseURL, "/"),
		token:       cfg.Studio.APIToken,
		readClient:  newHTTPClient(cfg, cfg.Studio.RetryMax),
		writeClient: newHTTPClient(cfg, 0),
	}
}

func newHTTPClient(cfg *config.Config, retryMax int) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.RetryWaitMin = 250 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil
	// Hand the last response back so its status maps to an error marker.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.HTTPClient.Timeout = cfg.StudioTimeout()
	return retryClient.StandardClient()
}

func (c *Client) clientFor(method string) *http.Client {
	switch method {
	case http.MethodGet, http.MethodHead:
		return c.readClient
	default:
		return c.writeClient
	}
}

// Collaborators exposes the client as every pipeline collaborator. The
// crawler is omitted when crawling is disabled.
func (c *Client) Collaborators(crawlerEnabled bool) pipeline.Collaborators {
	collab := pipeline.Collaborators{
		Scripts:     c,
		Renderer:    c,
		Uploader:    c,
		Publisher:   c,
		Derivatives: c,
	}
	if crawlerEnabled {
		collab.Crawler = c
	}
	return collab
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do sends payload as JSON and decodes a 2xx body into response. It returns
// the status code so callers can interpret non-error codes such as 202.
func (c *Client) do(ctx context.Context, stage, op, method, path string, payload, response any) (int, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, services.Wrap(services.ErrValidation, stage, op, "encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, services.Wrap(services.ErrConfiguration, stage, op, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.clientFor(method).Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, services.Wrap(services.ErrTimeout, stage, op, "request timed out", err)
		}
		return 0, services.Wrap(services.ErrExternalTool, stage, op, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, statusError(stage, op, resp)
	}
	if response != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(response); err != nil && !errors.Is(err, io.EOF) {
			return resp.StatusCode, services.Wrap(services.ErrExternalTool, stage, op, "decode response", err)
		}
	}
	return resp.StatusCode, nil
}

func statusError(stage, op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(raw))
	var parsed apiError
	if json.Unmarshal(raw, &parsed) == nil {
		if parsed.Error != "" {
			detail = parsed.Error
		} else if parsed.Message != "" {
			detail = parsed.Message
		}
	}
	message := fmt.Sprintf("status %d", resp.StatusCode)
	if detail != "" {
		message += ": " + detail
	}

	marker := services.ErrExternalTool
	switch {
	case resp.StatusCode == http.StatusNotFound:
		marker = services.ErrNotFound
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		marker = services.ErrTransient
	case resp.StatusCode < 500:
		marker = services.ErrValidation
	}
	return services.Wrap(marker, stage, op, message, nil)
}

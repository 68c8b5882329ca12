package studio

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cadence/internal/catalog"
	"cadence/internal/pipeline"
	"cadence/internal/services"
)

type scriptRequest struct {
	RunID       string                 `json:"run_id"`
	TitleID     int64                  `json:"title_id"`
	Title       string                 `json:"title"`
	ContentType catalog.ContentType    `json:"content_type"`
	Category    string                 `json:"category,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Model       string                 `json:"model,omitempty"`
	Mode        catalog.ScriptMode     `json:"mode"`
	Metadata    *catalog.TitleMetadata `json:"metadata,omitempty"`
}

// GenerateScript calls POST /v1/scripts.
func (c *Client) GenerateScript(ctx context.Context, req pipeline.ScriptRequest) (pipeline.Script, error) {
	var script pipeline.Script
	_, err := c.do(ctx, "script", "generate", http.MethodPost, "/v1/scripts", scriptRequest{
		RunID:       req.RunID,
		TitleID:     req.TitleID,
		Title:       req.Title,
		ContentType: req.ContentType,
		Category:    req.Category,
		Tags:        req.Tags,
		Model:       req.Model,
		Mode:        req.Mode,
		Metadata:    req.Metadata,
	}, &script)
	return script, err
}

type renderRequest struct {
	RunID       string              `json:"run_id"`
	ScriptID    string              `json:"script_id"`
	ContentType catalog.ContentType `json:"content_type"`
	MediaMode   catalog.MediaMode   `json:"media_mode"`
	Model       string              `json:"model,omitempty"`
	ProjectDir  string              `json:"project_dir,omitempty"`
}

type renderResponse struct {
	VideoID string `json:"video_id"`
	Status  string `json:"status"`
}

// Render calls POST /v1/renders. A 202 response or an awaiting_input status
// becomes services.ErrAwaitingInput.
func (c *Client) Render(ctx context.Context, req pipeline.RenderRequest) (string, error) {
	var resp renderResponse
	code, err := c.do(ctx, "video", "render", http.MethodPost, "/v1/renders", renderRequest{
		RunID:       req.RunID,
		ScriptID:    req.ScriptRef,
		ContentType: req.ContentType,
		MediaMode:   req.MediaMode,
		Model:       req.Model,
		ProjectDir:  req.ProjectDir,
	}, &resp)
	if err != nil {
		return "", err
	}
	if code == http.StatusAccepted || strings.EqualFold(resp.Status, "awaiting_input") {
		return "", services.Wrap(services.ErrAwaitingInput, "video", "render", "render awaiting media input", nil)
	}
	return resp.VideoID, nil
}

type uploadRequest struct {
	VideoID     string             `json:"video_id"`
	ChannelID   string             `json:"channel_id,omitempty"`
	Visibility  catalog.Visibility `json:"visibility"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Tags        []string           `json:"tags,omitempty"`
}

// Upload calls POST /v1/uploads.
func (c *Client) Upload(ctx context.Context, req pipeline.UploadRequest) (pipeline.UploadResult, error) {
	var result pipeline.UploadResult
	_, err := c.do(ctx, "upload", "upload", http.MethodPost, "/v1/uploads", uploadRequest{
		VideoID:     req.VideoRef,
		ChannelID:   req.ChannelID,
		Visibility:  req.Visibility,
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
	}, &result)
	return result, err
}

type publishRequest struct {
	PublishAt  *time.Time         `json:"publish_at,omitempty"`
	Visibility catalog.Visibility `json:"visibility"`
}

// SchedulePublish calls POST /v1/uploads/{id}/publish. A nil time publishes
// immediately.
func (c *Client) SchedulePublish(ctx context.Context, uploadRef string, at *time.Time, visibility catalog.Visibility) error {
	if at != nil {
		utc := at.UTC()
		at = &utc
	}
	_, err := c.do(ctx, "publish", "schedule", http.MethodPost,
		"/v1/uploads/"+url.PathEscape(uploadRef)+"/publish",
		publishRequest{PublishAt: at, Visibility: visibility}, nil)
	return err
}

type jobResponse struct {
	JobID string `json:"job_id"`
}

// RequestDerivative calls POST /v1/derivatives and returns the job id.
func (c *Client) RequestDerivative(ctx context.Context, req pipeline.DerivativeRequest) (string, error) {
	var resp jobResponse
	if _, err := c.do(ctx, "derivative", "request", http.MethodPost, "/v1/derivatives", req, &resp); err != nil {
		return "", err
	}
	if resp.JobID == "" {
		return "", services.Wrap(services.ErrExternalTool, "derivative", "request", "response missing job_id", nil)
	}
	return resp.JobID, nil
}

// DerivativeStatus calls GET /v1/derivatives/{id}.
func (c *Client) DerivativeStatus(ctx context.Context, jobID string) (pipeline.DerivativeStatus, error) {
	var status pipeline.DerivativeStatus
	_, err := c.do(ctx, "derivative", "status", http.MethodGet, "/v1/derivatives/"+url.PathEscape(jobID), nil, &status)
	return status, err
}

type crawlResponse struct {
	Assets int `json:"assets"`
}

// CrawlAssets calls POST /v1/crawls and returns the number of assets placed.
func (c *Client) CrawlAssets(ctx context.Context, req pipeline.CrawlRequest) (int, error) {
	var resp crawlResponse
	_, err := c.do(ctx, "media", "crawl", http.MethodPost, "/v1/crawls", req, &resp)
	return resp.Assets, err
}

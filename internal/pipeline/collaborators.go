package pipeline

import (
	"context"
	"time"

	"cadence/internal/catalog"
)

// ScriptRequest asks the script generator for a script.
type ScriptRequest struct {
	RunID       string
	TitleID     int64
	Title       string
	ContentType catalog.ContentType
	Category    string
	Tags        []string
	Model       string
	Mode        catalog.ScriptMode
	Metadata    *catalog.TitleMetadata
}

// Scene is one narrated segment of a script.
type Scene struct {
	Text   string `json:"text"`
	Prompt string `json:"prompt,omitempty"`
}

// Script is the generator's output. ID is the opaque script reference.
type Script struct {
	ID          string  `json:"script_id"`
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Scenes      []Scene `json:"scenes,omitempty"`
}

// ScriptGenerator produces scripts.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, req ScriptRequest) (Script, error)
}

// RenderRequest asks the render engine for a video.
type RenderRequest struct {
	RunID       string
	ScriptRef   string
	ContentType catalog.ContentType
	MediaMode   catalog.MediaMode
	Model       string
	ProjectDir  string
}

// Renderer turns a script into a video reference. It returns
// services.ErrAwaitingInput when it needs human-supplied media first.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (string, error)
}

// UploadRequest asks the hosting service to upload a video.
type UploadRequest struct {
	VideoRef    string
	ChannelID   string
	Visibility  catalog.Visibility
	Title       string
	Description string
	Tags        []string
}

// UploadResult is the hosting service's reference and public URL.
type UploadResult struct {
	UploadID string `json:"upload_id"`
	URL      string `json:"url"`
}

// Uploader uploads videos.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (UploadResult, error)
}

// Publisher schedules the public reveal of an upload.
type Publisher interface {
	SchedulePublish(ctx context.Context, uploadRef string, at *time.Time, visibility catalog.Visibility) error
}

// DerivativeRequest asks for a short-form cut of a produced video.
type DerivativeRequest struct {
	ScheduleID int64  `json:"schedule_id"`
	VideoRef   string `json:"video_id"`
	ParentURL  string `json:"parent_url"`
	Format     string `json:"format"`
}

// DerivativeJobState is the lifecycle of a derivative job.
type DerivativeJobState string

const (
	DerivativeJobPending   DerivativeJobState = "pending"
	DerivativeJobCompleted DerivativeJobState = "completed"
	DerivativeJobFailed    DerivativeJobState = "failed"
)

// DerivativeStatus reports a derivative job's progress.
type DerivativeStatus struct {
	State    DerivativeJobState `json:"status"`
	VideoRef string             `json:"video_id,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// DerivativeService requests and polls derivative jobs.
type DerivativeService interface {
	RequestDerivative(ctx context.Context, req DerivativeRequest) (string, error)
	DerivativeStatus(ctx context.Context, jobID string) (DerivativeStatus, error)
}

// CrawlRequest asks the asset crawler to fill a project directory.
type CrawlRequest struct {
	RunID      string   `json:"run_id"`
	ProjectDir string   `json:"project_dir"`
	Keywords   []string `json:"keywords,omitempty"`
}

// AssetCrawler discovers media assets for a project.
type AssetCrawler interface {
	CrawlAssets(ctx context.Context, req CrawlRequest) (int, error)
}

// Collaborators bundles the external production services.
type Collaborators struct {
	Scripts     ScriptGenerator
	Renderer    Renderer
	Uploader    Uploader
	Publisher   Publisher
	Derivatives DerivativeService
	Crawler     AssetCrawler
}

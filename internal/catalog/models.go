package catalog

import (
	"fmt"
	"strings"
	"time"
)

// ContentType is the closed set of title formats.
type ContentType string

const (
	ContentShort       ContentType = "short"
	ContentLong        ContentType = "long"
	ContentProduct     ContentType = "product"
	ContentProductInfo ContentType = "product_info"
	ContentCinematic   ContentType = "cinematic"
)

var contentTypes = []ContentType{ContentShort, ContentLong, ContentProduct, ContentProductInfo, ContentCinematic}

// ParseContentType normalizes a textual content type.
func ParseContentType(value string) (ContentType, error) {
	v := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_")
	for _, candidate := range contentTypes {
		if ContentType(v) == candidate {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: content type %q", ErrInvalid, value)
}

// ScriptMode selects how scripts are generated.
type ScriptMode string

const (
	ScriptBrowser ScriptMode = "browser"
	ScriptAPI     ScriptMode = "api"
)

// ParseScriptMode normalizes a textual script mode.
func ParseScriptMode(value string) (ScriptMode, error) {
	switch ScriptMode(strings.ToLower(strings.TrimSpace(value))) {
	case ScriptBrowser:
		return ScriptBrowser, nil
	case ScriptAPI:
		return ScriptAPI, nil
	}
	return "", fmt.Errorf("%w: script mode %q", ErrInvalid, value)
}

// MediaMode selects how scene media is produced. Manual parks the pipeline
// after the script stage until a human supplies assets.
type MediaMode string

const (
	MediaManual    MediaMode = "manual"
	MediaGenerated MediaMode = "generated"
	MediaStock     MediaMode = "stock"
	MediaAI        MediaMode = "ai"
)

// ParseMediaMode normalizes a textual media mode.
func ParseMediaMode(value string) (MediaMode, error) {
	switch MediaMode(strings.ToLower(strings.TrimSpace(value))) {
	case MediaManual:
		return MediaManual, nil
	case MediaGenerated:
		return MediaGenerated, nil
	case MediaStock:
		return MediaStock, nil
	case MediaAI:
		return MediaAI, nil
	}
	return "", fmt.Errorf("%w: media mode %q", ErrInvalid, value)
}

// Visibility is the publish visibility on the hosting service.
type Visibility string

const (
	VisibilityPrivate  Visibility = "private"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPublic   Visibility = "public"
)

// ParseVisibility normalizes a textual visibility.
func ParseVisibility(value string) (Visibility, error) {
	switch Visibility(strings.ToLower(strings.TrimSpace(value))) {
	case VisibilityPrivate:
		return VisibilityPrivate, nil
	case VisibilityUnlisted:
		return VisibilityUnlisted, nil
	case VisibilityPublic:
		return VisibilityPublic, nil
	}
	return "", fmt.Errorf("%w: visibility %q", ErrInvalid, value)
}

// TitleStatus is the lifecycle of a title.
type TitleStatus string

const (
	TitlePending          TitleStatus = "pending"
	TitleScheduled        TitleStatus = "scheduled"
	TitleProcessing       TitleStatus = "processing"
	TitleCompleted        TitleStatus = "completed"
	TitleFailed           TitleStatus = "failed"
	TitleWaitingForUpload TitleStatus = "waiting_for_upload"
	TitleCancelled        TitleStatus = "cancelled"
)

// ScheduleStatus is the lifecycle of a schedule.
type ScheduleStatus string

const (
	SchedulePending          ScheduleStatus = "pending"
	ScheduleProcessing       ScheduleStatus = "processing"
	ScheduleCompleted        ScheduleStatus = "completed"
	ScheduleFailed           ScheduleStatus = "failed"
	ScheduleCancelled        ScheduleStatus = "cancelled"
	ScheduleWaitingForUpload ScheduleStatus = "waiting_for_upload"
)

var scheduleStatuses = []ScheduleStatus{
	SchedulePending,
	ScheduleProcessing,
	ScheduleWaitingForUpload,
	ScheduleCompleted,
	ScheduleFailed,
	ScheduleCancelled,
}

// ParseScheduleStatus normalizes a textual schedule status.
func ParseScheduleStatus(value string) (ScheduleStatus, error) {
	v := ScheduleStatus(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "-", "_"))
	for _, candidate := range scheduleStatuses {
		if v == candidate {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: schedule status %q", ErrInvalid, value)
}

// IsActive reports whether the schedule still occupies its title.
func (s ScheduleStatus) IsActive() bool {
	return s == SchedulePending || s == ScheduleProcessing || s == ScheduleWaitingForUpload
}

// Stage is one of the four sequential production steps.
type Stage string

const (
	StageScript  Stage = "script"
	StageVideo   Stage = "video"
	StageUpload  Stage = "upload"
	StagePublish Stage = "publish"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{StageScript, StageVideo, StageUpload, StagePublish}

// Index returns the stage's position in Stages, or -1.
func (s Stage) Index() int {
	for i, candidate := range Stages {
		if s == candidate {
			return i
		}
	}
	return -1
}

// ParseStage normalizes a textual stage; "media" and "render" alias video.
func ParseStage(value string) (Stage, error) {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case "media", "render":
		return StageVideo, nil
	default:
		if idx := Stage(v).Index(); idx >= 0 {
			return Stages[idx], nil
		}
	}
	return "", fmt.Errorf("%w: stage %q", ErrInvalid, value)
}

// StageStatus is the lifecycle of a pipeline stage run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// LogLevel classifies a log entry.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// DerivativeState tracks a chained short-form job.
type DerivativeState string

const (
	DerivativeRequested DerivativeState = "requested"
	DerivativeUploading DerivativeState = "uploading"
	DerivativeUploaded  DerivativeState = "uploaded"
	DerivativeFailed    DerivativeState = "failed"
)

// Title is a unit of content intent.
type Title struct {
	ID          int64
	Title       string
	ContentType ContentType
	Category    string
	Tags        []string
	Metadata    *TitleMetadata
	ChannelID   string
	ScriptMode  ScriptMode
	MediaMode   MediaMode
	Model       string
	Priority    int
	Status      TitleStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Schedule is one timed attempt to realize a title.
type Schedule struct {
	ID              int64
	TitleID         int64
	ScheduledAt     time.Time
	PublishAt       *time.Time
	Visibility      Visibility
	Status          ScheduleStatus
	RunID           string
	ScriptRef       string
	VideoRef        string
	UploadRef       string
	PublishedURL    string
	ProjectDir      string
	DerivativeJobID string
	ParentURL       string
	DerivativeState DerivativeState
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DueSchedule pairs a due schedule with its title.
type DueSchedule struct {
	Schedule *Schedule
	Title    *Title
}

// StageRun is the status record for one stage of a schedule.
type StageRun struct {
	ID           int64
	ScheduleID   int64
	Stage        Stage
	Status       StageStatus
	ErrorMessage string
	RetryCount   int
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
}

// LogEntry is an append-only log line attached to a title or stage run.
type LogEntry struct {
	ID        int64
	Stage     Stage
	Level     LogLevel
	Message   string
	CreatedAt time.Time
}

package api

import (
	"time"

	"cadence/internal/catalog"
	"cadence/internal/queue"
	"cadence/internal/scheduler"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Title describes a title in a transport-friendly format.
type Title struct {
	ID          int64                  `json:"id"`
	Title       string                 `json:"title"`
	ContentType string                 `json:"contentType"`
	Category    string                 `json:"category,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Metadata    *catalog.TitleMetadata `json:"metadata,omitempty"`
	ChannelID   string                 `json:"channelId,omitempty"`
	ScriptMode  string                 `json:"scriptMode"`
	MediaMode   string                 `json:"mediaMode"`
	Model       string                 `json:"model,omitempty"`
	Priority    int                    `json:"priority"`
	Status      string                 `json:"status"`
	CreatedAt   string                 `json:"createdAt"`
	UpdatedAt   string                 `json:"updatedAt"`
}

// Schedule describes a schedule and, when requested, its stage runs.
type Schedule struct {
	ID              int64      `json:"id"`
	TitleID         int64      `json:"titleId"`
	ScheduledAt     string     `json:"scheduledAt"`
	PublishAt       string     `json:"publishAt,omitempty"`
	Visibility      string     `json:"visibility"`
	Status          string     `json:"status"`
	RunID           string     `json:"runId,omitempty"`
	ScriptRef       string     `json:"scriptRef,omitempty"`
	VideoRef        string     `json:"videoRef,omitempty"`
	UploadRef       string     `json:"uploadRef,omitempty"`
	PublishedURL    string     `json:"publishedUrl,omitempty"`
	ProjectDir      string     `json:"projectDir,omitempty"`
	DerivativeJobID string     `json:"derivativeJobId,omitempty"`
	DerivativeState string     `json:"derivativeState,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	CreatedAt       string     `json:"createdAt"`
	UpdatedAt       string     `json:"updatedAt"`
	Stages          []StageRun `json:"stages,omitempty"`
}

// StageRun is one stage's status record.
type StageRun struct {
	Stage        string `json:"stage"`
	Status       string `json:"status"`
	RetryCount   int    `json:"retryCount"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	StartedAt    string `json:"startedAt,omitempty"`
	CompletedAt  string `json:"completedAt,omitempty"`
}

// LogLine is one human-readable log entry.
type LogLine struct {
	Stage     string `json:"stage,omitempty"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
}

// Task describes an admission-queue task.
type Task struct {
	ID           int64          `json:"id"`
	Type         string         `json:"type"`
	Status       string         `json:"status"`
	Priority     int            `json:"priority"`
	Owner        queue.Owner    `json:"owner"`
	Metadata     queue.Metadata `json:"metadata"`
	Logs         []LogLine      `json:"logs,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	RetryCount   int            `json:"retryCount"`
	MaxRetries   int            `json:"maxRetries"`
	CreatedAt    string         `json:"createdAt"`
	StartedAt    string         `json:"startedAt,omitempty"`
	CompletedAt  string         `json:"completedAt,omitempty"`
}

// QueueHealth reports stuck tasks.
type QueueHealth struct {
	Healthy    bool   `json:"healthy"`
	StaleAfter string `json:"staleAfter"`
	Stuck      []Task `json:"stuck"`
}

// HostStats is a point-in-time host resource snapshot.
type HostStats struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
}

// DaemonStatus aggregates runtime information.
type DaemonStatus struct {
	Running      bool                      `json:"running"`
	PID          int                       `json:"pid"`
	DatabasePath string                    `json:"databasePath"`
	LockFilePath string                    `json:"lockFilePath"`
	Scheduler    scheduler.Status          `json:"scheduler"`
	Schedules    map[string]int            `json:"schedules"`
	Queue        map[string]map[string]int `json:"queue"`
	Host         *HostStats                `json:"host,omitempty"`
	Settings     map[string]string         `json:"settings,omitempty"`
}

// FromTitle converts a catalog title.
func FromTitle(t *catalog.Title) Title {
	return Title{
		ID:          t.ID,
		Title:       t.Title,
		ContentType: string(t.ContentType),
		Category:    t.Category,
		Tags:        t.Tags,
		Metadata:    t.Metadata,
		ChannelID:   t.ChannelID,
		ScriptMode:  string(t.ScriptMode),
		MediaMode:   string(t.MediaMode),
		Model:       t.Model,
		Priority:    t.Priority,
		Status:      string(t.Status),
		CreatedAt:   formatTime(t.CreatedAt),
		UpdatedAt:   formatTime(t.UpdatedAt),
	}
}

// FromSchedule converts a catalog schedule and its stage runs.
func FromSchedule(s *catalog.Schedule, runs []*catalog.StageRun) Schedule {
	out := Schedule{
		ID:              s.ID,
		TitleID:         s.TitleID,
		ScheduledAt:     formatTime(s.ScheduledAt),
		PublishAt:       formatTimePtr(s.PublishAt),
		Visibility:      string(s.Visibility),
		Status:          string(s.Status),
		RunID:           s.RunID,
		ScriptRef:       s.ScriptRef,
		VideoRef:        s.VideoRef,
		UploadRef:       s.UploadRef,
		PublishedURL:    s.PublishedURL,
		ProjectDir:      s.ProjectDir,
		DerivativeJobID: s.DerivativeJobID,
		DerivativeState: string(s.DerivativeState),
		ErrorMessage:    s.ErrorMessage,
		CreatedAt:       formatTime(s.CreatedAt),
		UpdatedAt:       formatTime(s.UpdatedAt),
	}
	for _, run := range runs {
		out.Stages = append(out.Stages, StageRun{
			Stage:        string(run.Stage),
			Status:       string(run.Status),
			RetryCount:   run.RetryCount,
			ErrorMessage: run.ErrorMessage,
			StartedAt:    formatTimePtr(run.StartedAt),
			CompletedAt:  formatTimePtr(run.CompletedAt),
		})
	}
	return out
}

// FromLogEntries converts catalog log entries.
func FromLogEntries(entries []catalog.LogEntry) []LogLine {
	out := make([]LogLine, 0, len(entries))
	for _, e := range entries {
		out = append(out, LogLine{
			Stage:     string(e.Stage),
			Level:     string(e.Level),
			Message:   e.Message,
			CreatedAt: formatTime(e.CreatedAt),
		})
	}
	return out
}

// FromTask converts a queue task.
func FromTask(t *queue.Task) Task {
	out := Task{
		ID:           t.ID,
		Type:         string(t.Type),
		Status:       string(t.Status),
		Priority:     t.Priority,
		Owner:        t.Owner,
		Metadata:     t.Metadata,
		ErrorMessage: t.ErrorMessage,
		RetryCount:   t.RetryCount,
		MaxRetries:   t.MaxRetries,
		CreatedAt:    formatTime(t.CreatedAt),
		StartedAt:    formatTimePtr(t.StartedAt),
		CompletedAt:  formatTimePtr(t.CompletedAt),
	}
	for _, line := range t.Logs {
		out.Logs = append(out.Logs, LogLine{Level: "info", Message: line.Message, CreatedAt: formatTime(line.Time)})
	}
	return out
}

// FromTasks converts a slice of queue tasks.
func FromTasks(tasks []*queue.Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, FromTask(t))
	}
	return out
}

// FromSummary flattens a queue summary into string keys.
func FromSummary(s queue.Summary) map[string]map[string]int {
	out := make(map[string]map[string]int, len(queue.AllTaskTypes))
	for _, t := range queue.AllTaskTypes {
		row := make(map[string]int, len(queue.AllStatuses))
		for _, status := range queue.AllStatuses {
			row[string(status)] = s.Count(t, status)
		}
		out[string(t)] = row
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

package queue

import (
	"fmt"
	"strings"
	"time"
)

// TaskType names a globally rate-limited resource.
type TaskType string

const (
	TaskScript TaskType = "script"
	TaskImage  TaskType = "image"
	TaskVideo  TaskType = "video"
)

// AllTaskTypes lists the resource types in display order.
var AllTaskTypes = []TaskType{TaskScript, TaskImage, TaskVideo}

// ParseTaskType normalizes a textual task type. "media" is accepted as an alias for image.
func ParseTaskType(value string) (TaskType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(TaskScript):
		return TaskScript, nil
	case string(TaskImage), "media":
		return TaskImage, nil
	case string(TaskVideo):
		return TaskVideo, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTaskType, value)
	}
}

// TaskStatus is the lifecycle of a queue task.
type TaskStatus string

const (
	StatusWaiting    TaskStatus = "waiting"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// AllStatuses lists task statuses in lifecycle order.
var AllStatuses = []TaskStatus{StatusWaiting, StatusProcessing, StatusCompleted, StatusFailed}

// IsTerminal reports whether the status is completed or failed.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus normalizes a textual task status.
func ParseStatus(value string) (TaskStatus, error) {
	status := TaskStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, candidate := range AllStatuses {
		if status == candidate {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown task status %q", value)
}

// CancelReason is recorded on tasks cancelled while waiting.
const CancelReason = "cancelled while waiting"

// ForceReleaseReason is recorded on a processing task whose lock an operator released.
const ForceReleaseReason = "lock force-released by operator"

// Owner identifies who asked for the work.
type Owner struct {
	User    string `json:"user,omitempty"`
	Project string `json:"project,omitempty"`
}

// LogLine is one entry in a task's accumulated log.
type LogLine struct {
	Time    time.Time `json:"ts"`
	Message string    `json:"message"`
}

// Task is a unit of admission-controlled work.
type Task struct {
	ID           int64
	Type         TaskType
	Status       TaskStatus
	Priority     int
	Owner        Owner
	Metadata     Metadata
	Logs         []LogLine
	ErrorMessage string
	RetryCount   int
	MaxRetries   int
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// CanRetry reports whether a failed task still has retry budget.
func (t *Task) CanRetry() bool {
	return t != nil && t.Status == StatusFailed && t.RetryCount < t.MaxRetries
}

// Lock is a snapshot of one resource type's lock row.
type Lock struct {
	Type      TaskType
	TaskID    int64
	LockedAt  *time.Time
	WorkerPID int
}

// Held reports whether a task currently owns the lock.
func (l Lock) Held() bool {
	return l.TaskID != 0
}

// EnqueueRequest describes a task to admit.
type EnqueueRequest struct {
	Type       TaskType
	Priority   int
	Owner      Owner
	Metadata   Metadata
	MaxRetries int
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type   TaskType
	Status TaskStatus
	Owner  string
	Limit  int
	Offset int
}

// Summary counts tasks per type and status.
type Summary map[TaskType]map[TaskStatus]int

// Count returns the number of tasks of type t in status s.
func (s Summary) Count(t TaskType, status TaskStatus) int {
	if s == nil || s[t] == nil {
		return 0
	}
	return s[t][status]
}

// HealthReport lists tasks that have been processing past the staleness threshold.
type HealthReport struct {
	CheckedAt  time.Time
	StaleAfter time.Duration
	Stuck      []*Task
}

// Healthy reports whether no task is stuck.
func (r HealthReport) Healthy() bool {
	return len(r.Stuck) == 0
}

package catalog

import "errors"

var (
	// ErrNotFound is returned when a title, schedule, or stage run does not exist.
	ErrNotFound = errors.New("not found")
	// ErrScheduleNotPending is returned when an operation requires a pending schedule.
	ErrScheduleNotPending = errors.New("schedule is not pending")
	// ErrScheduleNotWaiting is returned when an operation requires a schedule waiting for upload.
	ErrScheduleNotWaiting = errors.New("schedule is not waiting for upload")
	// ErrScheduleNotProcessing is returned when an operation requires a processing schedule.
	ErrScheduleNotProcessing = errors.New("schedule is not processing")
	// ErrTitleBusy is returned when editing a title whose schedule has started.
	ErrTitleBusy = errors.New("title has a schedule in progress")
	// ErrInvalid wraps field validation failures.
	ErrInvalid = errors.New("invalid value")
)

package queue

import "errors"

var (
	// ErrTaskNotFound is returned when no task has the requested id.
	ErrTaskNotFound = errors.New("queue task not found")
	// ErrNotCancellable is returned when cancelling a task that is no longer waiting.
	ErrNotCancellable = errors.New("queue task is not waiting")
	// ErrNotProcessing is returned when finishing a task that is not processing.
	ErrNotProcessing = errors.New("queue task is not processing")
	// ErrNotRequeueable is returned when requeueing a task that is not failed or has no retries left.
	ErrNotRequeueable = errors.New("queue task cannot be requeued")
	// ErrUnknownTaskType is returned for resource types outside script, image, and video.
	ErrUnknownTaskType = errors.New("unknown task type")
	// ErrLockRace indicates the lock row changed under an open dequeue transaction.
	ErrLockRace = errors.New("queue lock acquired concurrently")
)

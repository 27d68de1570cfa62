package domain

import "errors"

// Admission errors returned directly from Dispatcher.Handle. Everything
// sandbox-internal is instead encoded in a SandboxResult's Status.
var (
	// ErrNotFound is returned when base_dir/<id> does not exist or is not a directory.
	ErrNotFound = errors.New("submission directory not found")

	// ErrDuplicatedSubmissionID is returned when id is already queued or running.
	ErrDuplicatedSubmissionID = errors.New("duplicated submission id")

	// ErrQueueFull is returned when the bounded task queue is at capacity.
	ErrQueueFull = errors.New("task queue is full")
)

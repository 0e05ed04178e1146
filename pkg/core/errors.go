package core

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrInvalidTaskName = errors.New("taskqueue: invalid task name (must start with a letter; letters, digits, '_', '-', '.' allowed)")
	ErrTaskNameTooLong = errors.New("taskqueue: task name too long")
	ErrInputTooLarge   = errors.New("taskqueue: job input exceeds size limit")
)

// Store and lifecycle errors
var (
	// ErrConflict is raised when an optimistic commit loses the race with a
	// concurrent transaction. Retryable at the transaction boundary.
	ErrConflict = errors.New("taskqueue: store conflict")

	// ErrTxnAborted is returned from a transaction closure when the task body
	// aborted the current transaction. The store rolls back and the processor
	// poisons the job id for the remainder of its session.
	ErrTxnAborted = errors.New("taskqueue: transaction aborted by task")

	// ErrJobNotOwned is raised when a transition is attempted by a processor
	// that does not hold the claim.
	ErrJobNotOwned = errors.New("taskqueue: job not owned by this processor")

	// ErrJobNotFound is raised when a job id does not resolve to a record.
	ErrJobNotFound = errors.New("taskqueue: job not found")

	// ErrInvalidTransition is raised when a status change would violate the
	// lifecycle state machine.
	ErrInvalidTransition = errors.New("taskqueue: invalid status transition")

	// ErrNotCancellable is raised by Cancel for jobs past the QUEUED state.
	ErrNotCancellable = errors.New("taskqueue: job is not cancellable")

	// ErrShutdownTimeout is raised when stopProcessing exceeds its grace
	// period with workers still in flight.
	ErrShutdownTimeout = errors.New("taskqueue: shutdown grace period exceeded")
)

// TaskNotRegisteredError indicates the job named a task absent from the
// registry. The job transitions to ERROR; the processor continues.
type TaskNotRegisteredError struct {
	TaskName string
}

func (e *TaskNotRegisteredError) Error() string {
	return fmt.Sprintf("taskqueue: task not registered: %s", e.TaskName)
}

// TaskFailureError wraps an error raised by a task body. The diagnostic
// string becomes the job's terminal output.
type TaskFailureError struct {
	TaskName string
	Err      error
}

func (e *TaskFailureError) Error() string {
	return fmt.Sprintf("taskqueue: task %s failed: %v", e.TaskName, e.Err)
}

func (e *TaskFailureError) Unwrap() error {
	return e.Err
}

package jobs

import "errors"

var (
	// ErrNotStarted is returned by Enqueue before Start.
	ErrNotStarted = errors.New("jobs: queue not started")

	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("jobs: queue stopped")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("jobs: queue already started")

	// ErrQueueFull is returned when the buffer has no room.
	ErrQueueFull = errors.New("jobs: queue full")

	// ErrAttemptTimeout marks an attempt that exceeded its time budget.
	ErrAttemptTimeout = errors.New("jobs: attempt timed out")

	// ErrStopTimeout is returned when workers do not drain in time.
	ErrStopTimeout = errors.New("jobs: timeout waiting for workers to stop")
)

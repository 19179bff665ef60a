package scheduler

import "errors"

// Sentinel errors for scheduler pool operations
var (
	// ErrNotStarted indicates the pool hasn't been started yet
	ErrNotStarted = errors.New("scheduler pool not started")

	// ErrStopped indicates the pool has been stopped
	ErrStopped = errors.New("scheduler pool stopped")

	// ErrAlreadyStarted indicates Start() was called on an already-started pool
	ErrAlreadyStarted = errors.New("scheduler pool already started")

	// ErrQueueFull indicates the task queue is at capacity
	ErrQueueFull = errors.New("scheduler pool queue full")

	// ErrStopTimeout indicates the pool didn't drain within the timeout
	ErrStopTimeout = errors.New("timeout waiting for scheduler workers to stop")
)

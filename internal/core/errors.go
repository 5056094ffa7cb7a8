package core

import "errors"

var (
	// ErrQueueFull is returned by SubmitEvent when the target worker's queue has
	// no room. Nothing was recorded; the caller may retry.
	ErrQueueFull = errors.New("worker queue full")

	// ErrEngineStopped is returned by SubmitEvent before StartWorkers or after Shutdown.
	ErrEngineStopped = errors.New("engine stopped")

	// ErrAlreadyStarted is returned by a second StartWorkers call.
	ErrAlreadyStarted = errors.New("engine already started")
)

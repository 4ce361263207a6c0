package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound          = errors.New("entity not found")
	ErrAlreadyExists     = errors.New("entity already exists")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidAction     = errors.New("invalid run control action")
	ErrInvalidTransition = errors.New("invalid run state transition")
	ErrNothingToRetry    = errors.New("run has no failed steps to retry")
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")
	ErrStaleExecution    = errors.New("run execution superseded")
	ErrQueueFull         = errors.New("job queue full")
	ErrQueueStopped      = errors.New("job queue stopped")
	ErrUnknownCapability = errors.New("unknown capability")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrLockHeld          = errors.New("lock held by another owner")

	// Storage errors
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid database execution context")
	ErrCorruptRecord      = errors.New("corrupt stored record")
)

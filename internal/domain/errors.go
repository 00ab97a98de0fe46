package domain

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the caller supplied an invalid value.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition indicates a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrSweepInProgress indicates a knowledge-gap sweep is already running.
	ErrSweepInProgress = errors.New("sweep already in progress")

	// ErrLockNotAcquired indicates a lock could not be taken before the deadline.
	ErrLockNotAcquired = errors.New("lock not acquired")

	// ErrServiceUnavailable indicates an external service is refusing work.
	ErrServiceUnavailable = errors.New("service unavailable")
)

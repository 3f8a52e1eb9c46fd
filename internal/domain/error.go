package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound         = errors.New("entity not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrQueueUnavailable = errors.New("queue broker unavailable")
	ErrLockHeld         = errors.New("lock is held by another process")
	ErrUnknownTaskKind  = errors.New("unknown task kind")
	ErrInvalidState     = errors.New("invalid job state transition")
	ErrResultNotStored  = errors.New("job outcome could not be stored")
)

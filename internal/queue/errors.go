package queue

import "errors"

// Sentinel errors for queue operations.
var (
	ErrUnknownKind     = errors.New("unknown action kind")
	ErrInvalidPayload  = errors.New("invalid action payload")
	ErrDrainInProgress = errors.New("drain already in progress")
)

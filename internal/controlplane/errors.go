package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrNoSession      = errors.New("no active session")
	ErrInvalidRequest = errors.New("invalid request")
)

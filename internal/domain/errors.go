package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrValidation      = errors.New("invalid input")
	ErrAdmissionDenied = errors.New("admission denied")
	ErrExecution       = errors.New("execution failed")
	ErrClaimLost       = errors.New("claim lost to another worker")
	ErrAlreadyClosed   = errors.New("position already closed")
	ErrLockHeld        = errors.New("lock already held")
	ErrContextDone     = errors.New("context cancelled")
)

package core

import "errors"

// Validation errors are rejected before any persistence attempt.
var (
	ErrEmptyMessage      = errors.New("message text is empty")
	ErrNoActiveChat      = errors.New("no active chat")
	ErrEmptyTitle        = errors.New("chat title must not be empty")
	ErrProfileIncomplete = errors.New("profile is missing required fields")
)

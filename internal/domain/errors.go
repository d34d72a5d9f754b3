package domain

import "errors"

var (
	// ErrTaskNotFound is returned for lookups, cancels and deletes of an
	// unknown job id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTime is returned when a schedule time is missing timezone
	// information or is not strictly in the future.
	ErrInvalidTime = errors.New("invalid schedule time")

	// ErrConflict is returned when a fresh job id collides with an existing
	// task. Practically unreachable with collision-checked generation.
	ErrConflict = errors.New("job id conflict")

	// ErrAlreadyFired is returned when cancelling a task whose trigger has
	// already fired, as opposed to one that never existed.
	ErrAlreadyFired = errors.New("task already executed")
)

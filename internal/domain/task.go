package domain

import "time"

type TaskStatus string

const (
	TaskStatusScheduled TaskStatus = "scheduled"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// Task is a single scheduled push notification. The store row and the
// in-memory index both hold this shape; the store is authoritative.
type Task struct {
	JobID   string
	BarkKey string

	ScheduleTime time.Time
	Content      string

	Status TaskStatus

	// Detail holds the push response body on success, or "HTTP <code>" /
	// the transport error text on failure. Empty while scheduled.
	Detail string

	CreatedAt time.Time
}

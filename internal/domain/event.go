package domain

import "time"

// FireEvent is emitted by the trigger engine when a task comes due.
// The engine removes the pending entry before emitting, so each task
// produces at most one event per process lifetime.
type FireEvent struct {
	JobID   string
	BarkKey string
	Content string

	ScheduledAt time.Time // intended fire time
	FiredAt     time.Time // actual emission time
}

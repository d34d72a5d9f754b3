// Package service orchestrates the trigger engine, durable store and
// in-memory index behind the scheduling operations. A task is durable
// before Submit acknowledges it; no operation leaves the three views
// inconsistent.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/barkline/barkline/internal/domain"
	"github.com/barkline/barkline/internal/trigger"
)

const (
	jobIDLength   = 8
	maxIDAttempts = 5
)

// Store is the durable side of scheduling operations.
type Store interface {
	Put(ctx context.Context, task domain.Task) error
	Delete(ctx context.Context, jobID string) error
}

// Index is the fast-path cache for reads.
type Index interface {
	Get(jobID string) (domain.Task, error)
	Upsert(task domain.Task)
	Remove(jobID string)
	List() []domain.Task
}

// Engine is the pending-timer side of scheduling operations.
type Engine interface {
	Schedule(entry trigger.Entry) error
	Cancel(jobID string) error
	PendingEntries() []trigger.Entry
}

// MetricsSink receives scheduling metrics. Methods must be non-blocking.
type MetricsSink interface {
	TaskScheduled()
	TaskCancelled()
}

// Scheduler coordinates writes across engine, store and index.
type Scheduler struct {
	store   Store
	index   Index
	engine  Engine
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a scheduler over the given collaborators.
func New(store Store, index Index, engine Engine) *Scheduler {
	return &Scheduler{
		store:  store,
		index:  index,
		engine: engine,
		clock:  time.Now,
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// Submit validates the request, assigns a fresh job id and registers the
// task with engine, store and index in that order. The store write happens
// before acknowledgement so an accepted task survives a crash.
func (s *Scheduler) Submit(ctx context.Context, barkKey string, scheduleTime time.Time, content string) (domain.Task, error) {
	now := s.clock()

	if !scheduleTime.After(now) {
		return domain.Task{}, fmt.Errorf("%w: schedule time %s is not after current time %s",
			domain.ErrInvalidTime, scheduleTime.Format(time.RFC3339), now.Format(time.RFC3339))
	}

	jobID, err := s.newJobID()
	if err != nil {
		return domain.Task{}, err
	}

	task := domain.Task{
		JobID:        jobID,
		BarkKey:      barkKey,
		ScheduleTime: scheduleTime,
		Content:      content,
		Status:       domain.TaskStatusScheduled,
		CreatedAt:    now,
	}

	err = s.engine.Schedule(trigger.Entry{
		JobID:    jobID,
		BarkKey:  barkKey,
		Content:  content,
		FireTime: scheduleTime,
	})
	if err != nil {
		if errors.Is(err, trigger.ErrDuplicateTask) {
			return domain.Task{}, fmt.Errorf("%w: job id %s already pending", domain.ErrConflict, jobID)
		}
		return domain.Task{}, fmt.Errorf("schedule trigger: %w", err)
	}

	if err := s.store.Put(ctx, task); err != nil {
		// Roll the trigger entry back so no partial state survives a
		// store failure.
		if cancelErr := s.engine.Cancel(jobID); cancelErr != nil {
			log.Printf("service: rollback of job=%s failed: %v", jobID, cancelErr)
		}
		return domain.Task{}, fmt.Errorf("persist task: %w", err)
	}

	s.index.Upsert(task)

	if s.metrics != nil {
		s.metrics.TaskScheduled()
	}
	log.Printf("service: scheduled job=%s fire_time=%s", jobID, scheduleTime.Format(time.RFC3339))

	return task, nil
}

// List returns every task snapshot from the index. Order is unspecified.
func (s *Scheduler) List() []domain.Task {
	return s.index.List()
}

// Pending returns the trigger engine's pending entries in ascending fire
// time order, for the diagnostic scheduler_jobs listing.
func (s *Scheduler) Pending() []trigger.Entry {
	return s.engine.PendingEntries()
}

// Get returns the snapshot for jobID or domain.ErrTaskNotFound.
func (s *Scheduler) Get(jobID string) (domain.Task, error) {
	return s.index.Get(jobID)
}

// Cancel removes a still-scheduled task from engine, store and index.
// Returns domain.ErrTaskNotFound for an unknown id, domain.ErrAlreadyFired
// when the trigger went off and an outcome is recorded, and
// domain.ErrConflict when it fired but the outcome is still pending; the
// fired task's record is left untouched in either case.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	task, err := s.index.Get(jobID)
	if err != nil {
		return err
	}

	if err := s.engine.Cancel(jobID); err != nil {
		if errors.Is(err, trigger.ErrNotPending) {
			if task.Status.Terminal() {
				return fmt.Errorf("%w: job id %s", domain.ErrAlreadyFired, jobID)
			}
			// Fired but no outcome recorded yet: the dispatch is in flight
			// or awaiting re-emit. The outcome will still land, so the
			// cancel loses rather than claiming the task executed.
			return fmt.Errorf("%w: job id %s fired, outcome pending", domain.ErrConflict, jobID)
		}
		return fmt.Errorf("cancel trigger: %w", err)
	}

	if err := s.store.Delete(ctx, jobID); err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			// Row already gone; the index entry is stale. Fall through
			// and drop it.
			log.Printf("service: cancel job=%s: row already absent from store", jobID)
		} else {
			// Re-arm the trigger so the store failure does not leave the
			// views disagreeing.
			s.rearm(task)
			return fmt.Errorf("delete task: %w", err)
		}
	}

	s.index.Remove(jobID)

	if s.metrics != nil {
		s.metrics.TaskCancelled()
	}
	log.Printf("service: cancelled job=%s", jobID)
	return nil
}

func (s *Scheduler) rearm(task domain.Task) {
	err := s.engine.Schedule(trigger.Entry{
		JobID:    task.JobID,
		BarkKey:  task.BarkKey,
		Content:  task.Content,
		FireTime: task.ScheduleTime,
	})
	if err != nil {
		log.Printf("service: re-arm of job=%s failed: %v", task.JobID, err)
	}
}

// newJobID generates a short job id, re-rolling on collision against the
// index. Ids are the first 8 characters of a random UUID; the check-and-
// regenerate loop closes the truncation collision window.
func (s *Scheduler) newJobID() (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := uuid.NewString()[:jobIDLength]
		if _, err := s.index.Get(id); errors.Is(err, domain.ErrTaskNotFound) {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: could not generate unique job id after %d attempts", domain.ErrConflict, maxIDAttempts)
}

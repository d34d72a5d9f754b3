// Package reconciler detects and re-emits dropped fire events.
//
// A task is orphaned when its row is still in scheduled status well past its
// fire time but no pending trigger entry exists for it — typically because
// the event bus was full when the trigger fired, or the process crashed
// between the fire and the dispatch write.
//
// The reconciler periodically scans the store and re-emits a FireEvent for
// each orphan. The grace period keeps it from racing an in-flight dispatch:
// a dispatch completes within the push timeout, far inside the grace window.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/barkline/barkline/internal/domain"
)

// Store is the durable task source scanned for orphans.
type Store interface {
	GetAll(ctx context.Context) ([]domain.Task, error)
}

// PendingSet answers whether a job still has a pending trigger entry.
type PendingSet interface {
	Pending(jobID string) bool
}

// EventEmitter re-delivers fire events to the dispatch workers.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.FireEvent) error
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs. Default: 5 minutes.
	Interval time.Duration

	// Grace is how far past its fire time a scheduled task must be before
	// it counts as orphaned. Must exceed the push timeout. Default: 5 minutes.
	Grace time.Duration

	// BatchSize is the maximum number of orphans to re-emit per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Grace:     5 * time.Minute,
		BatchSize: 100,
	}
}

// Reconciler re-emits orphaned scheduled tasks.
type Reconciler struct {
	config  Config
	store   Store
	pending PendingSet
	emitter EventEmitter
	clock   func() time.Time
}

// New creates a new Reconciler.
func New(config Config, store Store, pending PendingSet, emitter EventEmitter) *Reconciler {
	return &Reconciler{
		config:  config,
		store:   store,
		pending: pending,
		emitter: emitter,
		clock:   time.Now,
	}
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, grace=%s, batch=%d)",
		r.config.Interval, r.config.Grace, r.config.BatchSize)

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock()
	cutoff := now.Add(-r.config.Grace)

	tasks, err := r.store.GetAll(ctx)
	if err != nil {
		// DB error: log and abort cycle. Will retry next interval.
		log.Printf("reconciler: failed to scan store: %v", err)
		return
	}

	emitted := 0
	failed := 0

	for _, task := range tasks {
		if emitted+failed >= r.config.BatchSize {
			break
		}
		if task.Status != domain.TaskStatusScheduled {
			continue
		}
		if task.ScheduleTime.After(cutoff) {
			continue
		}
		if r.pending.Pending(task.JobID) {
			continue
		}

		// Check context before each emit to allow graceful shutdown
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, processed %d orphans", emitted+failed)
			return
		}

		event := domain.FireEvent{
			JobID:       task.JobID,
			BarkKey:     task.BarkKey,
			Content:     task.Content,
			ScheduledAt: task.ScheduleTime,
			FiredAt:     now,
		}

		if err := r.emitter.Emit(ctx, event); err != nil {
			// Emit failed (buffer full, context cancelled).
			// Log and continue - will retry next cycle.
			log.Printf("reconciler: failed to re-emit job=%s: %v", task.JobID, err)
			failed++
			continue
		}

		log.Printf("reconciler: re-emitted job=%s scheduled_at=%s (age=%s)",
			task.JobID, task.ScheduleTime.Format(time.RFC3339),
			now.Sub(task.ScheduleTime).Round(time.Second))
		emitted++
	}

	if emitted > 0 || failed > 0 {
		log.Printf("reconciler: cycle complete, re-emitted=%d, failed=%d", emitted, failed)
	}
}

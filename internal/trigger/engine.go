// Package trigger holds the set of pending one-shot timers and fires each
// task exactly once at or after its schedule time. Firing removes the
// pending entry first and then emits a FireEvent to the event bus, so a
// task can never produce two events within one process lifetime.
package trigger

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/barkline/barkline/internal/domain"
)

var (
	// ErrDuplicateTask is returned by Schedule when the job id is already pending.
	ErrDuplicateTask = errors.New("task already pending")

	// ErrNotPending is returned by Cancel when the job id is not pending,
	// either because it already fired or because it never existed.
	ErrNotPending = errors.New("task not pending")
)

// Store is the durable source pending entries are recovered from on startup.
type Store interface {
	GetAll(ctx context.Context) ([]domain.Task, error)
}

// EventEmitter delivers fire events to the dispatch workers.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.FireEvent) error
}

// MetricsSink receives engine metrics. All methods must be non-blocking.
type MetricsSink interface {
	PendingTasksUpdate(count int)
	FireLatencyObserve(latencySeconds float64)
}

// Entry is one pending timer.
type Entry struct {
	JobID    string
	BarkKey  string
	Content  string
	FireTime time.Time
}

// Engine evaluates pending entries and emits a FireEvent for each when due.
type Engine struct {
	mu      sync.Mutex
	pending map[string]Entry
	wake    chan struct{}

	emitter EventEmitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates an engine with an empty pending set.
func New(emitter EventEmitter) *Engine {
	return &Engine{
		pending: make(map[string]Entry),
		wake:    make(chan struct{}, 1),
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the engine.
func (e *Engine) WithMetrics(sink MetricsSink) *Engine {
	e.metrics = sink
	return e
}

// Schedule inserts a pending entry. If the entry now fires earliest, the run
// loop is woken to recompute its wait. Fails with ErrDuplicateTask if the
// job id is already pending.
func (e *Engine) Schedule(entry Entry) error {
	e.mu.Lock()
	if _, exists := e.pending[entry.JobID]; exists {
		e.mu.Unlock()
		return ErrDuplicateTask
	}
	e.pending[entry.JobID] = entry
	count := len(e.pending)
	e.mu.Unlock()

	e.updatePendingMetric(count)
	e.wakeLoop()
	return nil
}

// Cancel removes a pending entry. Fails with ErrNotPending if the job id is
// absent; a cancel racing the fire path loses once the entry is removed.
func (e *Engine) Cancel(jobID string) error {
	e.mu.Lock()
	if _, exists := e.pending[jobID]; !exists {
		e.mu.Unlock()
		return ErrNotPending
	}
	delete(e.pending, jobID)
	count := len(e.pending)
	e.mu.Unlock()

	e.updatePendingMetric(count)
	e.wakeLoop()
	return nil
}

// Pending reports whether jobID is currently pending.
func (e *Engine) Pending(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, exists := e.pending[jobID]
	return exists
}

// PendingEntries returns a snapshot of pending entries in ascending fire
// time order, for diagnostics.
func (e *Engine) PendingEntries() []Entry {
	e.mu.Lock()
	entries := make([]Entry, 0, len(e.pending))
	for _, entry := range e.pending {
		entries = append(entries, entry)
	}
	e.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FireTime.Before(entries[j].FireTime)
	})
	return entries
}

// Len returns the number of pending entries.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// LoadPending recovers pending entries from the store: every task still in
// scheduled status is re-armed, including tasks whose fire time passed while
// the process was down. Those fire immediately once Run starts, in ascending
// fire time order, each exactly once.
func (e *Engine) LoadPending(ctx context.Context, store Store) error {
	tasks, err := store.GetAll(ctx)
	if err != nil {
		return err
	}

	recovered := 0
	for _, task := range tasks {
		if task.Status != domain.TaskStatusScheduled {
			continue
		}
		err := e.Schedule(Entry{
			JobID:    task.JobID,
			BarkKey:  task.BarkKey,
			Content:  task.Content,
			FireTime: task.ScheduleTime,
		})
		if err != nil {
			log.Printf("trigger: recovery skipped job=%s: %v", task.JobID, err)
			continue
		}
		recovered++
	}

	log.Printf("trigger: recovered %d pending tasks from store", recovered)
	return nil
}

// Run evaluates pending entries until ctx is cancelled. Un-fired entries
// stay in the durable store for the next start/recovery cycle.
func (e *Engine) Run(ctx context.Context) {
	log.Printf("trigger: started (%d pending)", e.Len())

	for {
		if entry, due := e.popDue(); due {
			e.fire(ctx, entry)
			continue
		}

		wait, any := e.untilNext()
		if !any {
			select {
			case <-ctx.Done():
				log.Println("trigger: stopped")
				return
			case <-e.wake:
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("trigger: stopped")
			return
		case <-e.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// popDue removes and returns the earliest entry whose fire time has been
// reached. Removal happens under the lock, before any emit, which is what
// makes dispatch at-most-once.
func (e *Engine) popDue() (Entry, bool) {
	now := e.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	var earliest Entry
	found := false
	for _, entry := range e.pending {
		if entry.FireTime.After(now) {
			continue
		}
		if !found || entry.FireTime.Before(earliest.FireTime) {
			earliest = entry
			found = true
		}
	}
	if !found {
		return Entry{}, false
	}

	delete(e.pending, earliest.JobID)
	return earliest, true
}

// untilNext returns the wait until the earliest pending fire time.
func (e *Engine) untilNext() (time.Duration, bool) {
	now := e.clock()

	e.mu.Lock()
	defer e.mu.Unlock()

	var next time.Time
	found := false
	for _, entry := range e.pending {
		if !found || entry.FireTime.Before(next) {
			next = entry.FireTime
			found = true
		}
	}
	if !found {
		return 0, false
	}

	wait := next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func (e *Engine) fire(ctx context.Context, entry Entry) {
	now := e.clock()

	e.updatePendingMetric(e.Len())
	if e.metrics != nil {
		e.metrics.FireLatencyObserve(now.Sub(entry.FireTime).Seconds())
	}

	event := domain.FireEvent{
		JobID:       entry.JobID,
		BarkKey:     entry.BarkKey,
		Content:     entry.Content,
		ScheduledAt: entry.FireTime,
		FiredAt:     now,
	}

	// An emit failure loses the event, not the task: the row stays
	// scheduled in the store and the reconciler re-emits it later.
	if err := e.emitter.Emit(ctx, event); err != nil {
		log.Printf("trigger: emit failed job=%s: %v", entry.JobID, err)
		return
	}

	log.Printf("trigger: fired job=%s scheduled_at=%s", entry.JobID, entry.FireTime.Format(time.RFC3339))
}

func (e *Engine) updatePendingMetric(count int) {
	if e.metrics != nil {
		e.metrics.PendingTasksUpdate(count)
	}
}

// wakeLoop nudges the run loop to recompute its next wait.
func (e *Engine) wakeLoop() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

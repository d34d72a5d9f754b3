// Package dispatcher consumes fire events and performs the outbound push
// attempt for each. Every event gets exactly one attempt; the outcome is
// written to the store and the index before the event is considered done.
package dispatcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/barkline/barkline/internal/domain"
	"github.com/barkline/barkline/internal/metrics"
)

// Store persists the task outcome.
type Store interface {
	Put(ctx context.Context, task domain.Task) error
}

// Index mirrors the task outcome for readers.
type Index interface {
	Get(jobID string) (domain.Task, error)
	Upsert(task domain.Task)
}

// PushSender issues the outbound push call.
type PushSender interface {
	Send(ctx context.Context, req PushRequest) PushResult
}

// Breaker gates outbound sends per destination key.
type Breaker interface {
	Allow(key string) error
	RecordSuccess(key string)
	RecordFailure(key string)
}

// AnalyticsSink records per-destination push outcomes. Best-effort only.
type AnalyticsSink interface {
	Record(ctx context.Context, barkKey string, outcome string)
}

// MetricsSink receives dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	PushAttemptCompleted(statusClass string, duration time.Duration)
	PushOutcome(outcome string)
	EventsInFlightIncr()
	EventsInFlightDecr()
}

// PushRequest identifies one outbound push.
type PushRequest struct {
	BarkKey string
	Content string
}

// PushResult is the raw outcome of one outbound call.
type PushResult struct {
	StatusCode int
	Body       string
	Error      error
	Duration   time.Duration
}

// IsSuccess reports whether the call reached the push host with a 2xx status.
func (r PushResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Dispatcher turns fire events into push attempts and persisted outcomes.
type Dispatcher struct {
	store        Store
	index        Index
	sender       PushSender
	breaker      Breaker       // optional, nil = disabled
	analytics    AnalyticsSink // optional, nil = disabled
	metrics      MetricsSink   // optional, nil = disabled
	drainTimeout time.Duration
}

// New creates a dispatcher writing outcomes to store and index.
func New(store Store, index Index, sender PushSender) *Dispatcher {
	return &Dispatcher{
		store:        store,
		index:        index,
		sender:       sender,
		drainTimeout: 30 * time.Second,
	}
}

// WithBreaker attaches a circuit breaker gating outbound sends.
func (d *Dispatcher) WithBreaker(b Breaker) *Dispatcher {
	d.breaker = b
	return d
}

// WithAnalytics attaches an analytics sink to the dispatcher.
func (d *Dispatcher) WithAnalytics(sink AnalyticsSink) *Dispatcher {
	d.analytics = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// WithDrainTimeout overrides the shutdown drain timeout.
func (d *Dispatcher) WithDrainTimeout(timeout time.Duration) *Dispatcher {
	d.drainTimeout = timeout
	return d
}

// Run processes events from the channel until ctx is cancelled.
// After cancellation, it drains remaining buffered events with a timeout.
// Start one goroutine per worker; Dispatch only touches shared state through
// the store and index, which are safe for concurrent use.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.FireEvent) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ch)
			return
		case event := <-ch:
			if err := d.Dispatch(ctx, event); err != nil {
				log.Printf("dispatcher: error: %v", err)
			}
		}
	}
}

// drain processes remaining events in the channel buffer after shutdown.
// Uses a background context since the main context is already cancelled.
func (d *Dispatcher) drain(ch <-chan domain.FireEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("dispatcher: drain timeout, processed %d events", count)
			}
			return
		case event, ok := <-ch:
			if !ok {
				log.Printf("dispatcher: drain complete, processed %d events", count)
				return
			}
			if err := d.Dispatch(drainCtx, event); err != nil {
				log.Printf("dispatcher: drain error: %v", err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("dispatcher: drain complete, processed %d events", count)
			}
			return
		}
	}
}

// Dispatch performs the single push attempt for one fire event and persists
// the resulting terminal status. The trigger engine removes the pending entry
// before emitting, so a job produces one event per process lifetime; if the
// reconciler re-delivers one whose outcome is already terminal, the push is
// skipped and only the store row is healed.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.FireEvent) error {
	if d.metrics != nil {
		d.metrics.EventsInFlightIncr()
		defer d.metrics.EventsInFlightDecr()
	}

	task, err := d.index.Get(event.JobID)
	if err != nil {
		// A near-immediate fire time can elapse while the submit's store
		// and index writes are still in flight. The event carries the full
		// payload, so the attempt proceeds from it instead of being lost.
		log.Printf("dispatcher: job=%s not in index yet, dispatching from event", event.JobID)
		task = domain.Task{
			JobID:        event.JobID,
			BarkKey:      event.BarkKey,
			ScheduleTime: event.ScheduledAt,
			Content:      event.Content,
			Status:       domain.TaskStatusScheduled,
			CreatedAt:    event.FiredAt,
		}
	}

	if task.Status.Terminal() {
		// The outcome is already decided; a re-emitted event means the
		// earlier outcome write never reached the store. Re-persist it so
		// the reconciler stops re-emitting, and never push twice.
		log.Printf("dispatcher: job=%s already %s, skipping push", event.JobID, task.Status)
		if err := d.store.Put(ctx, task); err != nil {
			log.Printf("dispatcher: job=%s failed to re-persist outcome: %v", event.JobID, err)
		}
		return nil
	}

	result := d.attempt(ctx, event)

	if d.metrics != nil {
		statusClass := metrics.ClassifyStatus(result.StatusCode, result.Error)
		d.metrics.PushAttemptCompleted(statusClass, result.Duration)
	}

	switch {
	case result.IsSuccess():
		task.Status = domain.TaskStatusCompleted
		task.Detail = result.Body
		log.Printf("dispatcher: job=%s pushed: %s", event.JobID, result.Body)
	case result.Error != nil:
		task.Status = domain.TaskStatusFailed
		task.Detail = result.Error.Error()
		log.Printf("dispatcher: job=%s push error: %v", event.JobID, result.Error)
	default:
		task.Status = domain.TaskStatusFailed
		task.Detail = fmt.Sprintf("HTTP %d", result.StatusCode)
		log.Printf("dispatcher: job=%s push failed: HTTP %d", event.JobID, result.StatusCode)
	}

	d.recordOutcome(ctx, task)

	// Store first, then index: a crash between the two is healed on restart
	// by rebuilding the index from the store.
	if err := d.store.Put(ctx, task); err != nil {
		log.Printf("dispatcher: job=%s failed to persist outcome: %v", event.JobID, err)
	}
	d.index.Upsert(task)

	return nil
}

// attempt issues the outbound call, converting panics from the sender into
// a failed result so one bad job cannot halt a dispatch worker.
func (d *Dispatcher) attempt(ctx context.Context, event domain.FireEvent) (result PushResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatcher: job=%s panic during dispatch: %v", event.JobID, r)
			result = PushResult{Error: fmt.Errorf("dispatch panic: %v", r)}
		}
	}()

	if d.breaker != nil {
		if err := d.breaker.Allow(event.BarkKey); err != nil {
			return PushResult{Error: err}
		}
	}

	result = d.sender.Send(ctx, PushRequest{BarkKey: event.BarkKey, Content: event.Content})

	if d.breaker != nil {
		if result.IsSuccess() {
			d.breaker.RecordSuccess(event.BarkKey)
		} else {
			d.breaker.RecordFailure(event.BarkKey)
		}
	}
	return result
}

// recordOutcome emits best-effort outcome signals. Never affects dispatch
// correctness.
func (d *Dispatcher) recordOutcome(ctx context.Context, task domain.Task) {
	if d.metrics != nil {
		d.metrics.PushOutcome(string(task.Status))
	}
	if d.analytics != nil {
		d.analytics.Record(ctx, task.BarkKey, string(task.Status))
	}
}

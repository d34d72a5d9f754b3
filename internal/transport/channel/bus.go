// Package channel carries fire events from the trigger engine to the
// dispatch workers over a buffered channel.
package channel

import (
	"context"
	"errors"
	"time"

	"github.com/barkline/barkline/internal/domain"
)

// ErrBufferFull is returned when an emit cannot hand off the event before
// the emit timeout elapses.
var ErrBufferFull = errors.New("event bus buffer full")

const defaultEmitTimeout = 5 * time.Second

// MetricsSink receives event bus metrics. Methods must be non-blocking.
type MetricsSink interface {
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()
}

// Option configures an EventBus.
type Option func(*EventBus)

// WithEmitTimeout bounds how long Emit blocks when the buffer is full.
func WithEmitTimeout(d time.Duration) Option {
	return func(b *EventBus) {
		b.emitTimeout = d
	}
}

// WithMetrics attaches a metrics sink to the bus.
func WithMetrics(sink MetricsSink) Option {
	return func(b *EventBus) {
		b.metrics = sink
	}
}

// EventBus is a bounded in-memory fire event queue.
type EventBus struct {
	ch          chan domain.FireEvent
	emitTimeout time.Duration
	metrics     MetricsSink // optional, nil = disabled
}

// NewEventBus creates a bus with the given buffer capacity.
func NewEventBus(buffer int, opts ...Option) *EventBus {
	b := &EventBus{
		ch:          make(chan domain.FireEvent, buffer),
		emitTimeout: defaultEmitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Emit enqueues an event. Returns ErrBufferFull if the buffer stays full for
// the emit timeout, or the context error if ctx is cancelled first.
func (b *EventBus) Emit(ctx context.Context, event domain.FireEvent) error {
	select {
	case b.ch <- event:
		b.updateSize()
		return nil
	default:
	}

	timer := time.NewTimer(b.emitTimeout)
	defer timer.Stop()

	select {
	case b.ch <- event:
		b.updateSize()
		return nil
	case <-timer.C:
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ErrBufferFull
	case <-ctx.Done():
		if b.metrics != nil {
			b.metrics.EmitError()
		}
		return ctx.Err()
	}
}

// Channel exposes the receive side for dispatch workers.
func (b *EventBus) Channel() <-chan domain.FireEvent {
	return b.ch
}

func (b *EventBus) updateSize() {
	if b.metrics != nil {
		b.metrics.BufferSizeUpdate(len(b.ch))
	}
}

package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TaskScheduled()                                              {}
func (n *NoopSink) TaskCancelled()                                              {}
func (n *NoopSink) PendingTasksUpdate(count int)                                {}
func (n *NoopSink) FireLatencyObserve(latencySeconds float64)                   {}
func (n *NoopSink) PushAttemptCompleted(statusClass string, d time.Duration)    {}
func (n *NoopSink) PushOutcome(outcome string)                                  {}
func (n *NoopSink) EventsInFlightIncr()                                         {}
func (n *NoopSink) EventsInFlightDecr()                                         {}
func (n *NoopSink) BufferSizeUpdate(size int)                                   {}
func (n *NoopSink) BufferCapacitySet(capacity int)                              {}
func (n *NoopSink) EmitError()                                                  {}

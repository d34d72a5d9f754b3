package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduling service metrics
	tasksScheduledTotal prometheus.Counter
	tasksCancelledTotal prometheus.Counter

	// Trigger engine metrics
	pendingTasks prometheus.Gauge
	fireLatency  prometheus.Histogram

	// Dispatcher metrics
	pushAttemptsTotal *prometheus.CounterVec
	pushOutcomesTotal *prometheus.CounterVec
	pushDuration      prometheus.Histogram
	eventsInFlight    prometheus.Gauge

	// EventBus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initServiceMetrics(reg)
	s.initTriggerMetrics(reg)
	s.initDispatcherMetrics(reg)
	s.initEventBusMetrics(reg)
	return s
}

func (s *PrometheusSink) initServiceMetrics(reg prometheus.Registerer) {
	s.tasksScheduledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "barkline_tasks_scheduled_total",
		Help: "Total number of tasks accepted for scheduling.",
	})
	s.tasksCancelledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "barkline_tasks_cancelled_total",
		Help: "Total number of tasks cancelled before firing.",
	})

	s.register(reg, s.tasksScheduledTotal, "barkline_tasks_scheduled_total")
	s.register(reg, s.tasksCancelledTotal, "barkline_tasks_cancelled_total")
}

func (s *PrometheusSink) initTriggerMetrics(reg prometheus.Registerer) {
	s.pendingTasks = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "barkline_trigger_pending_tasks",
		Help: "Number of tasks currently waiting to fire.",
	})
	s.fireLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "barkline_trigger_fire_latency_seconds",
		Help:    "Delay between a task's schedule time and its actual fire in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
	})

	s.register(reg, s.pendingTasks, "barkline_trigger_pending_tasks")
	s.register(reg, s.fireLatency, "barkline_trigger_fire_latency_seconds")
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.pushAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "barkline_dispatcher_push_attempts_total",
		Help: "Total number of outbound push attempts.",
	}, []string{"status_class"})

	s.pushOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "barkline_dispatcher_push_outcomes_total",
		Help: "Total number of terminal task outcomes.",
	}, []string{"outcome"})

	s.pushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "barkline_dispatcher_push_duration_seconds",
		Help:    "Push request latency in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "barkline_dispatcher_events_in_flight",
		Help: "Number of fire events currently being processed.",
	})

	s.register(reg, s.pushAttemptsTotal, "barkline_dispatcher_push_attempts_total")
	s.register(reg, s.pushOutcomesTotal, "barkline_dispatcher_push_outcomes_total")
	s.register(reg, s.pushDuration, "barkline_dispatcher_push_duration_seconds")
	s.register(reg, s.eventsInFlight, "barkline_dispatcher_events_in_flight")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "barkline_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "barkline_eventbus_buffer_capacity",
		Help: "Configured event bus buffer capacity.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "barkline_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full or cancelled).",
	})

	s.register(reg, s.bufferSize, "barkline_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "barkline_eventbus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "barkline_eventbus_emit_errors_total")
}

// register attempts to register a collector, logging any errors without
// propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) TaskScheduled() {
	s.tasksScheduledTotal.Inc()
}

func (s *PrometheusSink) TaskCancelled() {
	s.tasksCancelledTotal.Inc()
}

func (s *PrometheusSink) PendingTasksUpdate(count int) {
	s.pendingTasks.Set(float64(count))
}

func (s *PrometheusSink) FireLatencyObserve(latencySeconds float64) {
	s.fireLatency.Observe(latencySeconds)
}

func (s *PrometheusSink) PushAttemptCompleted(statusClass string, duration time.Duration) {
	s.pushAttemptsTotal.WithLabelValues(statusClass).Inc()
	s.pushDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) PushOutcome(outcome string) {
	s.pushOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

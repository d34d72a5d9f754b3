package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/barkline/barkline/internal/domain"
)

// mockEmitter collects emitted fire events.
type mockEmitter struct {
	mu     sync.Mutex
	events []domain.FireEvent
	err    error
}

func (e *mockEmitter) Emit(ctx context.Context, event domain.FireEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.events = append(e.events, event)
	return nil
}

func (e *mockEmitter) eventCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

func (e *mockEmitter) eventAt(i int) domain.FireEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events[i]
}

// mockTaskStore returns a fixed task list.
type mockTaskStore struct {
	tasks []domain.Task
	err   error
}

func (s *mockTaskStore) GetAll(ctx context.Context) ([]domain.Task, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tasks, nil
}

// mockMetrics records pending gauge updates and latency observations.
type mockMetrics struct {
	mu        sync.Mutex
	pending   []int
	latencies []float64
}

func (m *mockMetrics) PendingTasksUpdate(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, count)
}

func (m *mockMetrics) FireLatencyObserve(latencySeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = append(m.latencies, latencySeconds)
}

func (m *mockMetrics) lastPending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return -1
	}
	return m.pending[len(m.pending)-1]
}

func TestScheduleAndCancel(t *testing.T) {
	e := New(&mockEmitter{})

	entry := Entry{JobID: "abc12345", BarkKey: "key1", Content: "hello", FireTime: time.Now().Add(time.Hour)}
	if err := e.Schedule(entry); err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if !e.Pending("abc12345") {
		t.Error("expected job to be pending after Schedule")
	}
	if e.Len() != 1 {
		t.Errorf("expected 1 pending entry, got %d", e.Len())
	}

	if err := e.Cancel("abc12345"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if e.Pending("abc12345") {
		t.Error("expected job to be gone after Cancel")
	}
}

func TestScheduleDuplicate(t *testing.T) {
	e := New(&mockEmitter{})

	entry := Entry{JobID: "abc12345", FireTime: time.Now().Add(time.Hour)}
	if err := e.Schedule(entry); err != nil {
		t.Fatalf("first Schedule failed: %v", err)
	}
	if err := e.Schedule(entry); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("expected ErrDuplicateTask, got %v", err)
	}
}

func TestCancelNotPending(t *testing.T) {
	e := New(&mockEmitter{})

	if err := e.Cancel("missing"); !errors.Is(err, ErrNotPending) {
		t.Errorf("expected ErrNotPending, got %v", err)
	}
}

func TestPendingEntriesSorted(t *testing.T) {
	e := New(&mockEmitter{})
	base := time.Now()

	e.Schedule(Entry{JobID: "c", FireTime: base.Add(3 * time.Hour)})
	e.Schedule(Entry{JobID: "a", FireTime: base.Add(1 * time.Hour)})
	e.Schedule(Entry{JobID: "b", FireTime: base.Add(2 * time.Hour)})

	entries := e.PendingEntries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"a", "b", "c"} {
		if entries[i].JobID != want {
			t.Errorf("entry %d: expected job %s, got %s", i, want, entries[i].JobID)
		}
	}
}

func TestPopDueRemovesEarliest(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	e := New(&mockEmitter{})
	e.clock = func() time.Time { return now }

	e.Schedule(Entry{JobID: "later", FireTime: now.Add(-time.Minute)})
	e.Schedule(Entry{JobID: "earlier", FireTime: now.Add(-time.Hour)})
	e.Schedule(Entry{JobID: "future", FireTime: now.Add(time.Hour)})

	entry, due := e.popDue()
	if !due {
		t.Fatal("expected a due entry")
	}
	if entry.JobID != "earlier" {
		t.Errorf("expected earliest due entry first, got %s", entry.JobID)
	}
	if e.Pending("earlier") {
		t.Error("popDue must remove the entry before any emit")
	}

	entry, due = e.popDue()
	if !due || entry.JobID != "later" {
		t.Errorf("expected second due entry 'later', got %q (due=%v)", entry.JobID, due)
	}

	if _, due := e.popDue(); due {
		t.Error("future entry must not be due")
	}
}

func TestRunFiresDueTask(t *testing.T) {
	emitter := &mockEmitter{}
	e := New(emitter)

	fireTime := time.Now().Add(50 * time.Millisecond)
	e.Schedule(Entry{JobID: "abc12345", BarkKey: "key1", Content: "ping", FireTime: fireTime})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	deadline := time.After(1 * time.Second)
	for emitter.eventCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for fire event")
		case <-time.After(10 * time.Millisecond):
		}
	}

	event := emitter.eventAt(0)
	if event.JobID != "abc12345" {
		t.Errorf("expected job abc12345, got %s", event.JobID)
	}
	if event.BarkKey != "key1" || event.Content != "ping" {
		t.Errorf("unexpected event payload: %+v", event)
	}
	if !event.ScheduledAt.Equal(fireTime) {
		t.Errorf("expected scheduled_at %v, got %v", fireTime, event.ScheduledAt)
	}
	if e.Pending("abc12345") {
		t.Error("fired task must no longer be pending")
	}

	cancel()
	<-done
}

func TestRunFiresAtMostOnce(t *testing.T) {
	emitter := &mockEmitter{}
	e := New(emitter)

	e.Schedule(Entry{JobID: "once", FireTime: time.Now().Add(-time.Minute)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	// Let the loop spin well past the fire time.
	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	if count := emitter.eventCount(); count != 1 {
		t.Errorf("expected exactly 1 fire event, got %d", count)
	}
}

func TestRunWakesOnEarlierSchedule(t *testing.T) {
	emitter := &mockEmitter{}
	e := New(emitter)

	// A far-future entry parks the loop on a long timer.
	e.Schedule(Entry{JobID: "far", FireTime: time.Now().Add(time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)

	// The new earlier entry must fire without waiting for the long timer.
	e.Schedule(Entry{JobID: "soon", FireTime: time.Now().Add(30 * time.Millisecond)})

	deadline := time.After(1 * time.Second)
	for emitter.eventCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("engine did not wake for the earlier entry")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if emitter.eventAt(0).JobID != "soon" {
		t.Errorf("expected 'soon' to fire first, got %s", emitter.eventAt(0).JobID)
	}

	cancel()
	<-done
}

func TestCancelledTaskNeverFires(t *testing.T) {
	emitter := &mockEmitter{}
	e := New(emitter)

	e.Schedule(Entry{JobID: "doomed", FireTime: time.Now().Add(60 * time.Millisecond)})
	if err := e.Cancel("doomed"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()

	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done

	if count := emitter.eventCount(); count != 0 {
		t.Errorf("cancelled task fired %d times", count)
	}
}

func TestEmitFailureDropsEventNotTask(t *testing.T) {
	emitter := &mockEmitter{err: errors.New("buffer full")}
	e := New(emitter)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	e.clock = func() time.Time { return now }

	e.Schedule(Entry{JobID: "abc12345", FireTime: now.Add(-time.Minute)})

	entry, due := e.popDue()
	if !due {
		t.Fatal("expected due entry")
	}
	e.fire(context.Background(), entry)

	// The event is lost and the entry stays removed; the durable row is
	// still scheduled, which is what the reconciler heals from.
	if emitter.eventCount() != 0 {
		t.Error("expected no delivered events on emit failure")
	}
	if e.Pending("abc12345") {
		t.Error("entry must not be re-armed after a failed emit")
	}
}

func TestLoadPendingRecoversScheduledOnly(t *testing.T) {
	fireTime := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &mockTaskStore{tasks: []domain.Task{
		{JobID: "sched1", BarkKey: "k1", Content: "a", ScheduleTime: fireTime, Status: domain.TaskStatusScheduled},
		{JobID: "done1", BarkKey: "k2", Content: "b", ScheduleTime: fireTime, Status: domain.TaskStatusCompleted},
		{JobID: "fail1", BarkKey: "k3", Content: "c", ScheduleTime: fireTime, Status: domain.TaskStatusFailed},
		{JobID: "sched2", BarkKey: "k4", Content: "d", ScheduleTime: fireTime.Add(time.Hour), Status: domain.TaskStatusScheduled},
	}}

	e := New(&mockEmitter{})
	if err := e.LoadPending(context.Background(), store); err != nil {
		t.Fatalf("LoadPending failed: %v", err)
	}

	if e.Len() != 2 {
		t.Fatalf("expected 2 recovered entries, got %d", e.Len())
	}
	if !e.Pending("sched1") || !e.Pending("sched2") {
		t.Error("expected scheduled tasks to be re-armed")
	}
	if e.Pending("done1") || e.Pending("fail1") {
		t.Error("terminal tasks must not be re-armed")
	}
}

func TestLoadPendingStoreError(t *testing.T) {
	store := &mockTaskStore{err: errors.New("connection refused")}
	e := New(&mockEmitter{})
	if err := e.LoadPending(context.Background(), store); err == nil {
		t.Error("expected store error to propagate")
	}
}

func TestPastDueFireAscendingOrder(t *testing.T) {
	emitter := &mockEmitter{}
	e := New(emitter)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	e.clock = func() time.Time { return now }

	e.Schedule(Entry{JobID: "third", FireTime: now.Add(-1 * time.Minute)})
	e.Schedule(Entry{JobID: "first", FireTime: now.Add(-3 * time.Minute)})
	e.Schedule(Entry{JobID: "second", FireTime: now.Add(-2 * time.Minute)})

	for i := 0; i < 3; i++ {
		entry, due := e.popDue()
		if !due {
			t.Fatalf("expected entry %d to be due", i)
		}
		e.fire(context.Background(), entry)
	}

	for i, want := range []string{"first", "second", "third"} {
		if got := emitter.eventAt(i).JobID; got != want {
			t.Errorf("fire %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestMetricsUpdated(t *testing.T) {
	metrics := &mockMetrics{}
	e := New(&mockEmitter{}).WithMetrics(metrics)

	e.Schedule(Entry{JobID: "a", FireTime: time.Now().Add(time.Hour)})
	e.Schedule(Entry{JobID: "b", FireTime: time.Now().Add(time.Hour)})
	if metrics.lastPending() != 2 {
		t.Errorf("expected pending gauge 2, got %d", metrics.lastPending())
	}

	e.Cancel("a")
	if metrics.lastPending() != 1 {
		t.Errorf("expected pending gauge 1 after cancel, got %d", metrics.lastPending())
	}
}

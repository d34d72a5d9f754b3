package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/barkline/barkline/internal/domain"
)

// mockMetrics records bus metric calls.
type mockMetrics struct {
	mu         sync.Mutex
	sizes      []int
	capacity   int
	emitErrors int
}

func (m *mockMetrics) BufferSizeUpdate(size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = append(m.sizes, size)
}

func (m *mockMetrics) BufferCapacitySet(capacity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capacity = capacity
}

func (m *mockMetrics) EmitError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitErrors++
}

func TestEmitAndReceive(t *testing.T) {
	bus := NewEventBus(4)

	event := domain.FireEvent{JobID: "abcd1234", BarkKey: "key1", Content: "hello"}
	if err := bus.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	select {
	case got := <-bus.Channel():
		if got.JobID != "abcd1234" || got.Content != "hello" {
			t.Errorf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event never arrived")
	}
}

func TestEmitPreservesOrder(t *testing.T) {
	bus := NewEventBus(8)

	for _, id := range []string{"a", "b", "c"} {
		if err := bus.Emit(context.Background(), domain.FireEvent{JobID: id}); err != nil {
			t.Fatalf("Emit %s failed: %v", id, err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got := <-bus.Channel()
		if got.JobID != want {
			t.Errorf("expected %s, got %s", want, got.JobID)
		}
	}
}

func TestEmitBufferFull(t *testing.T) {
	metrics := &mockMetrics{}
	bus := NewEventBus(1, WithEmitTimeout(20*time.Millisecond), WithMetrics(metrics))

	if err := bus.Emit(context.Background(), domain.FireEvent{JobID: "first"}); err != nil {
		t.Fatalf("first Emit failed: %v", err)
	}

	err := bus.Emit(context.Background(), domain.FireEvent{JobID: "second"})
	if !errors.Is(err, ErrBufferFull) {
		t.Errorf("expected ErrBufferFull, got %v", err)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.emitErrors != 1 {
		t.Errorf("expected 1 emit error recorded, got %d", metrics.emitErrors)
	}
}

func TestEmitContextCancelled(t *testing.T) {
	bus := NewEventBus(1, WithEmitTimeout(5*time.Second))
	bus.Emit(context.Background(), domain.FireEvent{JobID: "first"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := bus.Emit(ctx, domain.FireEvent{JobID: "second"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEmitUnblocksWhenConsumed(t *testing.T) {
	bus := NewEventBus(1, WithEmitTimeout(time.Second))
	bus.Emit(context.Background(), domain.FireEvent{JobID: "first"})

	go func() {
		time.Sleep(20 * time.Millisecond)
		<-bus.Channel()
	}()

	if err := bus.Emit(context.Background(), domain.FireEvent{JobID: "second"}); err != nil {
		t.Errorf("Emit must succeed once the buffer drains: %v", err)
	}
}

func TestMetricsCapacityAndSize(t *testing.T) {
	metrics := &mockMetrics{}
	bus := NewEventBus(16, WithMetrics(metrics))

	bus.Emit(context.Background(), domain.FireEvent{JobID: "a"})

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.capacity != 16 {
		t.Errorf("expected capacity 16 reported, got %d", metrics.capacity)
	}
	if len(metrics.sizes) != 1 || metrics.sizes[0] != 1 {
		t.Errorf("expected one size update of 1, got %v", metrics.sizes)
	}
}

package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	var received []Event

	bus.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	}, EventGenerationToken)

	bus.Publish(NewTypedEventWithSession(SourceEngine, ModePayload{Mode: "manual"}, ""))
	bus.Publish(NewTypedEventWithSession(SourceEngine, TokenPayload{Token: " sunny", Step: 1}, ""))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if received[0].Type != EventGenerationToken {
		t.Errorf("expected generation.token, got %s", received[0].Type)
	}
}

func TestBusPreservesOrder(t *testing.T) {
	bus := NewBus(256)
	defer bus.Close()

	var mu sync.Mutex
	var steps []int
	bus.Subscribe(func(e Event) {
		p, ok := GetTokenPayload(e)
		if !ok {
			return
		}
		mu.Lock()
		steps = append(steps, p.Step)
		mu.Unlock()
	})

	for i := 1; i <= 100; i++ {
		bus.Publish(NewTypedEventWithSession(SourceEngine, TokenPayload{Token: "x", Step: i}, ""))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(steps) == 100
	})

	mu.Lock()
	defer mu.Unlock()
	for i, s := range steps {
		if s != i+1 {
			t.Fatalf("expected step %d at position %d, got %d", i+1, i, s)
		}
	}
}

func TestBusClosedDropsPublish(t *testing.T) {
	bus := NewBus(4)
	bus.Close()
	bus.Publish(NewTypedEventWithSession(SourceEngine, ModePayload{Mode: "idle"}, ""))
	if got := len(bus.History(10)); got != 0 {
		t.Errorf("expected empty history, got %d", got)
	}
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 0; i < 5; i++ {
		rb.Add(NewEvent(EventGenerationToken, SourceEngine, map[string]any{"i": i}))
	}

	events := rb.Get(10)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Payload["i"] != 2 {
		t.Errorf("expected oldest retained i=2, got %v", events[0].Payload["i"])
	}
}

func TestBusFlushDeliversPendingEvents(t *testing.T) {
	bus := NewBus(1024)
	defer bus.Close()

	var mu sync.Mutex
	var got []string
	unsub := bus.Subscribe(func(e Event) {
		p, _ := GetTokenPayload(e)
		mu.Lock()
		got = append(got, p.Token)
		mu.Unlock()
	}, EventGenerationToken)

	for i := 0; i < 200; i++ {
		bus.Publish(NewTypedEventWithSession(SourceEngine, TokenPayload{Token: "x", Step: i}, ""))
	}
	if err := bus.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	unsub()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 200 {
		t.Fatalf("expected 200 tokens delivered before Flush returned, got %d", len(got))
	}
}

func TestBusFlushSkipsHistoryAndSubscribers(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	var mu sync.Mutex
	var seen []EventType
	bus.Subscribe(func(e Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	bus.Publish(NewTypedEventWithSession(SourceEngine, DonePayload{Reason: "sim", Steps: 15}, ""))
	if err := bus.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != EventGenerationDone {
		t.Errorf("expected only generation.done, got %v", seen)
	}
	if h := bus.History(10); len(h) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(h))
	}
}

func TestBusFlushClosed(t *testing.T) {
	bus := NewBus(16)
	bus.Close()
	if err := bus.Flush(context.Background()); !errors.Is(err, ErrBusClosed) {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
}

func TestBusDropped(t *testing.T) {
	bus := NewBus(1)
	defer bus.Close()

	block := make(chan struct{})
	bus.Subscribe(func(Event) { <-block }, EventGenerationToken)

	for i := 0; i < 10; i++ {
		bus.Publish(NewTypedEventWithSession(SourceEngine, TokenPayload{Token: "x", Step: i}, ""))
	}
	close(block)
	if bus.Dropped() == 0 {
		t.Errorf("expected dropped events with a full buffer, got 0")
	}
}

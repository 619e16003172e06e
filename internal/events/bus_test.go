package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSubscribeAndEmitDeliversToHandler(t *testing.T) {
	bus := NewEventBus()
	received := make(chan Event, 1)
	bus.Subscribe(EventAuthSucceeded, "test", func(_ context.Context, ev Event) error {
		received <- ev
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventAuthSucceeded, Source: "test"})

	select {
	case ev := <-received:
		if ev.Type != EventAuthSucceeded {
			t.Fatalf("unexpected event type: %v", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected handler to receive the event")
	}
}

func TestEmitFansOutToEveryHandler(t *testing.T) {
	bus := NewEventBus()
	var count int32
	var mu sync.Mutex
	wg := sync.WaitGroup{}
	wg.Add(3)
	for i := 0; i < 3; i++ {
		bus.Subscribe(EventHeartbeat, "handler", func(context.Context, Event) error {
			mu.Lock()
			count++
			mu.Unlock()
			wg.Done()
			return nil
		})
	}

	bus.Emit(context.Background(), Event{Type: EventHeartbeat, Source: "test"})
	wg.Wait()

	if count != 3 {
		t.Fatalf("expected 3 handler invocations, got %d", count)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewEventBus()
	called := false
	bus.Subscribe(EventShutdown, "test", func(context.Context, Event) error {
		called = true
		return nil
	})
	bus.Unsubscribe(EventShutdown, "test")

	bus.Emit(context.Background(), Event{Type: EventShutdown, Source: "test"})
	time.Sleep(10 * time.Millisecond)

	if called {
		t.Fatalf("expected unsubscribed handler not to be called")
	}
}

func TestEmitWithNoSubscribersIsNoop(t *testing.T) {
	bus := NewEventBus()
	bus.Emit(context.Background(), Event{Type: EventShutdown, Source: "test"})
}

func TestEmitPanicRecoveredWithoutCrashingBus(t *testing.T) {
	bus := NewEventBus()
	done := make(chan struct{})
	bus.Subscribe(EventShutdown, "panicker", func(context.Context, Event) error {
		defer close(done)
		panic("boom")
	})

	bus.Emit(context.Background(), Event{Type: EventShutdown, Source: "test"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected panicking handler to still run")
	}
	bus.Stop()
}

func TestStopWaitsForInFlightHandlers(t *testing.T) {
	bus := NewEventBus()
	started := make(chan struct{})
	bus.Subscribe(EventShutdown, "slow", func(context.Context, Event) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventShutdown, Source: "test"})
	<-started
	bus.Stop()
}

func TestEmitAfterStopIsNoop(t *testing.T) {
	bus := NewEventBus()
	bus.Stop()

	called := false
	bus.Subscribe(EventShutdown, "test", func(context.Context, Event) error {
		called = true
		return nil
	})
	bus.Emit(context.Background(), Event{Type: EventShutdown, Source: "test"})
	time.Sleep(10 * time.Millisecond)

	if called {
		t.Fatalf("expected no delivery after Stop")
	}
}

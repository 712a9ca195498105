package events

import (
	"context"
	"testing"
	"time"
)

func TestEmitDeliversToSubscribedHandler(t *testing.T) {
	bus := NewEventBus()
	done := make(chan Event, 1)
	bus.Subscribe(EventPlayerJoined, "test", func(_ context.Context, e Event) error {
		done <- e
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventPlayerJoined, Source: "test", Payload: PlayerJoinedPayload{PID: 2, Name: "alice"}})

	select {
	case e := <-done:
		p, ok := e.Payload.(PlayerJoinedPayload)
		if !ok || p.Name != "alice" {
			t.Fatalf("payload = %#v, want PlayerJoinedPayload{Name: alice}", e.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewEventBus()
	calls := make(chan struct{}, 1)
	bus.Subscribe(EventLagStarted, "watcher", func(_ context.Context, _ Event) error {
		calls <- struct{}{}
		return nil
	})
	bus.Unsubscribe(EventLagStarted, "watcher")

	bus.EmitSync(context.Background(), Event{Type: EventLagStarted})

	select {
	case <-calls:
		t.Fatal("handler invoked after unsubscribe")
	default:
	}
}

func TestEmitAfterStopIsANoop(t *testing.T) {
	bus := NewEventBus()
	calls := make(chan struct{}, 1)
	bus.Subscribe(EventGameStarted, "watcher", func(_ context.Context, _ Event) error {
		calls <- struct{}{}
		return nil
	})
	bus.Stop()

	bus.Emit(context.Background(), Event{Type: EventGameStarted})

	select {
	case <-calls:
		t.Fatal("handler invoked after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandlerCountReflectsSubscriptions(t *testing.T) {
	bus := NewEventBus()
	if got := bus.HandlerCount(EventCountDownStarted); got != 0 {
		t.Fatalf("HandlerCount = %d, want 0", got)
	}
	bus.Subscribe(EventCountDownStarted, "a", func(context.Context, Event) error { return nil })
	bus.Subscribe(EventCountDownStarted, "b", func(context.Context, Event) error { return nil })
	if got := bus.HandlerCount(EventCountDownStarted); got != 2 {
		t.Fatalf("HandlerCount = %d, want 2", got)
	}
}

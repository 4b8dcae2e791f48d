package main

import "testing"

func TestBusPublishOrder(t *testing.T) {
	bus := NewBus()
	rec := &eventRecorder{}
	bus.Subscribe(rec.record)

	bus.Publish(EventStarted, "10.0.0.2")
	bus.Publish(EventData, "10.0.0.2")
	bus.Publish(EventStopped, "10.0.0.2")

	kinds := rec.kinds()
	want := []EventKind{EventStarted, EventData, EventStopped}
	if len(kinds) != len(want) {
		t.Fatalf("Got %d events, want %d", len(kinds), len(want))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("Event %d = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	rec := &eventRecorder{}
	unsub := bus.Subscribe(rec.record)

	bus.Publish(EventStarted, "10.0.0.2")
	unsub()
	bus.Publish(EventStopped, "10.0.0.2")

	if got := len(rec.kinds()); got != 1 {
		t.Errorf("Got %d events after unsubscribe, want 1", got)
	}
}

func TestBusMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	first := &eventRecorder{}
	second := &eventRecorder{}
	bus.Subscribe(first.record)
	bus.Subscribe(second.record)

	bus.Publish(EventData, "10.0.0.2")

	if len(first.kinds()) != 1 || len(second.kinds()) != 1 {
		t.Error("All subscribers must see each event")
	}
}

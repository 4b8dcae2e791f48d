package main

import "sync"

type EventKind string

const (
	EventStarted EventKind = "started"
	EventStopped EventKind = "stopped"
	EventData    EventKind = "data"
)

// Event is a connection lifecycle notification keyed by device host.
type Event struct {
	Kind EventKind `json:"kind"`
	Host string    `json:"host"`
}

// Bus broadcasts lifecycle events to current subscribers. Delivery is
// synchronous at emission time and fire-and-forget; subscribers must not
// block. The supervisor is a producer only.
type Bus struct {
	mu   sync.Mutex
	subs map[int]func(Event)
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn for all future events. The returned function
// removes the subscription.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Bus) Publish(kind EventKind, host string) {
	b.mu.Lock()
	fns := make([]func(Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	ev := Event{Kind: kind, Host: host}
	for _, fn := range fns {
		fn(ev)
	}
}

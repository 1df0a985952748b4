package events

import (
	"sync"

	"epochvault/core/types"
)

// Event represents a structured state change emitted by an engine.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. HTTP feeds,
// metrics, logs).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer holds events until the operation that produced them commits.
type Buffer struct {
	events []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(e Event) {
	if e == nil {
		return
	}
	b.events = append(b.events, e)
}

// Drain returns the buffered events and empties the buffer.
func (b *Buffer) Drain() []Event {
	out := b.events
	b.events = nil
	return out
}

// Reset drops every buffered event.
func (b *Buffer) Reset() { b.events = nil }

// Feed keeps the most recent events in memory for readers and fans them out
// to registered listeners.
type Feed struct {
	mu        sync.RWMutex
	limit     int
	recent    []*types.Event
	listeners []func(*types.Event)
}

// NewFeed returns a feed retaining at most limit events.
func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = 256
	}
	return &Feed{limit: limit}
}

// Subscribe registers fn for every published event.
func (f *Feed) Subscribe(fn func(*types.Event)) {
	if fn == nil {
		return
	}
	f.mu.Lock()
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
}

// Publish records an event tagged with the operation that produced it.
func (f *Feed) Publish(opID string, e Event) {
	if e == nil {
		return
	}
	payload := e.Event()
	if payload == nil {
		return
	}
	payload.OperationID = opID
	f.mu.Lock()
	f.recent = append(f.recent, payload)
	if len(f.recent) > f.limit {
		f.recent = append([]*types.Event(nil), f.recent[len(f.recent)-f.limit:]...)
	}
	listeners := append([]func(*types.Event){}, f.listeners...)
	f.mu.Unlock()
	for _, fn := range listeners {
		fn(payload)
	}
}

// Recent returns up to n of the latest events, oldest first.
func (f *Feed) Recent(n int) []*types.Event {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if n <= 0 || n > len(f.recent) {
		n = len(f.recent)
	}
	out := make([]*types.Event, n)
	copy(out, f.recent[len(f.recent)-n:])
	return out
}

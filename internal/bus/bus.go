// Package bus is a tiny process-local publish/subscribe hub used to carry
// agent-run progress events from the port that executes them to every ready
// gateway connection. It has exactly one intended subscriber (the
// connection hub's fan-out loop) but supports more for testing.
package bus

import "sync"

// AgentEvent is one progress update published while an "agent" call is
// in flight, identified by the run ID it belongs to.
type AgentEvent struct {
	RunID   string
	Status  string
	Payload any
	Final   bool
}

// Bus fans out published AgentEvents to every current subscriber.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan AgentEvent
	next int
}

// New builds an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan AgentEvent)}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is buffered so a slow subscriber cannot
// block Publish; a full subscriber simply misses events past its buffer.
// (Gateway connections differ: one that overflows on a non-droppable frame
// is evicted.)
func (b *Bus) Subscribe(buffer int) (<-chan AgentEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan AgentEvent, buffer)
	b.subs[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// Publish fans ev out to every current subscriber. A subscriber whose buffer
// is full silently drops the event rather than blocking the publisher.
func (b *Bus) Publish(ev AgentEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscribers. Used by tests
// and diagnostics.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

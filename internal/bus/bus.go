// Package bus provides best-effort fan-out of typed lifecycle events.
//
// Ordering is per-emitter FIFO: a subscriber sees any single emitter's
// events in emission order. There is no cross-emitter ordering guarantee.
// A slow subscriber never blocks the emitter: each subscription has a
// bounded buffer and excess events are dropped for that subscriber only.
package bus

import (
	"sync"
	"time"
)

// Type identifies an event category.
type Type string

const (
	WorkerState   Type = "worker:state"
	WorkerAdded   Type = "worker:added"
	WorkerRemoved Type = "worker:removed"
	WorkerStderr  Type = "worker:stderr"
	ToolCall      Type = "tool:call"
	ToolResult    Type = "tool:result"
	SessionOpened Type = "session:opened"
	SessionClosed Type = "session:closed"
	PoolScaled    Type = "pool:scaled"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	Type        Type  `json:"type"`
	TimestampMS int64 `json:"timestamp_ms"`
	Data        any   `json:"data"`
}

// defaultBuffer is the per-subscriber channel capacity.
const defaultBuffer = 64

// Bus fans events out to subscribers. The zero value is not usable; call
// New.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish delivers an event to every current subscriber. Never blocks:
// subscribers whose buffer is full miss this event.
func (b *Bus) Publish(t Type, data any) {
	ev := Event{Type: t, TimestampMS: time.Now().UnixMilli(), Data: data}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default: // subscriber too slow, drop for this subscriber only
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, defaultBuffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

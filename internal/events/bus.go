package events

import (
	"sync"
	"time"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}

// Handler receives events for a subscribed type. Handlers must not block;
// slow consumers should buffer on their own channel and drop when full.
type Handler func(event *Event)

// Bus is an in-process pub/sub bus keyed by event type.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[int]Handler
	nextID   int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[EventType]map[int]Handler)}
}

// Subscribe registers a handler for one event type and returns an
// unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.handlers[eventType][id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// Emit delivers the event to all handlers subscribed to its type,
// synchronously, in unspecified order.
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
		Module:    module,
	}

	b.mu.RLock()
	fns := make([]Handler, 0, len(b.handlers[eventType]))
	for _, fn := range b.handlers[eventType] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
}

package events

import "sync"

// Any subscribes to every event. Handlers registered under Any receive the
// event name as their first argument, followed by the payload.
const Any = "*"

// Handler receives an event's payload arguments.
type Handler func(args ...any)

type subscriber struct {
	id uint64
	fn Handler
}

// Bus is the in-process notification bus. Handlers for one event run
// synchronously in registration order; no ordering holds across events.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string][]subscriber
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Subscribe registers fn for the named event and returns an unsubscribe
// func. Unsubscribing is idempotent and safe while a dispatch is in flight;
// the handler stops receiving events from the next publish on.
func (b *Bus) Subscribe(event string, fn Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscriber{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[event]
			for i, s := range list {
				if s.id == id {
					next := make([]subscriber, 0, len(list)-1)
					next = append(next, list[:i]...)
					next = append(next, list[i+1:]...)
					b.subs[event] = next
					break
				}
			}
			if len(b.subs[event]) == 0 {
				delete(b.subs, event)
			}
		})
	}
}

// Publish dispatches the event to its subscribers, then to Any subscribers
// with the event name prepended. Dispatch runs on the caller's goroutine
// against a snapshot of the subscriber list, so handlers may subscribe or
// unsubscribe freely while one is in flight.
func (b *Bus) Publish(event string, args ...any) {
	b.mu.Lock()
	direct := append([]subscriber(nil), b.subs[event]...)
	wild := append([]subscriber(nil), b.subs[Any]...)
	b.mu.Unlock()

	for _, s := range direct {
		s.fn(args...)
	}
	if len(wild) == 0 {
		return
	}
	wildArgs := append([]any{event}, args...)
	for _, s := range wild {
		s.fn(wildArgs...)
	}
}

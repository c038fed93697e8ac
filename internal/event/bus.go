package event

import "sync"

// Bus multiplexes request events to side observers such as the history
// recorder. It is deliberately narrow: subscribe, publish, unsubscribe.
// The primary consumer of a request reads its own Stream; the Bus only
// mirrors events for observers that watch all requests.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[int]func(requestID string, e Event)
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(string, Event))}
}

// Subscribe registers fn for every published event and returns a function
// that removes the subscription.
func (b *Bus) Subscribe(fn func(requestID string, e Event)) (unsubscribe func()) {
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

// Publish delivers e for requestID to all current subscribers,
// synchronously and in unspecified order.
func (b *Bus) Publish(requestID string, e Event) {
	b.mu.RLock()
	fns := make([]func(string, Event), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(requestID, e)
	}
}

// Package events fans ledger audit events out to subscribers.
package events

import (
	"sync"
	"time"

	"github.com/cipherwatt/cipherwatt/pkg/types"
)

// Bus delivers events to any number of subscribers. Publish never blocks; a
// subscriber whose channel is full misses the event.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan types.Event
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]chan types.Event),
	}
}

// Subscribe registers a new subscriber with the given channel buffer. The
// returned cancel func removes the subscription and closes the channel; it
// is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan types.Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan types.Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Publish stamps the event and delivers it to all current subscribers.
func (b *Bus) Publish(ev types.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind, drop the event for it.
		}
	}
}

// Close closes all subscriber channels. Publish and Subscribe become no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

package events

import (
	"sync"
	"time"
)

// EventBus provides publish/subscribe for trace events.
type EventBus interface {
	Publish(event Event)
	Subscribe(filter ...EventType) <-chan Event
	SubscribeWithHistory(filter ...EventType) (<-chan Event, []Event)
	Unsubscribe(ch <-chan Event)
	History(since time.Time) []Event
}

type subscriber struct {
	ch     chan Event
	filter map[EventType]bool // empty means all events
}

// MemoryBus is an in-memory implementation of EventBus. It also satisfies
// Sink so the runtime can publish to it directly.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	history     []Event
	closed      bool
}

// NewMemoryBus creates a new in-memory event bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		history: make([]Event, 0, 256),
	}
}

func (b *MemoryBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.history = append(b.history, event)
	subs := make([]subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, sub := range subs {
		if len(sub.filter) > 0 && !sub.filter[event.Type] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Slow subscriber; drop.
		}
	}
}

// Emit implements Sink.
func (b *MemoryBus) Emit(event Event) error {
	b.Publish(event)
	return nil
}

// Close closes every subscriber channel. History stays readable.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = nil
	return nil
}

func (b *MemoryBus) Subscribe(filter ...EventType) <-chan Event {
	ch, _ := b.subscribe(false, filter)
	return ch
}

// SubscribeWithHistory subscribes and returns the matching history in one
// step. Every event lands either in the returned history or on the channel,
// never both.
func (b *MemoryBus) SubscribeWithHistory(filter ...EventType) (<-chan Event, []Event) {
	return b.subscribe(true, filter)
}

func (b *MemoryBus) subscribe(withHistory bool, filter []EventType) (chan Event, []Event) {
	ch := make(chan Event, 64)
	sub := subscriber{ch: ch}
	if len(filter) > 0 {
		sub.filter = make(map[EventType]bool, len(filter))
		for _, f := range filter {
			sub.filter[f] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var past []Event
	if withHistory {
		for _, e := range b.history {
			if len(sub.filter) == 0 || sub.filter[e.Type] {
				past = append(past, e)
			}
		}
	}
	if b.closed {
		close(ch)
		return ch, past
	}
	b.subscribers = append(b.subscribers, sub)
	return ch, past
}

func (b *MemoryBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub.ch == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

func (b *MemoryBus) History(since time.Time) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, e := range b.history {
		if !e.Timestamp.Before(since) {
			result = append(result, e)
		}
	}
	return result
}

// Len reports the number of events recorded so far.
func (b *MemoryBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}

package events

import (
	"sync"
)

const defaultBufSize = 256

// Publisher is the publishing side of a Bus. The orchestrator depends on this
// rather than on the concrete bus.
type Publisher interface {
	Publish(event Event)
}

// Bus is a channel-based pub-sub event bus. Subscribers pick topics; a
// subscription without topics receives every event.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	closed bool
}

type subscription struct {
	ch     chan Event
	topics map[string]bool // nil means all topics
}

func (s *subscription) wants(topic string) bool {
	return s.topics == nil || s.topics[topic]
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel receiving events of the given topics, or of all
// topics when none are given. bufSize defaults to 256 if <= 0.
func (b *Bus) Subscribe(bufSize int, topics ...string) <-chan Event {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}

	sub := &subscription{ch: make(chan Event, bufSize)}
	if len(topics) > 0 {
		sub.topics = make(map[string]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(sub.ch)
		return sub.ch
	}

	b.subs = append(b.subs, sub)
	return sub.ch
}

// Publish delivers event to every subscriber of its topic.
// Non-blocking: if a subscriber's channel is full, the event is dropped for that subscriber.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	topic := event.Topic()
	for _, sub := range b.subs {
		if !sub.wants(topic) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Channel full, drop event
		}
	}
}

// Close closes the bus and all subscriber channels.
// Safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, sub := range b.subs {
		close(sub.ch)
	}
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Package events provides a small in-process pub/sub bus for signals the
// upload engine reacts to: subscription purchases, local photo deletions
// and completed uploads.
package events

import (
	"sync"
)

// Topic identifies an event stream on the bus.
type Topic string

const (
	// TopicSubscriptionPurchased fires when the account gains an active
	// subscription. The URL pool uses it to retry after a 402.
	TopicSubscriptionPurchased Topic = "subscription.purchased"

	// TopicLocalPhotosDeleted fires when local source files disappear.
	TopicLocalPhotosDeleted Topic = "local.photos.deleted"

	// TopicLocalPhotosUpdated fires after the foreground process finishes
	// an upload, so sync consumers can refresh their view.
	TopicLocalPhotosUpdated Topic = "local.photos.updated"
)

// Event carries a topic and an optional payload.
type Event struct {
	Topic   Topic
	Payload any
}

// Bus is a non-blocking fan-out publisher. Subscribers get a buffered
// channel; events are dropped for subscribers that fall behind rather than
// stalling the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan Event
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan Event)}
}

// Subscribe registers for a topic and returns the receiving channel plus an
// unsubscribe function. The unsubscribe function closes the channel.
func (b *Bus) Subscribe(topic Topic) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[topic]
		for i, c := range chans {
			if c == ch {
				b.subs[topic] = append(chans[:i], chans[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber of its topic.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[event.Topic] {
		select {
		case ch <- event:
		default:
			// Subscriber is saturated; drop rather than block the engine.
		}
	}
}

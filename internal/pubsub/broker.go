// Package pubsub provides a small typed publish-subscribe broker used in
// place of ad-hoc event-emitter callbacks: components publish named events
// onto bounded topic channels, and subscribers (tests, the monitor, CLI
// progress reporters) drain them without the publisher blocking forever on
// a slow listener.
package pubsub

import (
	"sync"
)

// Event is a single published message. Topic is the event name (e.g.
// "search:completed", "sync:conflict", "monitor:alert"); Payload is
// whatever structured value the publisher provides.
type Event struct {
	Topic   string
	Payload interface{}
}

// Subscription is a bound channel plus an Unsubscribe to stop receiving
// and release the slot.
type Subscription struct {
	C           <-chan Event
	unsubscribe func()
}

// Unsubscribe detaches this subscription from the broker. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Broker is a bounded-fan-out publish/subscribe hub. The zero value is not
// usable; construct with New.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]chan Event
	nextID      int
	bufferSize  int
}

// New creates a Broker whose per-subscriber channel buffer holds
// bufferSize pending events before Publish starts dropping the oldest
// one rather than blocking the publisher.
func New(bufferSize int) *Broker {
	if bufferSize <= 0 {
		bufferSize = 32
	}
	return &Broker{
		subscribers: make(map[string]map[int]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a Subscription receiving every Event published to
// topic from this point forward. An empty topic subscribes to all topics.
func (b *Broker) Subscribe(topic string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufferSize)

	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[int]chan Event)
	}
	b.subscribers[topic][id] = ch

	return &Subscription{
		C: ch,
		unsubscribe: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.subscribers[topic]; ok {
				if c, ok := subs[id]; ok {
					delete(subs, id)
					close(c)
				}
			}
		},
	}
}

// Publish delivers event to every subscriber of event.Topic and every
// subscriber of the wildcard "" topic. Delivery is non-blocking: a
// subscriber whose buffer is full has its oldest pending event dropped to
// make room, so one slow subscriber never stalls the publisher.
func (b *Broker) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, topic := range []string{event.Topic, ""} {
		for _, ch := range b.subscribers[topic] {
			select {
			case ch <- event:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- event:
				default:
				}
			}
		}
	}
}

// SubscriberCount reports how many live subscriptions exist for topic,
// used by tests and the monitor's health report.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Package events provides the in-process event bus implementation of the
// EventBus port. Delivery is asynchronous: each subscriber owns a buffered
// queue drained by its own goroutine, so a slow handler never blocks a
// publisher. Delivery is at-least-once; handlers are expected to be
// idempotent on the event ID.
package events

import (
	"log"
	"strings"
	"sync"

	"github.com/qinfinity/qcored/internal/ports"
)

// DefaultQueueSize is the per-subscriber buffer. When a subscriber's queue
// is full, the oldest delivery pressure is resolved by dropping the event
// for that subscriber and counting it.
const DefaultQueueSize = 256

// Bus is an in-process publish/subscribe bus.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]*subscription
	nextID  int
	closed  bool
	dropped uint64
	total   uint64
	log     *log.Logger
}

type subscription struct {
	pattern string
	queue   chan ports.Envelope
	done    chan struct{}
}

// NewBus creates a started bus.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{
		subs: make(map[int]*subscription),
		log:  logger,
	}
}

// Publish broadcasts an envelope to all subscribers whose pattern matches.
func (b *Bus) Publish(topic string, env ports.Envelope) error {
	env.Topic = topic

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.total++
	targets := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if matches(sub.pattern, topic) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.queue <- env:
		default:
			b.mu.Lock()
			b.dropped++
			b.mu.Unlock()
			b.log.Printf("events: subscriber queue full, dropped %s", topic)
		}
	}
	return nil
}

// Subscribe registers a handler for topics matching pattern. The handler
// runs on its own goroutine. The returned function cancels the subscription.
func (b *Bus) Subscribe(pattern string, handler ports.Handler) (func(), error) {
	sub := &subscription{
		pattern: pattern,
		queue:   make(chan ports.Envelope, DefaultQueueSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case env := <-sub.queue:
				handler(env)
			case <-sub.done:
				// Drain anything already queued before exiting.
				for {
					select {
					case env := <-sub.queue:
						handler(env)
					default:
						return
					}
				}
			}
		}
	}()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.done)
		}
		b.mu.Unlock()
	}
	return cancel, nil
}

// Close stops accepting publications and cancels all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.done)
	}
}

// Stats reports totals for event-bus coherence checks.
type Stats struct {
	Published     uint64 // Envelopes accepted for delivery
	Dropped       uint64 // Deliveries dropped on full queues
	Subscriptions int    // Active subscriptions
}

// Stats returns current bus statistics.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Published:     b.total,
		Dropped:       b.dropped,
		Subscriptions: len(b.subs),
	}
}

// matches reports whether a pattern covers a topic. A pattern is an exact
// topic, "*" for everything, or a prefix ending in ".*".
func matches(pattern, topic string) bool {
	if pattern == "*" || pattern == topic {
		return true
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

var _ ports.EventBus = (*Bus)(nil)

package ports

// Actor identifies who emitted an event.
type Actor struct {
	Identity string // Identity of the emitter
	Role     string // Role of the emitter, e.g. "system", "member"
}

// Envelope is the wire shape of every event on the bus. Delivery is
// at-least-once; handlers must be idempotent on the event ID.
type Envelope struct {
	ID        string         // Unique event ID
	Topic     string         // Dot-delimited topic, e.g. "payment.settled"
	Timestamp int64          // Unix milliseconds
	Actor     Actor          // Who emitted the event
	Payload   map[string]any // Event body
}

// Handler consumes an event envelope. Handlers run asynchronously and must
// not block publishers.
type Handler func(Envelope)

// EventBus is the publish/subscribe port.
type EventBus interface {
	// Publish broadcasts an envelope to all matching subscribers.
	Publish(topic string, env Envelope) error

	// Subscribe registers a handler for topics matching pattern.
	// A pattern is either an exact topic or a prefix ending in ".*".
	// The returned function cancels the subscription.
	Subscribe(pattern string, handler Handler) (func(), error)
}

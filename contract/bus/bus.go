package bus

import "context"

// Publisher publishes messages under an event name.
//
// Emit returns once the message is handed off to the transport. Broker-backed
// transports return after the broker acknowledged receipt, never after a
// consumer processed the message.
type Publisher interface {
	Emit(ctx context.Context, eventName string, msg Message) error
}

// Subscriber registers handlers for messages published under an event name.
//
// The first On call for a name creates the underlying queue or subscription;
// later calls only add the handler. There is no unsubscribe. Every handler
// registered for a name is invoked concurrently for each delivered message and
// the message is acknowledged only after all of them returned nil.
type Subscriber interface {
	On(ctx context.Context, eventName string, h Handler) error
}

// EventBus is the transport-agnostic contract implemented by every adapter
// (in-process, RabbitMQ, NATS JetStream, Kafka). Adapters must be safe for
// concurrent use and must not keep global state.
type EventBus interface {
	Publisher
	Subscriber

	// Close stops consumers and waits for in-flight deliveries. Emit after Close
	// fails with errors.ErrBusClosed. Connections opened by the adapters' *_conn
	// constructors are released by the cleanup func those constructors return.
	Close() error
}

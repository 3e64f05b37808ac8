package bus

import "context"

// CommandHandler handles commands of type C.
// Implementations must be safe for concurrent use by multiple goroutines.
type CommandHandler[C Command] interface {
	Handle(ctx context.Context, c C) error
}

// QueryHandler handles queries of type Q and returns a result of type R.
// Implementations must be safe for concurrent use by multiple goroutines.
type QueryHandler[Q Query, R any] interface {
	Handle(ctx context.Context, q Q) (R, error)
}

// Handler consumes one delivered message. Returning an error leaves the
// message unacknowledged so broker-backed transports redeliver it; handlers
// must therefore be idempotent. Errors matching errors.ErrInvalidEvent are
// treated as permanent and the message is dropped.
type Handler func(ctx context.Context, msg Message) error

package inmemory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/next-trace/scg-room-booking/adapters/fanout"
	cbus "github.com/next-trace/scg-room-booking/contract/bus"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

// EventBus is a thread-safe in-process implementation of cbus.EventBus.
//
// Emit dispatches synchronously to the handlers registered at call time; there
// is no persistence, so messages emitted before a handler is registered (or
// before a restart) are never delivered to it. Handler failures are logged and
// do not fail Emit, matching the broker-backed transports where the publisher
// is decoupled from consumers.
type EventBus struct {
	handlers *fanout.Registry
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// Ensure EventBus implements the contract.
var _ cbus.EventBus = (*EventBus)(nil)

// New creates a new in-memory event bus. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventBus{handlers: fanout.NewRegistry(), logger: logger}
}

func (b *EventBus) On(ctx context.Context, eventName string, h cbus.Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if h == nil {
		return fmt.Errorf("inmemory on %s: nil handler: %w", eventName, berr.ErrSubscribeFailed)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("inmemory on %s: %w", eventName, berr.ErrBusClosed)
	}

	if b.handlers.Add(eventName, h) {
		b.logger.InfoContext(ctx, "subscribed to event", "event", eventName, "transport", "memory")
	}

	return nil
}

func (b *EventBus) Emit(ctx context.Context, eventName string, msg cbus.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return fmt.Errorf("inmemory emit %s: %w", eventName, berr.ErrBusClosed)
	}

	if err := b.handlers.Dispatch(ctx, eventName, msg); err != nil {
		b.logger.ErrorContext(ctx, "event handler failed",
			"event", eventName, "event_id", msg.ID(), "err", err)
	}

	return nil
}

// Close marks the bus closed. Handlers already running are not interrupted.
func (b *EventBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	return nil
}

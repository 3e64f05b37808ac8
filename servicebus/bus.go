package servicebus

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	cbus "github.com/next-trace/scg-room-booking/contract/bus"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

// Bus routes commands and queries to the single handler bound for their type.
//
// Bus is concurrency-safe and contains no global state.
type Bus struct {
	mu sync.RWMutex

	cmd map[reflect.Type]func(ctx context.Context, cmd any) error
	qry map[reflect.Type]func(ctx context.Context, q any) (any, error)

	// global command middleware executed in registration order
	cmdMW []CommandMiddleware

	logger *slog.Logger
}

// Option configures a Bus instance.
type Option func(*Bus)

// CommandMiddleware wraps command handler execution. Middlewares are executed in registration order.
type CommandMiddleware func(next func(ctx context.Context, cmd any) error) func(ctx context.Context, cmd any) error

// New constructs a Bus. A nil logger falls back to slog.Default().
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bus{
		cmd:    make(map[reflect.Type]func(context.Context, any) error),
		qry:    make(map[reflect.Type]func(context.Context, any) (any, error)),
		logger: logger,
	}

	for _, o := range opts {
		o(b)
	}

	return b
}

// WithCommandMiddleware registers global command middleware.
func WithCommandMiddleware(mw ...CommandMiddleware) Option {
	return func(b *Bus) { b.cmdMW = append(b.cmdMW, mw...) }
}

// WithCommandLogging logs every dispatched command with its outcome and duration.
func WithCommandLogging() Option {
	return func(b *Bus) { b.cmdMW = append(b.cmdMW, LoggingMiddleware(b.logger)) }
}

// LoggingMiddleware logs command type, duration and error at debug level, or
// at warn level when the handler fails.
func LoggingMiddleware(logger *slog.Logger) CommandMiddleware {
	return func(next func(context.Context, any) error) func(context.Context, any) error {
		return func(ctx context.Context, cmd any) error {
			start := time.Now()
			err := next(ctx, cmd)

			attrs := []any{"command", reflect.TypeOf(cmd).String(), "duration", time.Since(start)}
			if err != nil {
				logger.WarnContext(ctx, "command failed", append(attrs, "err", err)...)
			} else {
				logger.DebugContext(ctx, "command handled", attrs...)
			}

			return err
		}
	}
}

// TimeoutMiddleware bounds every command handler run by d.
func TimeoutMiddleware(d time.Duration) CommandMiddleware {
	return func(next func(context.Context, any) error) func(context.Context, any) error {
		return func(ctx context.Context, cmd any) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			return next(ctx, cmd)
		}
	}
}

// BindCommand registers a handler for command type C. Duplicate bindings are rejected.
func BindCommand[C cbus.Command](b *Bus, h cbus.CommandHandler[C]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero C

	t := reflect.TypeOf(zero)

	if _, exists := b.cmd[t]; exists {
		return fmt.Errorf("bind command %s: %w", t.String(), berr.ErrHandlerExists)
	}

	b.cmd[t] = func(ctx context.Context, v any) error {
		c, ok := v.(C)
		if !ok {
			return fmt.Errorf("dispatch %s: %w", reflect.TypeOf(v).String(), berr.ErrHandlerTypeMismatch)
		}

		return h.Handle(ctx, c)
	}

	return nil
}

// BindQuery registers a handler for query type Q producing R. Duplicate bindings are rejected.
func BindQuery[Q cbus.Query, R any](b *Bus, h cbus.QueryHandler[Q, R]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero Q
	t := reflect.TypeOf(zero)

	if _, exists := b.qry[t]; exists {
		return fmt.Errorf("bind query %s: %w", t.String(), berr.ErrHandlerExists)
	}

	b.qry[t] = func(ctx context.Context, v any) (any, error) {
		q, ok := v.(Q)
		if !ok {
			return nil, fmt.Errorf("ask %s: %w", reflect.TypeOf(v).String(), berr.ErrHandlerTypeMismatch)
		}

		return h.Handle(ctx, q)
	}

	return nil
}

// Dispatch executes the command handler synchronously through the middleware chain.
func (b *Bus) Dispatch(ctx context.Context, cmd cbus.Command) error {
	b.mu.RLock()
	f, ok := b.cmd[reflect.TypeOf(cmd)]
	chain := b.cmdMW
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("dispatch %s: %w", reflect.TypeOf(cmd), berr.ErrHandlerNotFound)
	}

	// Build chain so the first registered middleware runs first
	final := f
	for i := len(chain) - 1; i >= 0; i-- {
		final = chain[i](final)
	}

	return final(ctx, cmd)
}

// Ask executes a query handler synchronously and returns an untyped result.
func (b *Bus) Ask(ctx context.Context, q cbus.Query) (any, error) {
	b.mu.RLock()
	f, ok := b.qry[reflect.TypeOf(q)]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("ask %s: %w", reflect.TypeOf(q), berr.ErrHandlerNotFound)
	}

	return f(ctx, q)
}

// Ask executes a query handler synchronously and returns the typed result.
func Ask[Q cbus.Query, R any](ctx context.Context, b *Bus, q Q) (R, error) {
	var zero R

	res, err := b.Ask(ctx, q)
	if err != nil {
		return zero, err
	}

	r, ok := res.(R)
	if !ok {
		return zero, fmt.Errorf("ask %s: %w", reflect.TypeOf(q), berr.ErrHandlerTypeMismatch)
	}

	return r, nil
}

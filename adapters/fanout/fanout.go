// Package fanout holds the handler table shared by the event bus adapters and
// the concurrent invocation of every handler registered for one event name.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	cbus "github.com/next-trace/scg-room-booking/contract/bus"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

// Registry maps event names to their handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]cbus.Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]cbus.Handler)}
}

// Add appends h to the handlers of name and reports whether it is the first
// handler for that name, i.e. whether the transport must create its
// queue or subscription.
func (r *Registry) Add(name string, h cbus.Handler) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	first = len(r.handlers[name]) == 0
	r.handlers[name] = append(r.handlers[name], h)

	return first
}

// Remove drops the last handler registered for name. Adapters use it to undo
// Add when creating the subscription failed.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	hs := r.handlers[name]
	if len(hs) <= 1 {
		delete(r.handlers, name)
		return
	}

	r.handlers[name] = hs[:len(hs)-1]
}

// Handlers returns a snapshot of the handlers registered for name.
func (r *Registry) Handlers(name string) []cbus.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]cbus.Handler(nil), r.handlers[name]...)
}

// Names returns the event names that have at least one handler.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		out = append(out, n)
	}

	return out
}

// Dispatch invokes every handler for name concurrently and waits for all of
// them. A panicking handler is reported as an error instead of crashing the
// consumer loop.
func (r *Registry) Dispatch(ctx context.Context, name string, msg cbus.Message) error {
	return Invoke(ctx, r.Handlers(name), msg)
}

// Invoke runs hs concurrently with the same message and returns the first error.
func Invoke(ctx context.Context, hs []cbus.Handler, msg cbus.Message) error {
	switch len(hs) {
	case 0:
		return nil
	case 1:
		return safeCall(ctx, hs[0], msg)
	}

	var g errgroup.Group

	for _, h := range hs {
		g.Go(func() error { return safeCall(ctx, h, msg) })
	}

	return g.Wait()
}

func safeCall(ctx context.Context, h cbus.Handler, msg cbus.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("event handler panic: %v", rec)
		}
	}()

	// each handler gets its own headers map
	return h(ctx, msg.Clone())
}

// Permanent reports whether err means the message can never be processed and
// must not be redelivered.
func Permanent(err error) bool {
	return errors.Is(err, berr.ErrInvalidEvent)
}

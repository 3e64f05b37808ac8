package bus

import "context"

// HeaderPropagator carries trace context across the broker in message headers.
// Inject writes into headers in place; Extract returns ctx enriched with what
// the headers carry. Implementations must be safe for concurrent use.
type HeaderPropagator interface {
	Inject(ctx context.Context, headers map[string]string)
	Extract(ctx context.Context, headers map[string]string) context.Context
}

// NopHeaderPropagator propagates nothing. Used when trace propagation is off.
type NopHeaderPropagator struct{}

func (NopHeaderPropagator) Inject(context.Context, map[string]string) {}

func (NopHeaderPropagator) Extract(ctx context.Context, _ map[string]string) context.Context {
	return ctx
}

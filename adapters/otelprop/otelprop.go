// Package otelprop bridges bus.HeaderPropagator to OpenTelemetry text map
// propagation so trace context travels in message headers.
package otelprop

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	cbus "github.com/next-trace/scg-room-booking/contract/bus"
)

type Propagator struct {
	p propagation.TextMapPropagator
}

var _ cbus.HeaderPropagator = Propagator{}

// New propagates W3C trace context and baggage.
func New() Propagator {
	return Propagator{p: propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})}
}

// FromGlobal uses whatever propagator is registered with otel.SetTextMapPropagator.
func FromGlobal() Propagator {
	return Propagator{p: otel.GetTextMapPropagator()}
}

func (p Propagator) Inject(ctx context.Context, headers map[string]string) {
	if headers == nil {
		return
	}

	p.p.Inject(ctx, propagation.MapCarrier(headers))
}

func (p Propagator) Extract(ctx context.Context, headers map[string]string) context.Context {
	return p.p.Extract(ctx, propagation.MapCarrier(headers))
}

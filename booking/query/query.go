// Package query implements the read side: projecting RoomBooked events into
// the read registry and answering free-room queries from it.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/next-trace/scg-room-booking/booking"
	"github.com/next-trace/scg-room-booking/booking/events"
	cbus "github.com/next-trace/scg-room-booking/contract/bus"
)

// ReadRegistry is the additive projection of committed bookings.
// Add must tolerate the same occupancy being added more than once.
type ReadRegistry interface {
	All(ctx context.Context) ([]booking.Occupancy, error)
	Add(ctx context.Context, o booking.Occupancy) error
}

// FreeRooms is the mediator query for Handler.
type FreeRooms struct {
	Arrival   time.Time
	Departure time.Time
}

var _ cbus.QueryHandler[FreeRooms, []booking.Room] = (*Handler)(nil)

type Handler struct {
	registry ReadRegistry
	catalog  booking.Catalog
	logger   *slog.Logger
}

// New subscribes the projection to RoomBooked on sub. The read model only
// learns about bookings through that subscription.
func New(ctx context.Context, registry ReadRegistry, catalog booking.Catalog, sub cbus.Subscriber, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{registry: registry, catalog: catalog, logger: logger}

	if err := events.On(ctx, sub, h.project); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", events.RoomBookedName, err)
	}

	return h, nil
}

func (h *Handler) Handle(ctx context.Context, q FreeRooms) ([]booking.Room, error) {
	return h.FreeRooms(ctx, booking.Period{Arrival: q.Arrival.UTC(), Departure: q.Departure.UTC()})
}

// FreeRooms lists the catalog rooms free for p according to the read model.
func (h *Handler) FreeRooms(ctx context.Context, p booking.Period) ([]booking.Room, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	all, err := h.registry.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("read occupancies: %w", err)
	}

	return h.catalog.FindFreeRooms(all, p), nil
}

func (h *Handler) project(ctx context.Context, e events.RoomBooked) error {
	if err := h.registry.Add(ctx, e.Occupancy()); err != nil {
		return fmt.Errorf("project booking %s: %w", e.BookingID, err)
	}

	h.logger.DebugContext(ctx, "booking projected", "booking_id", e.BookingID, "room", e.RoomName)

	return nil
}

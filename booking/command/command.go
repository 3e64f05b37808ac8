// Package command implements the write side: validating a booking request,
// checking availability against committed bookings, committing and
// announcing the booking with a RoomBooked event.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/next-trace/scg-room-booking/booking"
	"github.com/next-trace/scg-room-booking/booking/events"
	cbus "github.com/next-trace/scg-room-booking/contract/bus"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

// WriteRegistry is the durable store of committed bookings.
// Add must fail with errors.ErrDuplicateBooking when the same room is already
// booked for exactly the same period.
type WriteRegistry interface {
	RoomBookings(ctx context.Context, room string) ([]booking.Booking, error)
	Add(ctx context.Context, b booking.Booking) error
}

// RoomLocker runs fn while holding an exclusive lock on room. Registries that
// can lock across processes implement it; fn must use the ctx it is given.
type RoomLocker interface {
	LockRoom(ctx context.Context, room string, fn func(ctx context.Context) error) error
}

// BookRoom is the mediator command for Handler.
type BookRoom struct {
	BookingID uuid.UUID
	ClientID  string
	Room      string
	Arrival   time.Time
	Departure time.Time
}

var _ cbus.CommandHandler[BookRoom] = (*Handler)(nil)

type Handler struct {
	registry WriteRegistry
	locker   RoomLocker
	catalog  booking.Catalog
	bus      cbus.Publisher
	logger   *slog.Logger
}

// New wires the handler. When registry implements RoomLocker its lock is used,
// otherwise bookings are serialized per room within this process only.
func New(registry WriteRegistry, catalog booking.Catalog, bus cbus.Publisher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	locker, ok := registry.(RoomLocker)
	if !ok {
		locker = NewLocalLocker()
	}

	return &Handler{registry: registry, locker: locker, catalog: catalog, bus: bus, logger: logger}
}

func (h *Handler) Handle(ctx context.Context, c BookRoom) error {
	return h.BookARoom(ctx, booking.Booking{
		ID:       c.BookingID,
		ClientID: c.ClientID,
		Room:     c.Room,
		Period:   booking.Period{Arrival: c.Arrival.UTC(), Departure: c.Departure.UTC()},
	})
}

// BookARoom commits b if its room is free for its period and then emits
// RoomBooked. It fails with errors.ErrRoomUnavailable when the room is taken
// or unknown. A failed emit is reported after the booking was committed.
func (h *Handler) BookARoom(ctx context.Context, b booking.Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}

	b.Period = booking.Period{Arrival: b.Period.Arrival.UTC(), Departure: b.Period.Departure.UTC()}

	if err := b.Validate(); err != nil {
		return err
	}

	if !h.catalog.Has(b.Room) {
		return fmt.Errorf("%w: unknown room %q", berr.ErrRoomUnavailable, b.Room)
	}

	err := h.locker.LockRoom(ctx, b.Room, func(ctx context.Context) error {
		return h.commit(ctx, b)
	})
	if err != nil {
		return err
	}

	h.logger.InfoContext(ctx, "room booked",
		"booking_id", b.ID.String(), "room", b.Room, "period", b.Period.String())

	if err := events.Emit(ctx, h.bus, b); err != nil {
		// the booking stays committed; the read model misses it until reconciled
		h.logger.ErrorContext(ctx, "emit RoomBooked failed",
			"booking_id", b.ID.String(), "room", b.Room, "err", err)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("emit %s: %w", events.RoomBookedName, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (h *Handler) commit(ctx context.Context, b booking.Booking) error {
	existing, err := h.registry.RoomBookings(ctx, b.Room)
	if err != nil {
		return fmt.Errorf("read bookings of %s: %w", b.Room, err)
	}

	if !h.catalog.IsFree(booking.Occupancies(existing), b.Room, b.Period) {
		return fmt.Errorf("%w: %s is not free for %s", berr.ErrRoomUnavailable, b.Room, b.Period)
	}

	if err := h.registry.Add(ctx, b); err != nil {
		if errors.Is(err, berr.ErrDuplicateBooking) {
			return fmt.Errorf("%w: %w", berr.ErrRoomUnavailable, err)
		}

		return fmt.Errorf("add booking: %w", err)
	}

	return nil
}

// Package events defines the typed RoomBooked envelope exchanged between the
// command and query sides over any bus transport.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/next-trace/scg-room-booking/booking"
	cbus "github.com/next-trace/scg-room-booking/contract/bus"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

// RoomBookedName is the event name RoomBooked is emitted under.
const RoomBookedName = "RoomBooked"

var json = jsoniter.ConfigFastest

// RoomBooked is published once per committed booking.
type RoomBooked struct {
	BookingID     string    `json:"bookingId"`
	ClientID      string    `json:"clientId"`
	RoomName      string    `json:"roomName"`
	ArrivalDate   time.Time `json:"arrivalDate"`
	DepartureDate time.Time `json:"departureDate"`
}

func FromBooking(b booking.Booking) RoomBooked {
	return RoomBooked{
		BookingID:     b.ID.String(),
		ClientID:      b.ClientID,
		RoomName:      b.Room,
		ArrivalDate:   b.Period.Arrival.UTC(),
		DepartureDate: b.Period.Departure.UTC(),
	}
}

func (e RoomBooked) Period() booking.Period {
	return booking.Period{Arrival: e.ArrivalDate.UTC(), Departure: e.DepartureDate.UTC()}
}

func (e RoomBooked) Occupancy() booking.Occupancy {
	return booking.Occupancy{Room: e.RoomName, Period: e.Period()}
}

// Validate rejects payloads that cannot be projected.
func (e RoomBooked) Validate() error {
	if _, err := uuid.Parse(e.BookingID); err != nil {
		return fmt.Errorf("%w: bookingId: %w", berr.ErrInvalidEvent, err)
	}

	if e.RoomName == "" {
		return fmt.Errorf("%w: roomName is required", berr.ErrInvalidEvent)
	}

	if err := e.Period().Validate(); err != nil {
		return fmt.Errorf("%w: %w", berr.ErrInvalidEvent, err)
	}

	return nil
}

// Encode wraps e in a message with a fresh event id.
func Encode(e RoomBooked) (cbus.Message, error) {
	if err := e.Validate(); err != nil {
		return cbus.Message{}, err
	}

	body, err := json.Marshal(e)
	if err != nil {
		return cbus.Message{}, fmt.Errorf("encode %s: %w", RoomBookedName, errors.Join(berr.ErrSerializationFailed, err))
	}

	return cbus.Message{
		Body: body,
		Headers: map[string]string{
			cbus.HeaderEventID:      uuid.NewString(),
			cbus.HeaderEventName:    RoomBookedName,
			cbus.HeaderContentType:  "application/json",
			cbus.HeaderPartitionKey: e.RoomName,
		},
	}, nil
}

// Decode parses and validates a RoomBooked message. Every failure wraps
// errors.ErrInvalidEvent so transports drop the message instead of redelivering it.
func Decode(msg cbus.Message) (RoomBooked, error) {
	if name := msg.Headers[cbus.HeaderEventName]; name != "" && name != RoomBookedName {
		return RoomBooked{}, fmt.Errorf("%w: unexpected event name %q", berr.ErrInvalidEvent, name)
	}

	var e RoomBooked
	if err := json.Unmarshal(msg.Body, &e); err != nil {
		return RoomBooked{}, fmt.Errorf("%w: decode %s: %w", berr.ErrInvalidEvent, RoomBookedName, err)
	}

	if err := e.Validate(); err != nil {
		return RoomBooked{}, err
	}

	return e, nil
}

// Emit publishes b as a RoomBooked event.
func Emit(ctx context.Context, pub cbus.Publisher, b booking.Booking) error {
	msg, err := Encode(FromBooking(b))
	if err != nil {
		return err
	}

	return pub.Emit(ctx, RoomBookedName, msg)
}

// On subscribes h to RoomBooked events. Messages that do not decode never reach h.
func On(ctx context.Context, sub cbus.Subscriber, h func(ctx context.Context, e RoomBooked) error) error {
	return sub.On(ctx, RoomBookedName, func(ctx context.Context, msg cbus.Message) error {
		e, err := Decode(msg)
		if err != nil {
			return err
		}

		return h(ctx, e)
	})
}

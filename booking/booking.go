package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

// Booking is a committed write-side fact. It is never updated or deleted.
type Booking struct {
	ID       uuid.UUID
	ClientID string
	Room     string
	Period   Period
}

func New(clientID, room string, p Period) Booking {
	return Booking{ID: uuid.New(), ClientID: clientID, Room: room, Period: p}
}

// Occupancy is what the availability policy needs to know about a booking.
func (b Booking) Occupancy() Occupancy {
	return Occupancy{Room: b.Room, Period: b.Period}
}

// Occupancy is a room taken for a period; the read-side projection of a Booking.
type Occupancy struct {
	Room   string
	Period Period
}

// Key identifies an occupancy for deduplication of redelivered events.
func (o Occupancy) Key() string {
	return o.Room + "|" + o.Period.Arrival.UTC().Format(time.RFC3339Nano) +
		"|" + o.Period.Departure.UTC().Format(time.RFC3339Nano)
}

// Occupancies projects bookings for the availability policy.
func Occupancies(bs []Booking) []Occupancy {
	out := make([]Occupancy, 0, len(bs))
	for _, b := range bs {
		out = append(out, b.Occupancy())
	}

	return out
}

// Validate checks the fields a booking request must carry.
func (b Booking) Validate() error {
	if strings.TrimSpace(b.ClientID) == "" {
		return fmt.Errorf("%w: client id is required", berr.ErrInvalidBooking)
	}

	if strings.TrimSpace(b.Room) == "" {
		return fmt.Errorf("%w: room is required", berr.ErrInvalidBooking)
	}

	return b.Period.Validate()
}

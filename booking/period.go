package booking

import (
	"fmt"
	"time"

	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

// Period is the half-open interval [Arrival, Departure).
type Period struct {
	Arrival   time.Time
	Departure time.Time
}

func NewPeriod(arrival, departure time.Time) (Period, error) {
	p := Period{Arrival: arrival.UTC(), Departure: departure.UTC()}

	return p, p.Validate()
}

// Validate requires Arrival strictly before Departure.
func (p Period) Validate() error {
	if p.Arrival.IsZero() || p.Departure.IsZero() {
		return fmt.Errorf("%w: arrival and departure are required", berr.ErrInvalidPeriod)
	}

	if !p.Arrival.Before(p.Departure) {
		return fmt.Errorf("%w: arrival %s must be before departure %s",
			berr.ErrInvalidPeriod, p.Arrival.Format(time.DateOnly), p.Departure.Format(time.DateOnly))
	}

	return nil
}

// Overlaps reports whether both periods share an instant. Touching endpoints do not overlap.
func (p Period) Overlaps(o Period) bool {
	return p.Arrival.Before(o.Departure) && o.Arrival.Before(p.Departure)
}

func (p Period) String() string {
	return fmt.Sprintf("[%s, %s)", p.Arrival.Format(time.RFC3339), p.Departure.Format(time.RFC3339))
}

// Package memory provides mutex-guarded in-process write and read registries.
// Contents are lost on restart.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/next-trace/scg-room-booking/booking"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

// WriteStore keeps committed bookings and enforces uniqueness of
// (room, arrival, departure) like the SQL stores do.
type WriteStore struct {
	mu       sync.RWMutex
	bookings map[string][]booking.Booking // room -> bookings in commit order
	keys     map[string]struct{}
}

func NewWriteStore() *WriteStore {
	return &WriteStore{bookings: map[string][]booking.Booking{}, keys: map[string]struct{}{}}
}

func (s *WriteStore) RoomBookings(ctx context.Context, room string) ([]booking.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]booking.Booking(nil), s.bookings[room]...), nil
}

func (s *WriteStore) Add(ctx context.Context, b booking.Booking) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := b.Occupancy().Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.keys[key]; dup {
		return fmt.Errorf("%w: %s %s", berr.ErrDuplicateBooking, b.Room, b.Period)
	}

	s.keys[key] = struct{}{}
	s.bookings[b.Room] = append(s.bookings[b.Room], b)

	return nil
}

// Count returns the number of committed bookings.
func (s *WriteStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.keys)
}

// ReadStore is the additive read-side projection. Re-adding an occupancy that
// is already present is a no-op so redelivered events are harmless.
type ReadStore struct {
	mu          sync.RWMutex
	occupancies []booking.Occupancy
	keys        map[string]struct{}
}

func NewReadStore() *ReadStore {
	return &ReadStore{keys: map[string]struct{}{}}
}

func (s *ReadStore) All(ctx context.Context) ([]booking.Occupancy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]booking.Occupancy(nil), s.occupancies...), nil
}

func (s *ReadStore) Add(ctx context.Context, o booking.Occupancy) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := o.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.keys[key]; dup {
		return nil
	}

	s.keys[key] = struct{}{}
	s.occupancies = append(s.occupancies, o)

	return nil
}

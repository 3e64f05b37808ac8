package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-room-booking/adapters/inmemory"
	"github.com/next-trace/scg-room-booking/booking"
	"github.com/next-trace/scg-room-booking/booking/command"
	"github.com/next-trace/scg-room-booking/booking/events"
	"github.com/next-trace/scg-room-booking/booking/query"
	cbus "github.com/next-trace/scg-room-booking/contract/bus"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
	"github.com/next-trace/scg-room-booking/storage/memory"
)

func day(d int) time.Time {
	return time.Date(2020, time.February, d, 0, 0, 0, 0, time.UTC)
}

func stay(from, to int) booking.Period {
	return booking.Period{Arrival: day(from), Departure: day(to)}
}

func names(rooms []booking.Room) []string {
	out := make([]string, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Name)
	}

	return out
}

type system struct {
	cmd   *command.Handler
	query *query.Handler
	read  *memory.ReadStore
	bus   *inmemory.EventBus
}

func newSystem(t *testing.T) system {
	t.Helper()

	bus := inmemory.New(nil)
	read := memory.NewReadStore()
	catalog := booking.DefaultCatalog()

	q, err := query.New(t.Context(), read, catalog, bus, nil)
	require.NoError(t, err)

	return system{
		cmd:   command.New(memory.NewWriteStore(), catalog, bus, nil),
		query: q,
		read:  read,
		bus:   bus,
	}
}

func (s system) book(t *testing.T, room string, p booking.Period) {
	t.Helper()

	require.NoError(t, s.cmd.BookARoom(t.Context(), booking.Booking{ClientID: "client", Room: room, Period: p}))
}

func Test_FreeRooms_EmptyReadModelListsWholeCatalog(t *testing.T) {
	s := newSystem(t)

	free, err := s.query.FreeRooms(t.Context(), stay(5, 9))
	require.NoError(t, err)
	assert.Equal(t, []string{"Room 1", "Room 2", "Room 3"}, names(free))
}

func Test_FreeRooms_Scenario(t *testing.T) {
	s := newSystem(t)
	p := stay(5, 9)

	s.book(t, "Room 1", p)
	s.book(t, "Room 2", p)

	free, err := s.query.FreeRooms(t.Context(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"Room 3"}, names(free))

	s.book(t, "Room 3", p)

	free, err = s.query.FreeRooms(t.Context(), p)
	require.NoError(t, err)
	assert.Empty(t, free)
}

func Test_FreeRooms_BoundaryScenario(t *testing.T) {
	s := newSystem(t)

	s.book(t, "Room 1", stay(5, 9))

	free, err := s.query.FreeRooms(t.Context(), stay(9, 11))
	require.NoError(t, err)
	assert.Contains(t, names(free), "Room 1")

	s.book(t, "Room 1", stay(9, 11))

	free, err = s.query.FreeRooms(t.Context(), stay(9, 11))
	require.NoError(t, err)
	assert.NotContains(t, names(free), "Room 1")
}

func Test_Projection_RedeliveredEventIsIdempotent(t *testing.T) {
	s := newSystem(t)
	b := booking.New("client", "Room 1", stay(5, 9))

	msg, err := events.Encode(events.FromBooking(b))
	require.NoError(t, err)

	require.NoError(t, s.bus.Emit(t.Context(), events.RoomBookedName, msg))
	require.NoError(t, s.bus.Emit(t.Context(), events.RoomBookedName, msg))

	all, err := s.read.All(t.Context())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func Test_Projection_OnlyThroughEvents(t *testing.T) {
	bus := inmemory.New(nil)
	read := memory.NewReadStore()

	q, err := query.New(t.Context(), read, booking.DefaultCatalog(), bus, nil)
	require.NoError(t, err)

	// a command handler on another bus never reaches this read model
	other := command.New(memory.NewWriteStore(), booking.DefaultCatalog(), inmemory.New(nil), nil)
	require.NoError(t, other.BookARoom(t.Context(), booking.Booking{ClientID: "c", Room: "Room 1", Period: stay(5, 9)}))

	free, err := q.FreeRooms(t.Context(), stay(5, 9))
	require.NoError(t, err)
	assert.Len(t, free, 3)
}

func Test_FreeRooms_InvalidPeriod(t *testing.T) {
	s := newSystem(t)

	_, err := s.query.Handle(t.Context(), query.FreeRooms{Arrival: day(9), Departure: day(5)})
	assert.ErrorIs(t, err, berr.ErrInvalidPeriod)
}

type brokenRegistry struct{}

func (brokenRegistry) All(context.Context) ([]booking.Occupancy, error) {
	return nil, errors.New("db down")
}

func (brokenRegistry) Add(context.Context, booking.Occupancy) error { return errors.New("db down") }

func Test_Projection_FailureIsReturnedToTheBus(t *testing.T) {
	var got error

	sub := subscriberFunc(func(_ context.Context, _ string, h cbus.Handler) error {
		msg, err := events.Encode(events.FromBooking(booking.New("c", "Room 1", stay(5, 9))))
		require.NoError(t, err)

		got = h(t.Context(), msg)

		return nil
	})

	q, err := query.New(t.Context(), brokenRegistry{}, booking.DefaultCatalog(), sub, nil)
	require.NoError(t, err)
	assert.Error(t, got)

	_, err = q.FreeRooms(t.Context(), stay(5, 9))
	assert.Error(t, err)
}

func Test_New_SubscribeFailure(t *testing.T) {
	bus := inmemory.New(nil)
	require.NoError(t, bus.Close())

	_, err := query.New(t.Context(), memory.NewReadStore(), booking.DefaultCatalog(), bus, nil)
	assert.ErrorIs(t, err, berr.ErrBusClosed)
}

type subscriberFunc func(ctx context.Context, name string, h cbus.Handler) error

func (f subscriberFunc) On(ctx context.Context, name string, h cbus.Handler) error { return f(ctx, name, h) }

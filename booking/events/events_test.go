package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-room-booking/adapters/inmemory"
	"github.com/next-trace/scg-room-booking/booking"
	"github.com/next-trace/scg-room-booking/booking/events"
	cbus "github.com/next-trace/scg-room-booking/contract/bus"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

func sample(t *testing.T) booking.Booking {
	t.Helper()

	p, err := booking.NewPeriod(
		time.Date(2020, 2, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2020, 2, 9, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)

	return booking.New("client-1", "Room 1", p)
}

func Test_Encode_WireFormat(t *testing.T) {
	b := sample(t)

	msg, err := events.Encode(events.FromBooking(b))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"bookingId": "`+b.ID.String()+`",
		"clientId": "client-1",
		"roomName": "Room 1",
		"arrivalDate": "2020-02-05T00:00:00Z",
		"departureDate": "2020-02-09T00:00:00Z"
	}`, string(msg.Body))

	assert.NotEmpty(t, msg.ID())
	assert.Equal(t, events.RoomBookedName, msg.Headers[cbus.HeaderEventName])
	assert.Equal(t, "Room 1", msg.Headers[cbus.HeaderPartitionKey])
}

func Test_Decode_RoundTrip(t *testing.T) {
	b := sample(t)

	msg, err := events.Encode(events.FromBooking(b))
	require.NoError(t, err)

	e, err := events.Decode(msg)
	require.NoError(t, err)

	assert.Equal(t, b.Occupancy(), e.Occupancy())
	assert.Equal(t, b.ID.String(), e.BookingID)
}

func Test_Decode_RejectsInvalidPayloads(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		headers map[string]string
	}{
		{name: "not json", body: `{"roomName":`},
		{name: "missing booking id", body: `{"roomName":"Room 1","arrivalDate":"2020-02-05T00:00:00Z","departureDate":"2020-02-09T00:00:00Z"}`},
		{name: "missing room", body: `{"bookingId":"6f1c2a8e-0e59-4b55-a0a4-0b1b3b1b7b11","arrivalDate":"2020-02-05T00:00:00Z","departureDate":"2020-02-09T00:00:00Z"}`},
		{name: "inverted period", body: `{"bookingId":"6f1c2a8e-0e59-4b55-a0a4-0b1b3b1b7b11","roomName":"Room 1","arrivalDate":"2020-02-09T00:00:00Z","departureDate":"2020-02-05T00:00:00Z"}`},
		{
			name:    "other event name",
			body:    `{}`,
			headers: map[string]string{cbus.HeaderEventName: "RoomCancelled"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := events.Decode(cbus.Message{Body: []byte(tt.body), Headers: tt.headers})
			assert.ErrorIs(t, err, berr.ErrInvalidEvent)
		})
	}
}

func Test_EmitAndOn_OverTheBus(t *testing.T) {
	bus := inmemory.New(nil)
	b := sample(t)

	var got []events.RoomBooked

	require.NoError(t, events.On(t.Context(), bus, func(_ context.Context, e events.RoomBooked) error {
		got = append(got, e)
		return nil
	}))

	require.NoError(t, events.Emit(t.Context(), bus, b))

	require.Len(t, got, 1)
	assert.Equal(t, events.FromBooking(b), got[0])
}

func Test_On_InvalidMessageNeverReachesHandler(t *testing.T) {
	bus := inmemory.New(nil)
	called := false

	require.NoError(t, events.On(t.Context(), bus, func(context.Context, events.RoomBooked) error {
		called = true
		return nil
	}))

	require.NoError(t, bus.Emit(t.Context(), events.RoomBookedName, cbus.Message{Body: []byte(`{}`)}))

	assert.False(t, called)
}

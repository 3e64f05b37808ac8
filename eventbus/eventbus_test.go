package eventbus_test

import (
	"context"
	"errors"
	"testing"

	cbus "github.com/next-trace/scg-room-booking/contract/bus"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
	"github.com/next-trace/scg-room-booking/eventbus"
)

func TestNew_MemoryIsTheDefault(t *testing.T) {
	b, cleanup, err := eventbus.New(eventbus.Config{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer cleanup()

	got := ""
	_ = b.On(t.Context(), "RoomBooked", func(_ context.Context, m cbus.Message) error {
		got = string(m.Body)
		return nil
	})

	if err := b.Emit(t.Context(), "RoomBooked", cbus.Message{Body: []byte(`{"a":1}`)}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	if got != `{"a":1}` {
		t.Fatalf("got %q", got)
	}
}

func TestNew_BrokerTransportsRequireConnectionSettings(t *testing.T) {
	for _, tr := range []eventbus.Transport{eventbus.RabbitMQ, eventbus.NATS, eventbus.Kafka} {
		_, _, err := eventbus.New(eventbus.Config{Transport: tr}, nil)
		if !errors.Is(err, berr.ErrTransportNotConfigured) {
			t.Fatalf("%s: want ErrTransportNotConfigured, got %v", tr, err)
		}
	}
}

func TestNew_UnknownTransport(t *testing.T) {
	_, _, err := eventbus.New(eventbus.Config{Transport: "dapr"}, nil)
	if !errors.Is(err, berr.ErrUnknownTransport) {
		t.Fatalf("want ErrUnknownTransport, got %v", err)
	}
}

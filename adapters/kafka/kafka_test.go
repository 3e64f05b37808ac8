package kafka_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/next-trace/scg-room-booking/adapters/kafka"
	cbus "github.com/next-trace/scg-room-booking/contract/bus"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

const eventName = "RoomBooked"

type fakeWriter struct {
	mu    sync.Mutex
	calls []kafka.Record
	err   error
}

func (f *fakeWriter) Write(_ context.Context, rec kafka.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, rec)

	return f.err
}

type fakeReader struct {
	mu      sync.Mutex
	topics  []string
	batches chan []kafka.Record
	commits chan struct{}
}

func newFakeReader() *fakeReader {
	return &fakeReader{batches: make(chan []kafka.Record), commits: make(chan struct{}, 16)}
}

func (f *fakeReader) AddTopics(topics ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.topics = append(f.topics, topics...)
}

func (f *fakeReader) Poll(ctx context.Context) ([]kafka.Record, error) {
	select {
	case b := <-f.batches:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeReader) CommitPolled(context.Context) error {
	f.commits <- struct{}{}
	return nil
}

func (f *fakeReader) waitCommit(t *testing.T) {
	t.Helper()

	select {
	case <-f.commits:
	case <-time.After(2 * time.Second):
		t.Fatalf("batch was never committed")
	}
}

func record(topic string) kafka.Record {
	return kafka.Record{Topic: topic, Value: []byte(`{}`), Headers: map[string]string{cbus.HeaderEventID: "evt-1"}}
}

func TestKafka_EmitWritesToEventTopic(t *testing.T) {
	fw := &fakeWriter{}
	ad := kafka.New(fw, nil)

	msg := cbus.Message{
		Body:    []byte(`{"roomName":"Room 1"}`),
		Headers: map[string]string{cbus.HeaderEventID: "id-1", cbus.HeaderPartitionKey: "Room 1"},
	}
	if err := ad.Emit(t.Context(), eventName, msg); err != nil {
		t.Fatalf("emit: %v", err)
	}

	if len(fw.calls) != 1 {
		t.Fatalf("want 1 write, got %d", len(fw.calls))
	}

	c := fw.calls[0]
	if c.Topic != "booking.RoomBooked" || string(c.Key) != "Room 1" {
		t.Fatalf("topic=%q key=%q", c.Topic, c.Key)
	}

	if c.Headers[cbus.HeaderContentType] != "application/json" || c.Headers[cbus.HeaderEventID] != "id-1" {
		t.Fatalf("headers: %+v", c.Headers)
	}

	// without a partition key the event id is used
	_ = ad.Emit(t.Context(), eventName, cbus.Message{Body: []byte(`{}`), Headers: map[string]string{cbus.HeaderEventID: "id-2"}})

	if string(fw.calls[1].Key) != "id-2" {
		t.Fatalf("key=%q", fw.calls[1].Key)
	}
}

func TestKafka_TopicNames(t *testing.T) {
	ad := kafka.New(nil, nil, kafka.WithTopicPrefix("hotel."))

	if got := ad.Topic("Room Booked/v1"); got != "hotel.Room_Booked_v1" {
		t.Fatalf("topic=%q", got)
	}
}

func TestKafka_EmitErrors(t *testing.T) {
	if err := kafka.New(nil, nil).Emit(t.Context(), eventName, cbus.Message{Body: []byte(`{}`)}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("nil writer: %v", err)
	}

	ad := kafka.New(&fakeWriter{err: errors.New("leader not available")}, nil)
	if err := ad.Emit(t.Context(), eventName, cbus.Message{Body: []byte(`{}`)}); !errors.Is(err, berr.ErrPublishFailed) {
		t.Fatalf("want ErrPublishFailed, got %v", err)
	}

	if err := ad.Emit(t.Context(), eventName, cbus.Message{Body: []byte(`{`)}); !errors.Is(err, berr.ErrSerializationFailed) {
		t.Fatalf("want ErrSerializationFailed, got %v", err)
	}

	ad = kafka.New(&fakeWriter{err: context.Canceled}, nil)
	if err := ad.Emit(t.Context(), eventName, cbus.Message{Body: []byte(`{}`)}); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestKafka_FirstOnAddsTopicOnce(t *testing.T) {
	fr := newFakeReader()
	ad := kafka.New(nil, fr)
	t.Cleanup(func() { _ = ad.Close() })

	noop := func(context.Context, cbus.Message) error { return nil }
	_ = ad.On(t.Context(), eventName, noop)
	_ = ad.On(t.Context(), eventName, noop)
	_ = ad.On(t.Context(), "Other", noop)

	fr.mu.Lock()
	defer fr.mu.Unlock()

	if len(fr.topics) != 2 || fr.topics[0] != "booking.RoomBooked" || fr.topics[1] != "booking.Other" {
		t.Fatalf("topics: %v", fr.topics)
	}
}

func TestKafka_RetriesFailingDeliveryThenCommits(t *testing.T) {
	fr := newFakeReader()
	ad := kafka.New(nil, fr, kafka.WithRetry(time.Millisecond, 2*time.Millisecond))
	t.Cleanup(func() { _ = ad.Close() })

	var calls atomic.Int32

	_ = ad.On(t.Context(), eventName, func(context.Context, cbus.Message) error {
		if calls.Add(1) < 3 {
			return errors.New("db down")
		}

		return nil
	})

	fr.batches <- []kafka.Record{record("booking.RoomBooked")}
	fr.waitCommit(t)

	if calls.Load() != 3 {
		t.Fatalf("calls=%d want 3", calls.Load())
	}
}

func TestKafka_InvalidEventIsNotRetried(t *testing.T) {
	fr := newFakeReader()
	ad := kafka.New(nil, fr, kafka.WithRetry(time.Millisecond, 2*time.Millisecond))
	t.Cleanup(func() { _ = ad.Close() })

	var calls atomic.Int32

	_ = ad.On(t.Context(), eventName, func(context.Context, cbus.Message) error {
		calls.Add(1)
		return fmt.Errorf("decode: %w", berr.ErrInvalidEvent)
	})

	fr.batches <- []kafka.Record{record("booking.RoomBooked")}
	fr.waitCommit(t)

	if calls.Load() != 1 {
		t.Fatalf("calls=%d want 1", calls.Load())
	}
}

func waitCalls(t *testing.T, calls *atomic.Int32, n int32) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("calls=%d, want at least %d", calls.Load(), n)
		}

		time.Sleep(time.Millisecond)
	}
}

func TestKafka_FailingDeliveryIsRedeliveredUntilItSucceeds(t *testing.T) {
	fr := newFakeReader()
	ad := kafka.New(nil, fr, kafka.WithRetry(time.Millisecond, 2*time.Millisecond))
	t.Cleanup(func() { _ = ad.Close() })

	var (
		calls   atomic.Int32
		healthy atomic.Bool
	)

	_ = ad.On(t.Context(), eventName, func(context.Context, cbus.Message) error {
		calls.Add(1)

		if !healthy.Load() {
			return errors.New("read store down")
		}

		return nil
	})

	fr.batches <- []kafka.Record{record("booking.RoomBooked"), record("booking.Unknown")}

	waitCalls(t, &calls, 10)

	select {
	case <-fr.commits:
		t.Fatalf("offset committed while the record still fails")
	default:
	}

	healthy.Store(true)
	fr.waitCommit(t)

	if calls.Load() <= 10 {
		t.Fatalf("calls=%d, want a successful redelivery after 10 failures", calls.Load())
	}
}

func TestKafka_CloseDuringRedeliveryDoesNotCommit(t *testing.T) {
	fr := newFakeReader()
	ad := kafka.New(nil, fr, kafka.WithRetry(time.Millisecond, time.Millisecond))

	var calls atomic.Int32

	_ = ad.On(t.Context(), eventName, func(context.Context, cbus.Message) error {
		calls.Add(1)
		return errors.New("read store down")
	})

	fr.batches <- []kafka.Record{record("booking.RoomBooked")}

	waitCalls(t, &calls, 3)

	if err := ad.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case <-fr.commits:
		t.Fatalf("offset of an unhandled record was committed on close")
	default:
	}
}

func TestKafka_OnRacingCloseLeavesNoPollLoopRunning(t *testing.T) {
	noop := func(context.Context, cbus.Message) error { return nil }

	for range 50 {
		ad := kafka.New(nil, newFakeReader())

		var wg sync.WaitGroup

		errs := make(chan error, 1)

		wg.Add(2)

		go func() {
			defer wg.Done()
			errs <- ad.On(t.Context(), eventName, noop)
		}()

		go func() {
			defer wg.Done()
			_ = ad.Close()
		}()

		wg.Wait()

		if err := <-errs; err != nil && !errors.Is(err, berr.ErrBusClosed) {
			t.Fatalf("on during close: %v", err)
		}

		if err := ad.On(t.Context(), eventName, noop); !errors.Is(err, berr.ErrBusClosed) {
			t.Fatalf("after close: want ErrBusClosed, got %v", err)
		}
	}
}

func TestKafka_OnErrorsAndClose(t *testing.T) {
	noop := func(context.Context, cbus.Message) error { return nil }

	if err := kafka.New(nil, nil).On(t.Context(), eventName, noop); !errors.Is(err, berr.ErrSubscribeFailed) {
		t.Fatalf("nil reader: %v", err)
	}

	ad := kafka.New(&fakeWriter{}, newFakeReader())
	if err := ad.On(t.Context(), eventName, nil); !errors.Is(err, berr.ErrSubscribeFailed) {
		t.Fatalf("nil handler: %v", err)
	}

	_ = ad.On(t.Context(), eventName, noop)

	if err := ad.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := ad.Emit(t.Context(), eventName, cbus.Message{Body: []byte(`{}`)}); !errors.Is(err, berr.ErrBusClosed) {
		t.Fatalf("want ErrBusClosed, got %v", err)
	}
}

package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/next-trace/scg-room-booking/adapters/fanout"
	cbus "github.com/next-trace/scg-room-booking/contract/bus"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

const (
	defaultTopicPrefix   = "booking."
	defaultRetryInterval = 200 * time.Millisecond
	defaultRetryMax      = 30 * time.Second
	pollErrorPause       = time.Second
	contentTypeJSON      = "application/json"
)

type Record struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Writer is a minimal Kafka-like writer interface.
// Users can adapt segmentio/kafka-go or any other client to this.
type Writer interface {
	Write(ctx context.Context, rec Record) error
}

// Reader is a minimal consumer-group reader. Offsets are committed explicitly
// once every polled record was handled.
type Reader interface {
	AddTopics(topics ...string)
	// Poll blocks until records are available or ctx is done.
	Poll(ctx context.Context) ([]Record, error)
	CommitPolled(ctx context.Context) error
}

// Adapter implements cbus.EventBus on top of a Writer and a Reader.
//
// Kafka has no per-message negative acknowledgement, so a failing delivery is
// retried in place with capped exponential backoff until it succeeds or the
// adapter closes. The batch offsets are committed only after every record was
// handled. Records failing with ErrInvalidEvent are skipped. Handlers must
// tolerate being invoked more than once.
type Adapter struct {
	Writer     Writer
	Reader     Reader
	Propagator cbus.HeaderPropagator // optional

	topicPrefix   string
	retryInterval time.Duration
	retryMax      time.Duration
	logger        *slog.Logger
	handlers      *fanout.Registry

	subMu   sync.Mutex
	mu      sync.RWMutex
	closed  bool
	started bool
	topics  map[string]string // topic -> event name

	runCtx context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

var _ cbus.EventBus = (*Adapter)(nil)

type Option func(*Adapter)

func WithTopicPrefix(p string) Option {
	return func(a *Adapter) { a.topicPrefix = p }
}

// WithRetry sets the first and the largest pause between redeliveries of a failing record.
func WithRetry(interval, maxInterval time.Duration) Option {
	return func(a *Adapter) {
		if interval > 0 {
			a.retryInterval = interval
		}

		if maxInterval > 0 {
			a.retryMax = maxInterval
		}
	}
}

func WithPropagator(hp cbus.HeaderPropagator) Option {
	return func(a *Adapter) { a.Propagator = hp }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates a new Kafka adapter instance with the provided writer and reader.
func New(w Writer, r Reader, opts ...Option) *Adapter {
	ctx, stop := context.WithCancel(context.Background())

	a := &Adapter{
		Writer:        w,
		Reader:        r,
		topicPrefix:   defaultTopicPrefix,
		retryInterval: defaultRetryInterval,
		retryMax:      defaultRetryMax,
		logger:        slog.Default(),
		handlers:      fanout.NewRegistry(),
		topics:        map[string]string{},
		runCtx:        ctx,
		stop:          stop,
	}

	for _, o := range opts {
		o(a)
	}

	return a
}

// Topic returns the topic an event name is published to.
func (a *Adapter) Topic(eventName string) string {
	return a.topicPrefix + strings.Map(topicRune, eventName)
}

func (a *Adapter) Emit(ctx context.Context, eventName string, msg cbus.Message) error {
	if err := a.ready(ctx, a.Writer == nil, berr.ErrPublishFailed, "publish"); err != nil {
		return err
	}

	if !jsoniter.ConfigFastest.Valid(msg.Body) {
		return fmt.Errorf("kafka publish serialize: %w", berr.ErrSerializationFailed)
	}

	out := msg.Clone()
	out.Headers[cbus.HeaderContentType] = contentTypeJSON

	if a.Propagator != nil {
		a.Propagator.Inject(ctx, out.Headers)
	}

	key := out.Headers[cbus.HeaderPartitionKey]
	if key == "" {
		key = out.ID()
	}

	rec := Record{Topic: a.Topic(eventName), Key: []byte(key), Value: out.Body, Headers: out.Headers}
	if err := a.Writer.Write(ctx, rec); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("kafka publish write: %w", errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (a *Adapter) On(ctx context.Context, eventName string, h cbus.Handler) error {
	if err := a.ready(ctx, a.Reader == nil || h == nil, berr.ErrSubscribeFailed, "subscribe"); err != nil {
		return err
	}

	a.subMu.Lock()
	defer a.subMu.Unlock()

	if !a.handlers.Add(eventName, h) {
		return nil
	}

	topic := a.Topic(eventName)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.handlers.Remove(eventName)

		return fmt.Errorf("kafka subscribe: %w", berr.ErrBusClosed)
	}

	a.topics[topic] = eventName
	start := !a.started
	a.started = true

	if start {
		a.wg.Add(1)
	}
	a.mu.Unlock()

	a.Reader.AddTopics(topic)

	if start {
		go a.run()
	}

	a.logger.InfoContext(ctx, "subscribed to event", "event", eventName, "transport", "kafka", "topic", topic)

	return nil
}

// Close stops the poll loop and waits for the batch in flight. Offsets of an
// unfinished batch are not committed, so its records are delivered again.
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.stop()
	a.wg.Wait()

	return nil
}

func (a *Adapter) run() {
	defer a.wg.Done()

	for {
		recs, err := a.Reader.Poll(a.runCtx)
		if a.runCtx.Err() != nil {
			return
		}

		if err != nil {
			a.logger.Warn("kafka poll failed", "err", err, "records", len(recs))

			if len(recs) == 0 {
				a.pause(pollErrorPause)
				continue
			}
		}

		for _, rec := range recs {
			a.process(rec)

			if a.runCtx.Err() != nil {
				return
			}
		}

		if err := a.Reader.CommitPolled(a.runCtx); err != nil {
			a.logger.Error("kafka commit failed", "err", err)
		}
	}
}

func (a *Adapter) process(rec Record) {
	a.mu.RLock()
	eventName, ok := a.topics[rec.Topic]
	a.mu.RUnlock()

	if !ok {
		return
	}

	ctx := a.runCtx
	if a.Propagator != nil {
		ctx = a.Propagator.Extract(ctx, rec.Headers)
	}

	msg := cbus.Message{Body: rec.Value, Headers: rec.Headers}
	if msg.Headers == nil {
		msg.Headers = map[string]string{}
	}

	op := func() (struct{}, error) {
		err := a.handlers.Dispatch(ctx, eventName, msg)
		if fanout.Permanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}

		return struct{}{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.retryInterval
	bo.MaxInterval = a.retryMax

	notify := func(err error, next time.Duration) {
		a.logger.Warn("event handler failed, redelivering",
			"event", eventName, "event_id", msg.ID(), "topic", rec.Topic, "err", err, "retry_in", next)
	}

	_, err := backoff.Retry(a.runCtx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil && fanout.Permanent(err) {
		a.logger.Error("dropping undecodable message",
			"event", eventName, "event_id", msg.ID(), "topic", rec.Topic, "err", err)
	}
}

func (a *Adapter) pause(d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-a.runCtx.Done():
	case <-t.C:
	}
}

func (a *Adapter) ready(ctx context.Context, missing bool, base error, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()

	if closed {
		return fmt.Errorf("kafka %s: %w", label, berr.ErrBusClosed)
	}

	if missing {
		return fmt.Errorf("kafka %s: %w", label, base)
	}

	return nil
}

// topicRune keeps the characters Kafka accepts in topic names.
func topicRune(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
		return r
	default:
		return '_'
	}
}

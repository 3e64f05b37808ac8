package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/next-trace/scg-room-booking/adapters/fanout"
	cbus "github.com/next-trace/scg-room-booking/contract/bus"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

const (
	defaultExchange = "internal"
	contentTypeJSON = "application/json"

	defaultResubscribeInitial = time.Second
	defaultResubscribeMax     = 30 * time.Second
)

type PubMsg struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Headers    map[string]string
}

type Publisher interface {
	Publish(ctx context.Context, m PubMsg) error
}

// Delivery is one message pulled from a queue. Ack and Nack settle it with the broker.
type Delivery struct {
	Body    []byte
	Headers map[string]string
	Ack     func() error
	Nack    func(requeue bool) error
}

// Consumer declares the durable queue for an event name, binds it to the
// exchange with routingKey and streams its deliveries until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, exchange, queue, routingKey string) (<-chan Delivery, error)
}

type Adapter struct {
	Publisher  Publisher
	Consumer   Consumer
	Propagator cbus.HeaderPropagator // optional, for context propagation into headers

	exchange string
	logger   *slog.Logger
	handlers *fanout.Registry

	resubscribeInitial time.Duration
	resubscribeMax     time.Duration

	subMu  sync.Mutex
	mu     sync.RWMutex
	closed bool

	runCtx context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
}

var _ cbus.EventBus = (*Adapter)(nil)

// Option configures an Adapter.
type Option func(*Adapter)

// WithExchange overrides the exchange messages are published to and queues are bound to.
func WithExchange(name string) Option {
	return func(a *Adapter) {
		if name != "" {
			a.exchange = name
		}
	}
}

// WithPropagator configures a HeaderPropagator for context propagation.
func WithPropagator(hp cbus.HeaderPropagator) Option {
	return func(a *Adapter) { a.Propagator = hp }
}

// WithLogger sets the logger used by consumer loops.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithResubscribeBackoff bounds the exponential backoff between attempts to
// re-declare a queue whose delivery channel closed.
func WithResubscribeBackoff(initial, maxInterval time.Duration) Option {
	return func(a *Adapter) {
		if initial > 0 {
			a.resubscribeInitial = initial
		}

		if maxInterval > 0 {
			a.resubscribeMax = maxInterval
		}
	}
}

func New(p Publisher, c Consumer, opts ...Option) *Adapter {
	ctx, stop := context.WithCancel(context.Background())

	a := &Adapter{
		Publisher: p,
		Consumer:  c,
		exchange:  defaultExchange,
		logger:    slog.Default(),
		handlers:  fanout.NewRegistry(),
		runCtx:    ctx,
		stop:      stop,

		resubscribeInitial: defaultResubscribeInitial,
		resubscribeMax:     defaultResubscribeMax,
	}

	for _, o := range opts {
		o(a)
	}

	return a
}

func (a *Adapter) Emit(ctx context.Context, eventName string, msg cbus.Message) error {
	if err := a.ready(ctx, a.Publisher == nil, berr.ErrPublishFailed, "emit"); err != nil {
		return err
	}

	if !jsoniter.ConfigFastest.Valid(msg.Body) {
		return fmt.Errorf("rabbitmq emit %s: %w", eventName, berr.ErrSerializationFailed)
	}

	// copy headers to avoid mutating caller-provided map
	out := msg.Clone()
	out.Headers[cbus.HeaderContentType] = contentTypeJSON
	// Inject tracing context via configured propagator (keeps adapter decoupled)
	if a.Propagator != nil {
		a.Propagator.Inject(ctx, out.Headers)
	}

	pm := PubMsg{
		Exchange:   a.exchange,
		RoutingKey: eventName,
		Body:       out.Body,
		Headers:    out.Headers,
	}
	if err := a.Publisher.Publish(ctx, pm); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq emit %s publish: %w", eventName, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (a *Adapter) On(ctx context.Context, eventName string, h cbus.Handler) error {
	if err := a.ready(ctx, a.Consumer == nil || h == nil, berr.ErrSubscribeFailed, "on"); err != nil {
		return err
	}

	a.subMu.Lock()
	defer a.subMu.Unlock()

	if !a.handlers.Add(eventName, h) {
		return nil
	}

	if !a.track() {
		a.handlers.Remove(eventName)
		return fmt.Errorf("rabbitmq on %s: %w", eventName, berr.ErrBusClosed)
	}

	deliveries, err := a.Consumer.Consume(a.runCtx, a.exchange, eventName, eventName)
	if err != nil {
		a.wg.Done()
		a.handlers.Remove(eventName)

		return fmt.Errorf("rabbitmq on %s: %w", eventName, errors.Join(berr.ErrSubscribeFailed, err))
	}

	go a.consume(eventName, deliveries)

	a.logger.InfoContext(ctx, "subscribed to event",
		"event", eventName, "transport", "rabbitmq", "exchange", a.exchange)

	return nil
}

// track registers a consumer loop with the wait group unless Close already ran.
func (a *Adapter) track() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return false
	}

	a.wg.Add(1)

	return true
}

// Close stops the consumer loops and waits for in-flight deliveries.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.stop()
	a.wg.Wait()

	return nil
}

func (a *Adapter) consume(eventName string, deliveries <-chan Delivery) {
	defer a.wg.Done()

	for {
		select {
		case <-a.runCtx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				if a.runCtx.Err() != nil {
					return
				}

				a.logger.Warn("delivery channel closed, resubscribing", "event", eventName)

				next, err := a.resubscribe(eventName)
				if err != nil {
					return
				}

				deliveries = next

				continue
			}

			a.process(eventName, d)
		}
	}
}

// resubscribe re-declares the event queue until it succeeds or the adapter closes.
func (a *Adapter) resubscribe(eventName string) (<-chan Delivery, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.resubscribeInitial
	bo.MaxInterval = a.resubscribeMax

	op := func() (<-chan Delivery, error) {
		return a.Consumer.Consume(a.runCtx, a.exchange, eventName, eventName)
	}

	notify := func(err error, next time.Duration) {
		a.logger.Warn("resubscribe failed", "event", eventName, "err", err, "retry_in", next)
	}

	deliveries, err := backoff.Retry(a.runCtx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return nil, err
	}

	a.logger.Info("resubscribed to event", "event", eventName, "exchange", a.exchange)

	return deliveries, nil
}

func (a *Adapter) process(eventName string, d Delivery) {
	ctx := a.runCtx
	if a.Propagator != nil {
		ctx = a.Propagator.Extract(ctx, d.Headers)
	}

	msg := cbus.Message{Body: d.Body, Headers: d.Headers}
	if msg.Headers == nil {
		msg.Headers = map[string]string{}
	}

	err := a.handlers.Dispatch(ctx, eventName, msg)

	switch {
	case err == nil:
		if ackErr := d.Ack(); ackErr != nil {
			a.logger.Error("ack failed", "event", eventName, "event_id", msg.ID(), "err", ackErr)
		}
	case fanout.Permanent(err):
		a.logger.Error("dropping undecodable message", "event", eventName, "event_id", msg.ID(), "err", err)
		_ = d.Nack(false)
	default:
		a.logger.Warn("event handler failed, requeueing", "event", eventName, "event_id", msg.ID(), "err", err)
		_ = d.Nack(true)
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
		return fmt.Errorf("rabbitmq %s: %w", label, berr.ErrBusClosed)
	}

	if missing {
		return fmt.Errorf("rabbitmq %s: %w", label, base)
	}

	return nil
}

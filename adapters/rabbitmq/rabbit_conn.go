package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	cbus "github.com/next-trace/scg-room-booking/contract/bus"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

// Concrete AMQP connection-backed constructor, publisher wrapper with auto-reconnect and queue consumer.

const (
	defaultExchangeType = "direct"
	defaultPrefetch     = 8
	maxReconnectBackoff = 30 * time.Second
)

type Config struct {
	URL          string        `env:"URL"`
	ConnTimeout  time.Duration `env:"CONN_TIMEOUT" envDefault:"5s"`
	Exchange     string        `env:"EXCHANGE" envDefault:"internal"`
	ExchangeType string        `env:"EXCHANGE_TYPE" envDefault:"direct"`
	Prefetch     int           `env:"PREFETCH" envDefault:"8"`
	ReconnectMax time.Duration `env:"RECONNECT_MAX" envDefault:"30s"`
}

func (c Config) withDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = defaultExchange
	}

	if c.ExchangeType == "" {
		c.ExchangeType = defaultExchangeType
	}

	if c.Prefetch <= 0 {
		c.Prefetch = defaultPrefetch
	}

	if c.ReconnectMax <= 0 {
		c.ReconnectMax = maxReconnectBackoff
	}

	return c
}

func dial(cfg Config) (*amqp.Connection, error) {
	return amqp.DialConfig(cfg.URL, amqp.Config{
		Locale:     "en_US",
		Properties: amqp.Table{"product": "scg-room-booking"},
		Dial:       amqp.DefaultDial(cfg.ConnTimeout),
	})
}

func declareExchange(ch *amqp.Channel, cfg Config) error {
	return ch.ExchangeDeclare(cfg.Exchange, cfg.ExchangeType, true, false, false, false, nil)
}

type reconnectingPublisher struct {
	cfg    Config
	logger *slog.Logger

	// pubMu serializes publishes so deferred confirms map to their own message
	pubMu  sync.Mutex
	mu     sync.RWMutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed chan struct{}
	ready  chan struct{} // closed while a channel is ready
}

func newReconnectingPublisher(cfg Config, logger *slog.Logger) (*reconnectingPublisher, func()) {
	rp := &reconnectingPublisher{
		cfg:    cfg,
		logger: logger,
		closed: make(chan struct{}),
		ready:  make(chan struct{}),
	}
	go rp.run()

	return rp, rp.close
}

func (rp *reconnectingPublisher) Publish(ctx context.Context, m PubMsg) error {
	ch, err := rp.channel(ctx)
	if err != nil {
		return err
	}

	var h amqp.Table
	if len(m.Headers) > 0 {
		h = amqp.Table{}
		for k, v := range m.Headers {
			h[k] = v
		}
	}

	rp.pubMu.Lock()
	defer rp.pubMu.Unlock()

	conf, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		m.Exchange,
		m.RoutingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			Headers:      h,
			ContentType:  contentTypeJSON,
			MessageId:    m.Headers[cbus.HeaderEventID],
			Timestamp:    time.Now().UTC(),
			Body:         m.Body,
		},
	)
	if err != nil {
		return err
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return err
	}

	if !acked {
		return errors.New("broker nacked message")
	}

	return nil
}

// channel returns the current channel, waiting for a reconnect when there is none.
func (rp *reconnectingPublisher) channel(ctx context.Context) (*amqp.Channel, error) {
	for {
		rp.mu.RLock()
		ch, ready := rp.ch, rp.ready
		rp.mu.RUnlock()

		if ch != nil {
			return ch, nil
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-rp.closed:
			return nil, fmt.Errorf("%w: rabbitmq publisher closed", berr.ErrBusClosed)
		}
	}
}

func (rp *reconnectingPublisher) run() {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = rp.cfg.ReconnectMax

	connect := func() (*amqp.Connection, *amqp.Channel, error) {
		conn, err := dial(rp.cfg)
		if err != nil {
			return nil, nil, err
		}

		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, nil, err
		}

		if err := ch.Confirm(false); err != nil {
			_ = ch.Close()
			_ = conn.Close()

			return nil, nil, err
		}

		if err := declareExchange(ch, rp.cfg); err != nil {
			_ = ch.Close()
			_ = conn.Close()

			return nil, nil, err
		}

		return conn, ch, nil
	}

	for {
		select {
		case <-rp.closed:
			return
		default:
		}

		conn, ch, err := connect()
		if err != nil {
			sleep := bo.NextBackOff()
			rp.logger.Warn("rabbitmq connect failed", "err", err, "retry_in", sleep)

			t := time.NewTimer(sleep)
			select {
			case <-rp.closed:
				t.Stop()
				return
			case <-t.C:
			}

			continue
		}

		bo.Reset()

		rp.mu.Lock()
		rp.conn = conn
		rp.ch = ch
		close(rp.ready)
		rp.mu.Unlock()

		// Block on connection close notifications to trigger reconnect
		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-rp.closed:
			_ = ch.Close()
			_ = conn.Close()

			return
		case amqpErr := <-notify:
			rp.logger.Warn("rabbitmq connection lost, reconnecting", "err", amqpErr)

			rp.mu.Lock()
			rp.ch = nil
			rp.conn = nil
			rp.ready = make(chan struct{})
			rp.mu.Unlock()

			_ = ch.Close()
			_ = conn.Close()
		}
	}
}

func (rp *reconnectingPublisher) close() {
	rp.mu.Lock()
	defer rp.mu.Unlock()

	select {
	case <-rp.closed:
		// already closed
		return
	default:
		close(rp.closed)
	}

	if rp.ch != nil {
		_ = rp.ch.Close()
		rp.ch = nil
	}

	if rp.conn != nil {
		_ = rp.conn.Close()
		rp.conn = nil
	}
}

// amqpConsumer opens one channel per event queue on a dedicated connection,
// redialing it when the broker dropped it.
type amqpConsumer struct {
	cfg Config

	mu     sync.Mutex
	conn   *amqp.Connection
	closed bool
}

func (c *amqpConsumer) channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: rabbitmq consumer closed", berr.ErrBusClosed)
	}

	if c.conn == nil || c.conn.IsClosed() {
		conn, err := dial(c.cfg)
		if err != nil {
			return nil, err
		}

		c.conn = conn
	}

	return c.conn.Channel()
}

func (c *amqpConsumer) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *amqpConsumer) Consume(ctx context.Context, exchange, queue, routingKey string) (<-chan Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch, err := c.channel()
	if err != nil {
		return nil, err
	}

	fail := func(err error) (<-chan Delivery, error) {
		_ = ch.Close()
		return nil, err
	}

	cfg := c.cfg
	cfg.Exchange = exchange

	if err := declareExchange(ch, cfg); err != nil {
		return fail(err)
	}

	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		return fail(err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fail(err)
	}

	if err := ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		return fail(err)
	}

	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fail(err)
	}

	out := make(chan Delivery)

	go func() {
		defer close(out)
		defer func() { _ = ch.Close() }()

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}

				select {
				case out <- toDelivery(d):
				case <-ctx.Done():
					_ = d.Nack(false, true)
					return
				}
			}
		}
	}()

	return out, nil
}

func toDelivery(d amqp.Delivery) Delivery {
	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			headers[k] = s
			continue
		}

		headers[k] = fmt.Sprint(v)
	}

	return Delivery{
		Body:    d.Body,
		Headers: headers,
		Ack:     func() error { return d.Ack(false) },
		Nack:    func(requeue bool) error { return d.Nack(false, requeue) },
	}
}

// NewWithAMQPConn dials RabbitMQ with an auto-reconnecting publisher and a
// consumer connection, and returns the Adapter and a cleanup that closes both.
func NewWithAMQPConn(cfg Config, logger *slog.Logger, opts ...Option) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: rabbitmq url required", berr.ErrTransportNotConfigured)
	}

	if logger == nil {
		logger = slog.Default()
	}

	cfg = cfg.withDefaults()

	conn, err := dial(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq dial: %w", errors.Join(berr.ErrSubscribeFailed, err))
	}

	pub, closePub := newReconnectingPublisher(cfg, logger)
	consumer := &amqpConsumer{cfg: cfg, conn: conn}

	opts = append([]Option{
		WithExchange(cfg.Exchange),
		WithLogger(logger),
		WithResubscribeBackoff(defaultResubscribeInitial, cfg.ReconnectMax),
	}, opts...)
	ad := New(pub, consumer, opts...)

	cleanup := func() {
		_ = ad.Close()
		closePub()
		consumer.close()
	}

	return ad, cleanup, nil
}

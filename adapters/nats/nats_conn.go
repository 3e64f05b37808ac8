package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	cbus "github.com/next-trace/scg-room-booking/contract/bus"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

// Concrete JetStream connection-backed Client and constructor.

type Config struct {
	URL           string        `env:"URL"`
	Name          string        `env:"NAME" envDefault:"scg-room-booking"`
	ConnTimeout   time.Duration `env:"CONN_TIMEOUT" envDefault:"5s"`
	MaxReconnects int           `env:"MAX_RECONNECTS" envDefault:"-1"`
	Stream        string        `env:"STREAM" envDefault:"BOOKING_EVENTS"`
	SubjectPrefix string        `env:"SUBJECT_PREFIX" envDefault:"events."`
	Durable       string        `env:"DURABLE" envDefault:"booking"`
	AckWait       time.Duration `env:"ACK_WAIT" envDefault:"30s"`
}

type jsClient struct {
	js      nats.JetStreamContext
	ackWait time.Duration
}

func (c jsClient) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data

	for k, v := range headers {
		msg.Header.Set(k, v)
	}

	// lets the stream drop duplicates of a retried publish
	if id := headers[cbus.HeaderEventID]; id != "" {
		msg.Header.Set(nats.MsgIdHdr, id)
	}

	_, err := c.js.PublishMsg(msg, nats.Context(ctx))

	return err
}

func (c jsClient) Subscribe(subject, durable string, handle func(Msg)) error {
	opts := []nats.SubOpt{nats.Durable(durable), nats.ManualAck(), nats.AckExplicit()}
	if c.ackWait > 0 {
		opts = append(opts, nats.AckWait(c.ackWait))
	}

	_, err := c.js.Subscribe(subject, func(m *nats.Msg) { handle(toMsg(m)) }, opts...)

	return err
}

func toMsg(m *nats.Msg) Msg {
	headers := make(map[string]string, len(m.Header))
	for k := range m.Header {
		headers[k] = m.Header.Get(k)
	}

	return Msg{
		Data:    m.Data,
		Headers: headers,
		Ack:     func() error { return m.Ack() },
		Nak:     func() error { return m.Nak() },
		Term:    func() error { return m.Term() },
	}
}

func ensureStream(js nats.JetStreamContext, cfg Config) error {
	_, err := js.StreamInfo(cfg.Stream)
	if err == nil {
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ">"},
		Storage:  nats.FileStorage,
	})

	return err
}

// NewWithNATS connects to NATS, ensures the JetStream stream exists and
// returns an Adapter and a cleanup.
func NewWithNATS(cfg Config, logger *slog.Logger, opts ...Option) (*Adapter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("%w: nats url required", berr.ErrTransportNotConfigured)
	}

	if cfg.Stream == "" || cfg.SubjectPrefix == "" {
		return nil, nil, fmt.Errorf("%w: nats stream and subject prefix required", berr.ErrTransportNotConfigured)
	}

	if logger == nil {
		logger = slog.Default()
	}

	nopts := []nats.Option{}
	if cfg.Name != "" {
		nopts = append(nopts, nats.Name(cfg.Name))
	}

	if cfg.ConnTimeout > 0 {
		nopts = append(nopts, nats.Timeout(cfg.ConnTimeout))
	}

	if cfg.MaxReconnects != 0 {
		nopts = append(nopts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	nopts = append(nopts,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)

	nc, err := nats.Connect(cfg.URL, nopts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: nats connect: %w", berr.ErrSubscribeFailed, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("%w: jetstream: %w", berr.ErrSubscribeFailed, err)
	}

	if err := ensureStream(js, cfg); err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("%w: nats stream %s: %w", berr.ErrSubscribeFailed, cfg.Stream, err)
	}

	opts = append([]Option{WithSubjectPrefix(cfg.SubjectPrefix), WithDurable(cfg.Durable), WithLogger(logger)}, opts...)
	ad := New(jsClient{js: js, ackWait: cfg.AckWait}, opts...)

	cleanup := func() {
		_ = ad.Close()

		if nc != nil && !nc.IsClosed() {
			_ = nc.Drain() //nolint:errcheck // best-effort shutdown; cannot return error here
			nc.Close()
		}
	}

	return ad, cleanup, nil
}

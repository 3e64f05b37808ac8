// Package eventbus builds the configured event bus transport.
package eventbus

import (
	"fmt"
	"log/slog"

	"github.com/next-trace/scg-room-booking/adapters/inmemory"
	"github.com/next-trace/scg-room-booking/adapters/kafka"
	"github.com/next-trace/scg-room-booking/adapters/nats"
	"github.com/next-trace/scg-room-booking/adapters/otelprop"
	"github.com/next-trace/scg-room-booking/adapters/rabbitmq"
	cbus "github.com/next-trace/scg-room-booking/contract/bus"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

type Transport string

const (
	Memory   Transport = "memory"
	RabbitMQ Transport = "rabbitmq"
	NATS     Transport = "nats"
	Kafka    Transport = "kafka"
)

type Config struct {
	Transport        Transport       `env:"TRANSPORT" envDefault:"memory"`
	TracePropagation bool            `env:"TRACE_PROPAGATION" envDefault:"true"`
	RabbitMQ         rabbitmq.Config `envPrefix:"RABBITMQ_"`
	NATS             nats.Config     `envPrefix:"NATS_"`
	Kafka            kafka.Config    `envPrefix:"KAFKA_"`
}

// New connects the transport selected by cfg.Transport. The returned cleanup
// stops consumers and closes broker connections; call it once on shutdown.
func New(cfg Config, logger *slog.Logger) (cbus.EventBus, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var prop cbus.HeaderPropagator = cbus.NopHeaderPropagator{}
	if cfg.TracePropagation {
		prop = otelprop.New()
	}

	logger = logger.With("transport", string(cfg.Transport))

	switch cfg.Transport {
	case Memory, "":
		b := inmemory.New(logger)
		return b, func() { _ = b.Close() }, nil
	case RabbitMQ:
		return adapt(rabbitmq.NewWithAMQPConn(cfg.RabbitMQ, logger, rabbitmq.WithPropagator(prop)))
	case NATS:
		return adapt(nats.NewWithNATS(cfg.NATS, logger, nats.WithPropagator(prop)))
	case Kafka:
		return adapt(kafka.NewWithKgo(cfg.Kafka, logger, kafka.WithPropagator(prop)))
	default:
		return nil, nil, fmt.Errorf("eventbus %q: %w", cfg.Transport, berr.ErrUnknownTransport)
	}
}

func adapt[B cbus.EventBus](b B, cleanup func(), err error) (cbus.EventBus, func(), error) {
	if err != nil {
		return nil, nil, err
	}

	return b, cleanup, nil
}

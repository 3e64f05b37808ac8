package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

// Concrete franz-go based constructor, writer and group reader.

type Config struct {
	Brokers          []string      `env:"BROKERS" envSeparator:","`
	ClientID         string        `env:"CLIENT_ID" envDefault:"scg-room-booking"`
	Group            string        `env:"GROUP" envDefault:"booking"`
	TopicPrefix      string        `env:"TOPIC_PREFIX" envDefault:"booking."`
	TLS              bool          `env:"TLS"`
	RetryInterval    time.Duration `env:"RETRY_INTERVAL" envDefault:"200ms"`
	RetryMaxInterval time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"30s"`
}

type kgoClient struct{ cl *kgo.Client }

func (c kgoClient) Write(ctx context.Context, rec Record) error {
	r := &kgo.Record{Topic: rec.Topic, Key: rec.Key, Value: rec.Value}
	if len(rec.Headers) > 0 {
		r.Headers = make([]kgo.RecordHeader, 0, len(rec.Headers))
		for k, v := range rec.Headers {
			r.Headers = append(r.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
		}
	}

	return c.cl.ProduceSync(ctx, r).FirstErr()
}

func (c kgoClient) AddTopics(topics ...string) { c.cl.AddConsumeTopics(topics...) }

func (c kgoClient) Poll(ctx context.Context) ([]Record, error) {
	fetches := c.cl.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, fmt.Errorf("%w: kafka client closed", berr.ErrBusClosed)
	}

	var errs []error
	for _, fe := range fetches.Errors() {
		errs = append(errs, fmt.Errorf("topic %s partition %d: %w", fe.Topic, fe.Partition, fe.Err))
	}

	var out []Record

	fetches.EachRecord(func(r *kgo.Record) {
		h := make(map[string]string, len(r.Headers))
		for _, rh := range r.Headers {
			h[rh.Key] = string(rh.Value)
		}

		out = append(out, Record{Topic: r.Topic, Key: r.Key, Value: r.Value, Headers: h})
	})

	return out, errors.Join(errs...)
}

func (c kgoClient) CommitPolled(ctx context.Context) error {
	return c.cl.CommitUncommittedOffsets(ctx)
}

// NewWithKgo builds a franz-go client based Adapter. The returned cleanup should be called to close the client.
func NewWithKgo(cfg Config, logger *slog.Logger, opts ...Option) (*Adapter, func(), error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil, fmt.Errorf("%w: kafka brokers required", berr.ErrTransportNotConfigured)
	}

	if cfg.Group == "" {
		return nil, nil, fmt.Errorf("%w: kafka consumer group required", berr.ErrTransportNotConfigured)
	}

	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.DisableAutoCommit(),
		kgo.AllowAutoTopicCreation(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	}
	if cfg.ClientID != "" {
		kopts = append(kopts, kgo.ClientID(cfg.ClientID))
	}

	if cfg.TLS {
		kopts = append(kopts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}

	cl, err := kgo.NewClient(kopts...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: kafka client init: %w", berr.ErrSubscribeFailed, err)
	}

	opts = append([]Option{
		WithTopicPrefix(cfg.TopicPrefix),
		WithRetry(cfg.RetryInterval, cfg.RetryMaxInterval),
		WithLogger(logger),
	}, opts...)

	kc := kgoClient{cl: cl}
	ad := New(kc, kc, opts...)

	cleanup := func() {
		_ = ad.Close()
		cl.Close()
	}

	return ad, cleanup, nil
}

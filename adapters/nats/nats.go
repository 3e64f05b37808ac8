package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/next-trace/scg-room-booking/adapters/fanout"
	cbus "github.com/next-trace/scg-room-booking/contract/bus"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

const (
	defaultSubjectPrefix = "events."
	defaultDurable       = "booking"
	contentTypeJSON      = "application/json"
)

// Msg is one JetStream delivery. Ack confirms it, Nak asks for redelivery and
// Term stops redelivery for good.
type Msg struct {
	Data    []byte
	Headers map[string]string
	Ack     func() error
	Nak     func() error
	Term    func() error
}

// Client is a minimal JetStream-like interface decoupled from any concrete library.
// Users can provide a wrapper around their NATS connection to satisfy this.
type Client interface {
	// Publish publishes a message to a subject with optional headers and
	// returns once the stream stored it.
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
	// Subscribe binds a durable consumer to subject. handle is called for every
	// delivery and must settle it.
	Subscribe(subject, durable string, handle func(Msg)) error
}

// Adapter implements cbus.EventBus using an injected JetStream-like Client.
type Adapter struct {
	Client     Client
	Propagator cbus.HeaderPropagator // optional

	subjectPrefix string
	durable       string
	logger        *slog.Logger
	handlers      *fanout.Registry

	subMu    sync.Mutex
	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// Ensure Adapter implements the contract.
var _ cbus.EventBus = (*Adapter)(nil)

type Option func(*Adapter)

// WithSubjectPrefix sets the prefix prepended to event names to build subjects.
func WithSubjectPrefix(p string) Option {
	return func(a *Adapter) { a.subjectPrefix = p }
}

// WithDurable sets the durable consumer name prefix shared by every instance of the service.
func WithDurable(d string) Option {
	return func(a *Adapter) {
		if d != "" {
			a.durable = d
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

// New creates a new NATS adapter instance with the provided client.
func New(c Client, opts ...Option) *Adapter {
	a := &Adapter{
		Client:        c,
		subjectPrefix: defaultSubjectPrefix,
		durable:       defaultDurable,
		logger:        slog.Default(),
		handlers:      fanout.NewRegistry(),
	}

	for _, o := range opts {
		o(a)
	}

	return a
}

// Subject returns the subject an event name is published on.
func (a *Adapter) Subject(eventName string) string {
	return a.subjectPrefix + token(eventName)
}

func (a *Adapter) Emit(ctx context.Context, eventName string, msg cbus.Message) error {
	if err := a.ready(ctx, berr.ErrPublishFailed, "emit"); err != nil {
		return err
	}

	if !jsoniter.ConfigFastest.Valid(msg.Body) {
		return fmt.Errorf("nats emit %s: %w", eventName, berr.ErrSerializationFailed)
	}

	out := msg.Clone()
	out.Headers[cbus.HeaderContentType] = contentTypeJSON

	if a.Propagator != nil {
		a.Propagator.Inject(ctx, out.Headers)
	}

	if err := a.Client.Publish(ctx, a.Subject(eventName), out.Body, out.Headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats emit %s publish: %w", eventName, errors.Join(berr.ErrPublishFailed, err))
	}

	return nil
}

func (a *Adapter) On(ctx context.Context, eventName string, h cbus.Handler) error {
	if err := a.ready(ctx, berr.ErrSubscribeFailed, "on"); err != nil {
		return err
	}

	if h == nil {
		return fmt.Errorf("nats on %s: nil handler: %w", eventName, berr.ErrSubscribeFailed)
	}

	a.subMu.Lock()
	defer a.subMu.Unlock()

	if !a.handlers.Add(eventName, h) {
		return nil
	}

	subject := a.Subject(eventName)
	durable := a.durable + "_" + token(eventName)

	err := a.Client.Subscribe(subject, durable, func(m Msg) { a.handle(eventName, m) })
	if err != nil {
		a.handlers.Remove(eventName)
		return fmt.Errorf("nats on %s: %w", eventName, errors.Join(berr.ErrSubscribeFailed, err))
	}

	a.logger.InfoContext(ctx, "subscribed to event",
		"event", eventName, "transport", "nats", "subject", subject, "durable", durable)

	return nil
}

// Close stops handing deliveries to handlers and waits for the ones in flight.
// Deliveries arriving afterwards are Nak'ed for redelivery.
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	a.inflight.Wait()

	return nil
}

func (a *Adapter) handle(eventName string, m Msg) {
	a.mu.RLock()
	if a.closed {
		a.mu.RUnlock()
		_ = m.Nak()

		return
	}

	a.inflight.Add(1)
	a.mu.RUnlock()

	defer a.inflight.Done()

	ctx := context.Background()
	if a.Propagator != nil {
		ctx = a.Propagator.Extract(ctx, m.Headers)
	}

	msg := cbus.Message{Body: m.Data, Headers: m.Headers}
	if msg.Headers == nil {
		msg.Headers = map[string]string{}
	}

	err := a.handlers.Dispatch(ctx, eventName, msg)

	switch {
	case err == nil:
		if ackErr := m.Ack(); ackErr != nil {
			a.logger.Error("ack failed", "event", eventName, "event_id", msg.ID(), "err", ackErr)
		}
	case fanout.Permanent(err):
		a.logger.Error("terminating undecodable message", "event", eventName, "event_id", msg.ID(), "err", err)
		_ = m.Term()
	default:
		a.logger.Warn("event handler failed, redelivering", "event", eventName, "event_id", msg.ID(), "err", err)
		_ = m.Nak()
	}
}

func (a *Adapter) ready(ctx context.Context, base error, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()

	if closed {
		return fmt.Errorf("nats %s: %w", label, berr.ErrBusClosed)
	}

	if a.Client == nil {
		return fmt.Errorf("nats %s: %w", label, base)
	}

	return nil
}

// helpers

var tokenReplacer = strings.NewReplacer(" ", "_", ".", "_", "*", "_", ">", "_")

// token turns an event name into a single subject token usable in durable names too.
func token(eventName string) string {
	return tokenReplacer.Replace(eventName)
}

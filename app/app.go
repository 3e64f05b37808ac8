// Package app is the composition root: it binds the booking handlers to the
// mediator over the selected registries and event bus.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/next-trace/scg-room-booking/booking"
	"github.com/next-trace/scg-room-booking/booking/command"
	"github.com/next-trace/scg-room-booking/booking/query"
	"github.com/next-trace/scg-room-booking/config"
	cbus "github.com/next-trace/scg-room-booking/contract/bus"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
	"github.com/next-trace/scg-room-booking/eventbus"
	"github.com/next-trace/scg-room-booking/servicebus"
	memstore "github.com/next-trace/scg-room-booking/storage/memory"
	"github.com/next-trace/scg-room-booking/storage/postgres"
	"github.com/next-trace/scg-room-booking/storage/sqlite"
)

// Deps are the collaborators the booking handlers run on.
type Deps struct {
	Catalog booking.Catalog
	Write   command.WriteRegistry
	Read    query.ReadRegistry
	Events  cbus.EventBus
	Logger  *slog.Logger

	// CommandTimeout bounds each dispatched command; zero leaves it unbounded.
	CommandTimeout time.Duration
}

// App exposes the mediator the outer surfaces dispatch to, and the handlers
// behind it for direct use.
type App struct {
	Bus      *servicebus.Bus
	Commands *command.Handler
	Queries  *query.Handler
	Events   cbus.EventBus
	Catalog  booking.Catalog
}

// New subscribes the read side and binds both handlers to a fresh mediator.
func New(ctx context.Context, d Deps) (*App, error) {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	if d.Write == nil || d.Read == nil || d.Events == nil {
		return nil, fmt.Errorf("%w: write registry, read registry and event bus are required", berr.ErrStorageConfig)
	}

	qh, err := query.New(ctx, d.Read, d.Catalog, d.Events, d.Logger)
	if err != nil {
		return nil, err
	}

	ch := command.New(d.Write, d.Catalog, d.Events, d.Logger)

	opts := []servicebus.Option{servicebus.WithCommandLogging()}
	if d.CommandTimeout > 0 {
		opts = append(opts, servicebus.WithCommandMiddleware(servicebus.TimeoutMiddleware(d.CommandTimeout)))
	}

	sb := servicebus.New(d.Logger, opts...)
	if err := servicebus.BindCommand[command.BookRoom](sb, ch); err != nil {
		return nil, err
	}

	if err := servicebus.BindQuery[query.FreeRooms, []booking.Room](sb, qh); err != nil {
		return nil, err
	}

	return &App{Bus: sb, Commands: ch, Queries: qh, Events: d.Events, Catalog: d.Catalog}, nil
}

// Open builds the registries and the event bus selected by cfg and wires them.
// The returned cleanup closes the bus before the storage it projects into.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	write, read, closeStore, err := openStorage(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	cleanups = append(cleanups, closeStore)

	bus, closeBus, err := eventbus.New(cfg.EventBus, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	cleanups = append(cleanups, closeBus)

	a, err := New(ctx, Deps{
		Catalog: booking.NewCatalog(cfg.Rooms...),
		Write:   write,
		Read:    read,
		Events:  bus,
		Logger:  logger,

		CommandTimeout: cfg.CommandTimeout,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	logger.InfoContext(ctx, "booking service wired",
		"storage", string(cfg.Storage), "transport", string(cfg.EventBus.Transport), "rooms", len(a.Catalog.Rooms()))

	return a, cleanup, nil
}

func openStorage(ctx context.Context, cfg config.Config) (command.WriteRegistry, query.ReadRegistry, func(), error) {
	switch cfg.Storage {
	case config.StorageMemory, "":
		return memstore.NewWriteStore(), memstore.NewReadStore(), func() {}, nil
	case config.StoragePostgres:
		pool, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, nil, err
		}

		return postgres.NewWriteStore(pool), postgres.NewReadStore(pool), pool.Close, nil
	case config.StorageSQLite:
		db, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}

		return sqlite.NewWriteStore(db), sqlite.NewReadStore(db), func() { _ = db.Close() }, nil
	default:
		return nil, nil, nil, errors.Join(berr.ErrStorageConfig, fmt.Errorf("unknown storage %q", cfg.Storage))
	}
}

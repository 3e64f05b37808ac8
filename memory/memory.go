// Package memory wires the booking service entirely in process: in-memory
// registries and the in-memory event bus. Contents are lost on restart.
package memory

import (
	"context"
	"log/slog"

	"github.com/next-trace/scg-room-booking/adapters/inmemory"
	"github.com/next-trace/scg-room-booking/app"
	"github.com/next-trace/scg-room-booking/booking"
	memstore "github.com/next-trace/scg-room-booking/storage/memory"
)

// New constructs the service over catalog and returns it along with a cleanup
// function that closes the bus.
func New(ctx context.Context, catalog booking.Catalog, logger *slog.Logger) (*app.App, func(), error) {
	bus := inmemory.New(logger)

	a, err := app.New(ctx, app.Deps{
		Catalog: catalog,
		Write:   memstore.NewWriteStore(),
		Read:    memstore.NewReadStore(),
		Events:  bus,
		Logger:  logger,
	})
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}

	return a, func() { _ = bus.Close() }, nil
}

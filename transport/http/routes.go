// Package http exposes the booking service over REST.
package http

import (
	"context"
	"log/slog"
	"net/http"

	cbus "github.com/next-trace/scg-room-booking/contract/bus"
)

// Mediator dispatches commands and asks queries; *servicebus.Bus satisfies it.
type Mediator interface {
	Dispatch(ctx context.Context, cmd cbus.Command) error
	Ask(ctx context.Context, q cbus.Query) (any, error)
}

// NewHandler routes the booking endpoints and wraps them in the request
// logging and panic recovery middleware.
func NewHandler(m Mediator, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("POST /bookings", HandleBookRoom(m, logger))
	mux.Handle("GET /bookings", HandleFreeRooms(m, logger))
	mux.HandleFunc("GET /healthcheck", HealthHandler)
	mux.Handle("/", NotFoundHandler())

	return RequestLogger(Recoverer(mux, logger), logger)
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// NotFoundHandler returns a JSON 404 for unknown routes.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, nameNotFound, "Not found "+r.URL.Path)
	})
}

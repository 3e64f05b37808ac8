package http

import (
	"errors"
	"log/slog"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	nameValidation      = "ValidationError"
	nameRoomUnavailable = "RoomUnavailableError"
	nameNotFound        = "NotFoundError"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, name, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{Error: name, Message: msg})
	if err != nil {
		return
	}

	_, _ = w.Write(payload)
}

// writeDomainError maps application errors to their status. Anything not
// recognised is logged and answered with an empty 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, berr.ErrRoomUnavailable):
		writeError(w, http.StatusConflict, nameRoomUnavailable, err.Error())
	case errors.Is(err, berr.ErrInvalidPeriod), errors.Is(err, berr.ErrInvalidBooking):
		writeError(w, http.StatusBadRequest, nameValidation, err.Error())
	default:
		logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

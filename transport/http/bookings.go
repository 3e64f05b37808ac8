package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/next-trace/scg-room-booking/booking"
	"github.com/next-trace/scg-room-booking/booking/command"
	"github.com/next-trace/scg-room-booking/booking/query"
)

type bookRoomRequest struct {
	ClientID  string `json:"clientId"`
	Room      string `json:"room"`
	Arrival   string `json:"arrival"`
	Departure string `json:"departure"`
}

type freeRoomsResponse struct {
	Data []booking.Room `json:"data"`
}

// HandleBookRoom accepts a booking request and answers 201 with an empty body
// once the booking is committed.
func HandleBookRoom(m Mediator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bookRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, nameValidation, "invalid request body")
			return
		}

		arrival, departure, err := parsePeriod(req.Arrival, req.Departure)
		if err != nil {
			writeError(w, http.StatusBadRequest, nameValidation, err.Error())
			return
		}

		err = m.Dispatch(r.Context(), command.BookRoom{
			ClientID:  req.ClientID,
			Room:      req.Room,
			Arrival:   arrival,
			Departure: departure,
		})
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		w.WriteHeader(http.StatusCreated)
	}
}

// HandleFreeRooms lists the rooms free between the arrival and departure
// query parameters.
func HandleFreeRooms(m Mediator, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		arrival, departure, err := parsePeriod(q.Get("arrival"), q.Get("departure"))
		if err != nil {
			writeError(w, http.StatusBadRequest, nameValidation, err.Error())
			return
		}

		res, err := m.Ask(r.Context(), query.FreeRooms{Arrival: arrival, Departure: departure})
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		rooms, ok := res.([]booking.Room)
		if !ok {
			writeDomainError(w, r, logger, fmt.Errorf("unexpected free rooms result %T", res))
			return
		}

		if rooms == nil {
			rooms = []booking.Room{}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(freeRoomsResponse{Data: rooms})
	}
}

func parsePeriod(arrival, departure string) (time.Time, time.Time, error) {
	a, err := parseDate("arrival", arrival)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	d, err := parseDate("departure", departure)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	return a, d, nil
}

// parseDate accepts an ISO-8601 calendar date or an RFC 3339 timestamp.
func parseDate(field, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("%s is required", field)
	}

	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t.UTC(), nil
	}

	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a date (YYYY-MM-DD) or an RFC 3339 timestamp", field)
	}

	return t.UTC(), nil
}

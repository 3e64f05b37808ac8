// Package sqlite provides the write and read registries on an embedded SQLite
// database. Transactions start IMMEDIATE, so a room lock held by one writer
// blocks every other writer, across processes too, until it commits.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // registers the sqlite3 dialect
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/next-trace/scg-room-booking/booking"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

const (
	tableBookings    = "bookings"
	tableOccupancies = "room_occupancies"

	colID        = "id"
	colClientID  = "client_id"
	colRoomName  = "room_name"
	colArrival   = "arrival_date"
	colDeparture = "departure_date"
	colCreatedAt = "created_at"
)

var dialect = goqu.Dialect("sqlite3")

func toUnixNano(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnixNano(v int64) time.Time { return time.Unix(0, v).UTC() }

// Open opens the database at path and applies the embedded migrations.
func Open(ctx context.Context, path string) (*sqlx.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", berr.ErrStorageConfig)
	}

	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := applyMigrations(ctx, db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

type txKey struct{}

// querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type querier interface {
	sqlx.ExecerContext
	sqlx.QueryerContext
}

func conn(ctx context.Context, db *sqlx.DB) querier {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}

	return db
}

type bookingRow struct {
	ID        string `db:"id"`
	ClientID  string `db:"client_id"`
	RoomName  string `db:"room_name"`
	Arrival   int64  `db:"arrival_date"`
	Departure int64  `db:"departure_date"`
}

type occupancyRow struct {
	RoomName  string `db:"room_name"`
	Arrival   int64  `db:"arrival_date"`
	Departure int64  `db:"departure_date"`
}

type WriteStore struct {
	db *sqlx.DB
}

func NewWriteStore(db *sqlx.DB) *WriteStore {
	return &WriteStore{db: db}
}

// LockRoom runs fn inside an immediate transaction. SQLite has a single
// writer, so this serializes all rooms, not just room.
func (s *WriteStore) LockRoom(ctx context.Context, room string, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("lock room %s: %w", room, err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (s *WriteStore) RoomBookings(ctx context.Context, room string) ([]booking.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query, args, err := dialect.From(tableBookings).
		Select(colID, colClientID, colRoomName, colArrival, colDeparture).
		Where(goqu.Ex{colRoomName: room}).
		Order(goqu.I(colArrival).Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build room bookings query: %w", err)
	}

	var rows []bookingRow
	if err := sqlx.SelectContext(ctx, conn(ctx, s.db), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query room bookings: %w", err)
	}

	out := make([]booking.Booking, 0, len(rows))

	for _, r := range rows {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("parse booking id %q: %w", r.ID, err)
		}

		out = append(out, booking.Booking{
			ID:       id,
			ClientID: r.ClientID,
			Room:     r.RoomName,
			Period:   booking.Period{Arrival: fromUnixNano(r.Arrival), Departure: fromUnixNano(r.Departure)},
		})
	}

	return out, nil
}

func (s *WriteStore) Add(ctx context.Context, b booking.Booking) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	query, args, err := dialect.Insert(tableBookings).
		Rows(goqu.Record{
			colID:        b.ID.String(),
			colClientID:  b.ClientID,
			colRoomName:  b.Room,
			colArrival:   toUnixNano(b.Period.Arrival),
			colDeparture: toUnixNano(b.Period.Departure),
			colCreatedAt: toUnixNano(time.Now()),
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert booking: %w", err)
	}

	if _, err := conn(ctx, s.db).ExecContext(ctx, query, args...); err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %s %s", berr.ErrDuplicateBooking, b.Room, b.Period)
		}

		return fmt.Errorf("insert booking: %w", err)
	}

	return nil
}

type ReadStore struct {
	db *sqlx.DB
}

func NewReadStore(db *sqlx.DB) *ReadStore {
	return &ReadStore{db: db}
}

func (s *ReadStore) All(ctx context.Context) ([]booking.Occupancy, error) {
	query, args, err := dialect.From(tableOccupancies).
		Select(colRoomName, colArrival, colDeparture).
		Order(goqu.I(colRoomName).Asc(), goqu.I(colArrival).Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build occupancies query: %w", err)
	}

	var rows []occupancyRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query occupancies: %w", err)
	}

	out := make([]booking.Occupancy, 0, len(rows))
	for _, r := range rows {
		out = append(out, booking.Occupancy{
			Room:   r.RoomName,
			Period: booking.Period{Arrival: fromUnixNano(r.Arrival), Departure: fromUnixNano(r.Departure)},
		})
	}

	return out, nil
}

// Add inserts o unless it is already projected.
func (s *ReadStore) Add(ctx context.Context, o booking.Occupancy) error {
	query, args, err := dialect.Insert(tableOccupancies).
		Rows(goqu.Record{
			colRoomName:  o.Room,
			colArrival:   toUnixNano(o.Period.Arrival),
			colDeparture: toUnixNano(o.Period.Departure),
		}).
		OnConflict(goqu.DoNothing()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert occupancy: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert occupancy: %w", err)
	}

	return nil
}

func isConstraintViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}

	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// Package postgres provides the write and read registries on PostgreSQL.
// The write side locks a room with a transaction-scoped advisory lock so the
// availability check and the insert are serialized across processes.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // registers the postgres dialect
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/next-trace/scg-room-booking/booking"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
)

const (
	dialectPostgres = "postgres"

	tableBookings    = "bookings"
	tableOccupancies = "room_occupancies"

	colID        = "id"
	colClientID  = "client_id"
	colRoomName  = "room_name"
	colArrival   = "arrival_date"
	colDeparture = "departure_date"

	// roomLockNamespace is the first key of the two-key advisory lock form.
	roomLockNamespace = 4201
)

var dialect = goqu.Dialect(dialectPostgres)

// Open creates a pool for dsn, pings it and applies the migrations.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", berr.ErrStorageConfig)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

type WriteStore struct {
	pool *pgxpool.Pool
}

func NewWriteStore(pool *pgxpool.Pool) *WriteStore {
	return &WriteStore{pool: pool}
}

// LockRoom runs fn in a transaction holding an advisory lock on room. The
// registry calls fn makes with the given ctx join that transaction.
func (s *WriteStore) LockRoom(ctx context.Context, room string, fn func(ctx context.Context) error) error {
	return withTx(ctx, s.pool, func(ctx context.Context) error {
		if _, err := txFromContext(ctx).Exec(ctx,
			`SELECT pg_advisory_xact_lock($1, hashtext($2))`, roomLockNamespace, room); err != nil {
			return fmt.Errorf("lock room %s: %w", room, err)
		}

		return fn(ctx)
	})
}

func (s *WriteStore) RoomBookings(ctx context.Context, room string) ([]booking.Booking, error) {
	query, args, err := dialect.From(tableBookings).
		Select(colID, colClientID, colRoomName, colArrival, colDeparture).
		Where(goqu.Ex{colRoomName: room}).
		Order(goqu.I(colArrival).Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build room bookings query: %w", err)
	}

	rows, err := conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query room bookings: %w", err)
	}
	defer rows.Close()

	var out []booking.Booking

	for rows.Next() {
		var (
			id                 string
			b                  booking.Booking
			arrival, departure time.Time
		)

		if err := rows.Scan(&id, &b.ClientID, &b.Room, &arrival, &departure); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}

		if b.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse booking id %q: %w", id, err)
		}

		b.Period = booking.Period{Arrival: arrival.UTC(), Departure: departure.UTC()}
		out = append(out, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookings: %w", err)
	}

	return out, nil
}

func (s *WriteStore) Add(ctx context.Context, b booking.Booking) error {
	query, args, err := dialect.Insert(tableBookings).
		Rows(goqu.Record{
			colID:        b.ID.String(),
			colClientID:  b.ClientID,
			colRoomName:  b.Room,
			colArrival:   b.Period.Arrival.UTC(),
			colDeparture: b.Period.Departure.UTC(),
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert booking: %w", err)
	}

	if _, err := conn(ctx, s.pool).Exec(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s %s", berr.ErrDuplicateBooking, b.Room, b.Period)
		}

		return fmt.Errorf("insert booking: %w", err)
	}

	return nil
}

type ReadStore struct {
	pool *pgxpool.Pool
}

func NewReadStore(pool *pgxpool.Pool) *ReadStore {
	return &ReadStore{pool: pool}
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

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query occupancies: %w", err)
	}
	defer rows.Close()

	var out []booking.Occupancy

	for rows.Next() {
		var (
			o                  booking.Occupancy
			arrival, departure time.Time
		)

		if err := rows.Scan(&o.Room, &arrival, &departure); err != nil {
			return nil, fmt.Errorf("scan occupancy: %w", err)
		}

		o.Period = booking.Period{Arrival: arrival.UTC(), Departure: departure.UTC()}
		out = append(out, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate occupancies: %w", err)
	}

	return out, nil
}

// Add inserts o unless it is already projected.
func (s *ReadStore) Add(ctx context.Context, o booking.Occupancy) error {
	query, args, err := dialect.Insert(tableOccupancies).
		Rows(goqu.Record{
			colRoomName:  o.Room,
			colArrival:   o.Period.Arrival.UTC(),
			colDeparture: o.Period.Departure.UTC(),
		}).
		OnConflict(goqu.DoNothing()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert occupancy: %w", err)
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert occupancy: %w", err)
	}

	return nil
}

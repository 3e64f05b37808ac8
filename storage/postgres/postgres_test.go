package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-room-booking/booking"
	berr "github.com/next-trace/scg-room-booking/contract/errors"
	"github.com/next-trace/scg-room-booking/storage/postgres"
)

// newTestPool connects to POSTGRES_TEST_DSN and starts from empty tables.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set, skipping Postgres integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.Open(ctx, dsn)
	if err != nil {
		t.Skipf("skipping Postgres integration tests: %v", err)
	}

	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `TRUNCATE bookings, room_occupancies`)
	require.NoError(t, err)

	return pool
}

func period(t *testing.T, from, to string) booking.Period {
	t.Helper()

	p, err := booking.NewPeriod(mustDate(t, from), mustDate(t, to))
	require.NoError(t, err)

	return p
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()

	d, err := time.Parse(time.DateOnly, s)
	require.NoError(t, err)

	return d
}

func TestOpen_RequiresDSN(t *testing.T) {
	_, err := postgres.Open(t.Context(), "")
	assert.ErrorIs(t, err, berr.ErrStorageConfig)
}

func TestWriteStore_AddAndRoomBookings(t *testing.T) {
	pool := newTestPool(t)
	store := postgres.NewWriteStore(pool)

	b := booking.New("client-1", "Room 1", period(t, "2026-03-01", "2026-03-05"))
	require.NoError(t, store.Add(t.Context(), b))

	got, err := store.RoomBookings(t.Context(), "Room 1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)
	assert.Equal(t, "client-1", got[0].ClientID)
	assert.True(t, b.Period.Arrival.Equal(got[0].Period.Arrival))
	assert.Equal(t, time.UTC, got[0].Period.Arrival.Location())

	other, err := store.RoomBookings(t.Context(), "Room 2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestWriteStore_DuplicatePeriodRejected(t *testing.T) {
	pool := newTestPool(t)
	store := postgres.NewWriteStore(pool)
	p := period(t, "2026-03-01", "2026-03-05")

	require.NoError(t, store.Add(t.Context(), booking.New("a", "Room 1", p)))

	err := store.Add(t.Context(), booking.New("b", "Room 1", p))
	assert.ErrorIs(t, err, berr.ErrDuplicateBooking)
}

func TestWriteStore_LockRoomSerializesCheckAndInsert(t *testing.T) {
	pool := newTestPool(t)
	store := postgres.NewWriteStore(pool)

	// Overlapping but not identical periods: only the lock prevents a double booking.
	periods := []booking.Period{
		period(t, "2026-03-01", "2026-03-05"),
		period(t, "2026-03-02", "2026-03-06"),
		period(t, "2026-03-03", "2026-03-07"),
		period(t, "2026-03-04", "2026-03-08"),
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)

	for i, p := range periods {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := store.LockRoom(t.Context(), "Room 1", func(ctx context.Context) error {
				existing, err := store.RoomBookings(ctx, "Room 1")
				if err != nil {
					return err
				}

				for _, e := range existing {
					if e.Period.Overlaps(p) {
						return nil
					}
				}

				if err := store.Add(ctx, booking.New(uuid.NewString(), "Room 1", p)); err != nil {
					return err
				}

				mu.Lock()
				accepted++
				mu.Unlock()

				return nil
			})
			assert.NoError(t, err, "attempt %d", i)
		}()
	}

	wg.Wait()

	got, err := store.RoomBookings(t.Context(), "Room 1")
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)
	assert.Len(t, got, 1)
}

func TestWriteStore_LockRoomRollsBackOnError(t *testing.T) {
	pool := newTestPool(t)
	store := postgres.NewWriteStore(pool)

	err := store.LockRoom(t.Context(), "Room 1", func(ctx context.Context) error {
		if err := store.Add(ctx, booking.New("a", "Room 1", period(t, "2026-03-01", "2026-03-05"))); err != nil {
			return err
		}

		return berr.ErrRoomUnavailable
	})
	require.ErrorIs(t, err, berr.ErrRoomUnavailable)

	got, err := store.RoomBookings(t.Context(), "Room 1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadStore_AddIsIdempotent(t *testing.T) {
	pool := newTestPool(t)
	store := postgres.NewReadStore(pool)
	o := booking.Occupancy{Room: "Room 2", Period: period(t, "2026-03-01", "2026-03-05")}

	require.NoError(t, store.Add(t.Context(), o))
	require.NoError(t, store.Add(t.Context(), o))
	require.NoError(t, store.Add(t.Context(), booking.Occupancy{Room: "Room 1", Period: o.Period}))

	got, err := store.All(t.Context())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Room 1", got[0].Room)
	assert.Equal(t, o.Key(), got[1].Key())
}

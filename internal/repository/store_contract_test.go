package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/medimind-backend/internal/apperr"
	"github.com/septivank/medimind-backend/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDatabaseEnv names a disposable Postgres database for the pgx store tests
const testDatabaseEnv = "MEDIMIND_TEST_DATABASE_URL"

func TestStoreContract_Memory(t *testing.T) {
	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestStoreContract_Postgres(t *testing.T) {
	url := os.Getenv(testDatabaseEnv)
	if url == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, pool.Ping(ctx))
	require.NoError(t, db.Migrate(ctx, pool))

	runStoreContract(t, func(*testing.T) Store { return NewRepository(pool) })
}

// runStoreContract checks the behavior every Store implementation shares.
// Device ids and usernames are unique per run so a reused database is fine.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("events newest first", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		device := uniqueDevice()

		var ids []int64
		for i := 0; i < 3; i++ {
			diff := float64(i + 1)
			saved, err := store.InsertEvent(ctx, &db.Event{DeviceID: device, PillRemoved: true, WeightDiff: &diff})
			require.NoError(t, err)
			assert.NotZero(t, saved.ID)
			assert.False(t, saved.ReceivedAt.IsZero())
			ids = append(ids, saved.ID)
		}

		events, err := store.ListEventsByDevice(ctx, device, 2)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, ids[2], events[0].ID)
		assert.Equal(t, ids[1], events[1].ID)

		all, err := store.ListAllEvents(ctx, 1)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, ids[2], all[0].ID, "read-after-write across devices")

		diffs, err := store.RecentWeightDiffs(ctx, device, 10)
		require.NoError(t, err)
		assert.Equal(t, []float64{3, 2, 1}, diffs)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.InsertEvent(ctx, &db.Event{PillRemoved: true})
		assert.ErrorIs(t, err, apperr.ErrValidation)

		_, err = store.ListEventsByDevice(ctx, uniqueDevice(), 0)
		assert.ErrorIs(t, err, ErrInvalidLimit)

		_, err = store.ListAllEvents(ctx, -1)
		assert.ErrorIs(t, err, ErrInvalidLimit)
	})

	t.Run("stats", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		device := uniqueDevice()

		stats, err := store.Stats(ctx, device, time.Now())
		require.NoError(t, err)
		assert.Zero(t, stats.TotalEvents)
		assert.Nil(t, stats.LastEvent)

		var last *db.Event
		for i := 0; i < 2; i++ {
			last, err = store.InsertEvent(ctx, &db.Event{DeviceID: device, PillRemoved: true})
			require.NoError(t, err)
		}

		stats, err = store.Stats(ctx, device, time.Now())
		require.NoError(t, err)
		assert.EqualValues(t, 2, stats.TotalEvents)
		assert.EqualValues(t, 2, stats.TodayEvents)
		require.NotNil(t, stats.LastEvent)
		assert.Equal(t, last.ID, stats.LastEvent.ID)

		stats, err = store.Stats(ctx, device, time.Now().AddDate(0, 0, -2))
		require.NoError(t, err)
		assert.EqualValues(t, 2, stats.TotalEvents)
		assert.Zero(t, stats.TodayEvents)
	})

	t.Run("stats read one snapshot under concurrent inserts", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		device := uniqueDevice()

		var mu sync.Mutex
		var ids []int64
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 50; i++ {
				saved, err := store.InsertEvent(ctx, &db.Event{DeviceID: device, PillRemoved: true})
				if err != nil {
					return
				}
				mu.Lock()
				ids = append(ids, saved.ID)
				mu.Unlock()
			}
		}()

		var samples []db.DeviceStats
		for running := true; running; {
			select {
			case <-done:
				running = false
			default:
			}
			stats, err := store.Stats(ctx, device, time.Now())
			require.NoError(t, err)
			samples = append(samples, *stats)
		}

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, ids, 50)
		for _, s := range samples {
			if s.LastEvent == nil {
				assert.Zero(t, s.TotalEvents)
				continue
			}
			position := indexOf(ids, s.LastEvent.ID) + 1
			assert.EqualValues(t, position, s.TotalEvents, "count and last event come from the same snapshot")
		}
	})

	t.Run("alerts", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		device := uniqueDevice()

		_, err := store.InsertAlert(ctx, &db.Alert{DeviceID: device, Message: "first", Sent: true})
		require.NoError(t, err)
		_, err = store.InsertAlert(ctx, &db.Alert{DeviceID: device, Message: "second", Sent: true})
		require.NoError(t, err)

		alerts, err := store.ListAlertsByDevice(ctx, device, 10)
		require.NoError(t, err)
		require.Len(t, alerts, 2)
		assert.Equal(t, "second", alerts[0].Message)
		assert.True(t, alerts[0].Sent)
	})

	t.Run("principals", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		device := uniqueDevice()
		username := "user-" + uuid.NewString()

		created, err := store.CreatePrincipal(ctx, &db.Principal{
			Username:     username,
			Email:        username + "@example.com",
			PasswordHash: "hash",
			DeviceID:     &device,
		})
		require.NoError(t, err)
		assert.NotZero(t, created.ID)

		_, err = store.CreatePrincipal(ctx, &db.Principal{
			Username:     username,
			Email:        "other-" + username + "@example.com",
			PasswordHash: "hash",
		})
		assert.ErrorIs(t, err, apperr.ErrConflict, "duplicate username")

		_, err = store.CreatePrincipal(ctx, &db.Principal{
			Username:     "other-" + username,
			Email:        username + "@example.com",
			PasswordHash: "hash",
		})
		assert.ErrorIs(t, err, apperr.ErrConflict, "duplicate email")

		byName, err := store.GetPrincipalByUsername(ctx, username)
		require.NoError(t, err)
		assert.Equal(t, created.ID, byName.ID)

		byDevice, err := store.GetPrincipalByDeviceID(ctx, device)
		require.NoError(t, err)
		assert.Equal(t, created.ID, byDevice.ID)

		_, err = store.GetPrincipalByUsername(ctx, "missing-"+username)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func uniqueDevice() string {
	return "MEDIBOX-" + uuid.NewString()
}

func indexOf(ids []int64, id int64) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

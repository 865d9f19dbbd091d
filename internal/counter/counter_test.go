package counter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iconidentify/vidfetch/internal/config"
	"github.com/iconidentify/vidfetch/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "stats.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLite_IncrementInsertsThenUpdates(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	stats, err := store.Stats(ctx, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.DownloadsToday)
	assert.Equal(t, int64(0), stats.TotalDownloads)

	require.NoError(t, store.Increment(ctx, "2024-05-01"))
	require.NoError(t, store.Increment(ctx, "2024-05-01"))
	require.NoError(t, store.Increment(ctx, "2024-05-02"))

	stats, err = store.Stats(ctx, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-01", stats.Day)
	assert.Equal(t, int64(2), stats.DownloadsToday)
	assert.Equal(t, int64(3), stats.TotalDownloads)

	stats, err = store.Stats(ctx, "2024-05-02")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DownloadsToday)
}

func TestSQLite_ConcurrentFirstIncrementsNeverFail(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	const days, calls = 20, 16
	for d := 0; d < days; d++ {
		day := fmt.Sprintf("2024-07-%02d", d+1)

		var wg sync.WaitGroup
		errs := make(chan error, calls)
		for i := 0; i < calls; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- store.Increment(ctx, day)
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			require.NoError(t, err, "day %s", day)
		}

		stats, err := store.Stats(ctx, day)
		require.NoError(t, err)
		assert.Positive(t, stats.DownloadsToday)
		assert.LessOrEqual(t, stats.DownloadsToday, int64(calls))
	}
}

func TestSQLite_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.db")
	ctx := context.Background()

	first, err := OpenSQLite(ctx, path, testLogger())
	require.NoError(t, err)
	require.NoError(t, first.Increment(ctx, "2024-05-01"))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(ctx, path, testLogger())
	require.NoError(t, err)
	defer second.Close()

	stats, err := second.Stats(ctx, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DownloadsToday, "data should survive reopening")
}

func TestSQLite_Ping(t *testing.T) {
	store := newSQLiteStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, config.CounterConfig{Driver: config.CounterNone}, testLogger())
	require.NoError(t, err)
	assert.IsType(t, Noop{}, store)

	store, err = Open(ctx, config.CounterConfig{
		Driver:     config.CounterSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "c.db"),
	}, testLogger())
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &SQLStore{}, store)

	_, err = Open(ctx, config.CounterConfig{Driver: "supabase"}, testLogger())
	assert.ErrorIs(t, err, domain.ErrUnknownCounterDriver)
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var store Store = Noop{}

	assert.NoError(t, store.Increment(ctx, "2024-05-01"))
	stats, err := store.Stats(ctx, "2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, &domain.DailyStats{Day: "2024-05-01"}, stats)
	assert.NoError(t, store.Ping(ctx))
	assert.NoError(t, store.Close())
}

func TestRedisInt(t *testing.T) {
	n, err := redisInt(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	n, err = redisInt("17")
	require.NoError(t, err)
	assert.Equal(t, int64(17), n)

	_, err = redisInt("x")
	assert.Error(t, err)

	_, err = redisInt(3.5)
	assert.Error(t, err)
}

package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famloop/trackd/internal/queue"
	"github.com/famloop/trackd/internal/track"
)

// repoUnderTest runs the same contract tests against both implementations.
func repoUnderTest(t *testing.T, name string) queue.Repository {
	t.Helper()

	switch name {
	case "memory":
		return queue.NewMemoryRepository()
	case "sqlite":
		repo, err := queue.OpenSQLite(context.Background(), ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { repo.Close() })
		return repo
	default:
		t.Fatalf("unknown repository %q", name)
		return nil
	}
}

func testFix(lat, lon float64) track.Fix {
	return track.Fix{
		Lat:      lat,
		Lon:      lon,
		Accuracy: 12.5,
		Speed:    2.5,
		Time:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRepository_AppendAndGetUnsent(t *testing.T) {
	for _, impl := range []string{"memory", "sqlite"} {
		t.Run(impl, func(t *testing.T) {
			repo := repoUnderTest(t, impl)
			ctx := context.Background()

			battery := 80
			first := queue.NewRecord(testFix(52.3676, 4.9041), true, &battery)
			second := queue.NewRecord(testFix(52.3680, 4.9050), true, nil)

			require.NoError(t, repo.Append(ctx, first))
			require.NoError(t, repo.Append(ctx, second))

			got, err := repo.GetUnsent(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 2)

			// Enqueue order is preserved.
			assert.Equal(t, first.EventID, got[0].EventID)
			assert.Equal(t, second.EventID, got[1].EventID)

			assert.Equal(t, 52.3676, got[0].Lat)
			assert.Equal(t, 4.9041, got[0].Lon)
			assert.Equal(t, 9.0, got[0].SpeedKmh)
			assert.True(t, got[0].IsMoving)
			require.NotNil(t, got[0].BatteryLevel)
			assert.Equal(t, 80, *got[0].BatteryLevel)
			assert.Nil(t, got[1].BatteryLevel)
			assert.Equal(t, 0, got[0].RetryCount)
			assert.False(t, got[0].Sent)
		})
	}
}

func TestRepository_GetUnsentLimit(t *testing.T) {
	for _, impl := range []string{"memory", "sqlite"} {
		t.Run(impl, func(t *testing.T) {
			repo := repoUnderTest(t, impl)
			ctx := context.Background()

			for i := 0; i < 5; i++ {
				require.NoError(t, repo.Append(ctx, queue.NewRecord(testFix(52.0, 4.0), false, nil)))
			}

			got, err := repo.GetUnsent(ctx, 3)
			require.NoError(t, err)
			assert.Len(t, got, 3)
		})
	}
}

func TestRepository_MarkSentHidesRecords(t *testing.T) {
	for _, impl := range []string{"memory", "sqlite"} {
		t.Run(impl, func(t *testing.T) {
			repo := repoUnderTest(t, impl)
			ctx := context.Background()

			rec := queue.NewRecord(testFix(52.0, 4.0), false, nil)
			require.NoError(t, repo.Append(ctx, rec))
			require.NoError(t, repo.MarkSent(ctx, []string{rec.EventID}))

			got, err := repo.GetUnsent(ctx, 10)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestRepository_IncrementRetry(t *testing.T) {
	for _, impl := range []string{"memory", "sqlite"} {
		t.Run(impl, func(t *testing.T) {
			repo := repoUnderTest(t, impl)
			ctx := context.Background()

			rec := queue.NewRecord(testFix(52.0, 4.0), false, nil)
			require.NoError(t, repo.Append(ctx, rec))

			require.NoError(t, repo.IncrementRetry(ctx, []string{rec.EventID}))
			require.NoError(t, repo.IncrementRetry(ctx, []string{rec.EventID}))

			got, err := repo.GetUnsent(ctx, 10)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, 2, got[0].RetryCount)
		})
	}
}

func TestRepository_Cleanup(t *testing.T) {
	for _, impl := range []string{"memory", "sqlite"} {
		t.Run(impl, func(t *testing.T) {
			repo := repoUnderTest(t, impl)
			ctx := context.Background()

			keep := queue.NewRecord(testFix(52.0, 4.0), false, nil)
			drop := queue.NewRecord(testFix(52.1, 4.1), false, nil)
			require.NoError(t, repo.Append(ctx, keep))
			require.NoError(t, repo.Append(ctx, drop))
			require.NoError(t, repo.MarkSent(ctx, []string{drop.EventID}))

			removed, err := repo.Cleanup(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			stats, err := repo.Stats(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, stats.Pending)
			assert.Equal(t, keep.Time.UnixMilli(), stats.Oldest.UnixMilli())
		})
	}
}

func TestRepository_StatsEmpty(t *testing.T) {
	for _, impl := range []string{"memory", "sqlite"} {
		t.Run(impl, func(t *testing.T) {
			repo := repoUnderTest(t, impl)

			stats, err := repo.Stats(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 0, stats.Pending)
			assert.True(t, stats.Oldest.IsZero())
		})
	}
}

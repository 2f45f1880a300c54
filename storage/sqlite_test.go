package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carscout/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRunRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)
	run := &models.ScrapeRun{
		RunKey:       "run-abc",
		Source:       models.SourceKsl,
		StartedAt:    started,
		Status:       models.RunStatusRunning,
		MarketsTotal: 3,
	}

	id, err := store.StartRun(ctx, run)
	require.NoError(t, err)
	require.NotZero(t, id)
	run.ID = id

	got, err := store.GetRun(ctx, "run-abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RunStatusRunning, got.Status)
	assert.Equal(t, 3, got.MarketsTotal)
	assert.Nil(t, got.FinishedAt)

	finished := started.Add(20 * time.Minute)
	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	run.MarketsFailed = 1
	run.VehiclesValid = 41
	run.ErrorsCount = 1
	require.NoError(t, store.FinishRun(ctx, run))

	got, err = store.GetRun(ctx, "run-abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, 41, got.VehiclesValid)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(finished))
}

func TestGetRunUnknownKey(t *testing.T) {
	store := newTestStore(t)

	got, err := store.GetRun(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecentRunsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := store.StartRun(ctx, &models.ScrapeRun{
			RunKey:    "run-" + string(rune('a'+i)),
			Source:    models.SourceFacebook,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			Status:    models.RunStatusCompleted,
		})
		require.NoError(t, err)
	}
	_, err := store.StartRun(ctx, &models.ScrapeRun{
		RunKey: "other-source", Source: models.SourceKsl,
		StartedAt: base.Add(10 * time.Hour), Status: models.RunStatusCompleted,
	})
	require.NoError(t, err)

	runs, err := store.RecentRuns(ctx, models.SourceFacebook, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].RunKey)
	assert.Equal(t, "run-b", runs[1].RunKey)
}

func TestRunLogs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.StartRun(ctx, &models.ScrapeRun{
		RunKey: "run-logs", Source: models.SourceKsl,
		StartedAt: time.Now(), Status: models.RunStatusRunning,
	})
	require.NoError(t, err)

	err = store.Log(ctx, &models.RunLog{
		RunID:   &id,
		Level:   models.LogLevelError,
		Message: "market 7: search request failed",
		Source:  models.SourceKsl,
	})
	assert.NoError(t, err)
}

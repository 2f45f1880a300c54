package scraper

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carscout/models"
)

func testJob(source string, markets ...models.Market) *models.JobPayload {
	return &models.JobPayload{
		ID:      11,
		Type:    models.JobTypeScraper,
		Source:  source,
		Markets: markets,
	}
}

type recordedRuns struct {
	started  []models.ScrapeRun
	finished []models.ScrapeRun
	logs     []models.RunLog
}

func (r *recordedRuns) StartRun(ctx context.Context, run *models.ScrapeRun) (int64, error) {
	r.started = append(r.started, *run)
	return 42, nil
}

func (r *recordedRuns) FinishRun(ctx context.Context, run *models.ScrapeRun) error {
	r.finished = append(r.finished, *run)
	return nil
}

func (r *recordedRuns) Log(ctx context.Context, log *models.RunLog) error {
	r.logs = append(r.logs, *log)
	return nil
}

func TestOrchestratorCredentialFailureSkipsRemainingMarkets(t *testing.T) {
	var built int
	Register("test-cred", func(deps Deps, cfg Config, logger *zap.Logger) SourceAdapter {
		built++
		return &fakeAdapter{openErr: CredentialError("account locked")}
	})

	m1 := *testMarket()
	m2 := *testMarket()
	m2.ID = 8
	job := testJob("test-cred", m1, m2)

	cfg := DefaultConfig()
	cfg.Pace = Pacer{}
	orch := NewOrchestrator(Deps{}, cfg, nil, zap.NewNop())

	results, err := orch.Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].ExecutionMessage, "credential failure in an earlier market")
	// The second market never touched the source.
	assert.Equal(t, 1, built)
}

func TestOrchestratorInvalidMarketFailsThatMarketOnly(t *testing.T) {
	Register("test-valid", func(deps Deps, cfg Config, logger *zap.Logger) SourceAdapter {
		return &fakeAdapter{
			pages: []*Page{{Candidates: []string{"a"}}},
			extract: func(candidate string) (*models.ScrapedVehicle, error) {
				return acceptable(candidate, ""), nil
			},
		}
	})

	bad := *testMarket()
	bad.ZipCode = ""
	good := *testMarket()
	good.ID = 9
	job := testJob("test-valid", bad, good)

	cfg := DefaultConfig()
	cfg.Pace = Pacer{}
	orch := NewOrchestrator(Deps{}, cfg, nil, zap.NewNop())

	results, err := orch.Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].ExecutionMessage, "invalid market")
	assert.True(t, results[1].Success)
	assert.Equal(t, 1, results[1].ValidVehicles)
}

func TestOrchestratorUploadsResults(t *testing.T) {
	Register("test-upload", func(deps Deps, cfg Config, logger *zap.Logger) SourceAdapter {
		return &fakeAdapter{
			pages: []*Page{{Candidates: []string{"a"}}},
			extract: func(candidate string) (*models.ScrapedVehicle, error) {
				return acceptable(candidate, ""), nil
			},
		}
	})

	store := &fakeObjectStore{}
	job := testJob("test-upload", *testMarket())

	cfg := DefaultConfig()
	cfg.Pace = Pacer{}
	orch := NewOrchestrator(Deps{}, cfg, store, zap.NewNop())

	results, err := orch.Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].Success)
	require.NotEmpty(t, results[0].ResultsLink)
	assert.True(t, strings.HasPrefix(results[0].ResultsLink, "results-scraper-test-upload-11-market-7-"))
	assert.Contains(t, store.stored, results[0].ResultsLink)
}

type publicLinkStore struct {
	fakeObjectStore
}

func (s *publicLinkStore) PublicURL(key string) string {
	return "https://cdn.example.org/" + key
}

func TestOrchestratorLinksUploadedResultsPublicly(t *testing.T) {
	Register("test-public", func(deps Deps, cfg Config, logger *zap.Logger) SourceAdapter {
		return &fakeAdapter{
			pages: []*Page{{Candidates: []string{"a"}}},
			extract: func(candidate string) (*models.ScrapedVehicle, error) {
				return acceptable(candidate, ""), nil
			},
		}
	})

	store := &publicLinkStore{}
	job := testJob("test-public", *testMarket())

	cfg := DefaultConfig()
	cfg.Pace = Pacer{}
	orch := NewOrchestrator(Deps{}, cfg, store, zap.NewNop())

	results, err := orch.Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, strings.HasPrefix(results[0].ResultsLink,
		"https://cdn.example.org/results-scraper-test-public-11-market-7-"))
	// The blob itself lives under the bare key.
	require.Len(t, store.stored, 1)
	for key := range store.stored {
		assert.False(t, strings.HasPrefix(key, "https://"))
	}
}

func TestOrchestratorUploadFailureDowngradesRow(t *testing.T) {
	Register("test-upload-fail", func(deps Deps, cfg Config, logger *zap.Logger) SourceAdapter {
		return &fakeAdapter{
			pages: []*Page{{Candidates: []string{"a"}}},
			extract: func(candidate string) (*models.ScrapedVehicle, error) {
				return acceptable(candidate, ""), nil
			},
		}
	})

	store := &fakeObjectStore{storeErr: assert.AnError}
	job := testJob("test-upload-fail", *testMarket())

	cfg := DefaultConfig()
	cfg.Pace = Pacer{}
	orch := NewOrchestrator(Deps{}, cfg, store, zap.NewNop())

	results, err := orch.Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.False(t, results[0].Success)
	assert.Equal(t, models.ExecutionStatusError, results[0].ExecutionStatus)
	assert.Contains(t, results[0].ExecutionMessage, "results upload failed")
	assert.Empty(t, results[0].ResultsLink)
}

func TestOrchestratorRecordsRunBookkeeping(t *testing.T) {
	Register("test-runs", func(deps Deps, cfg Config, logger *zap.Logger) SourceAdapter {
		return &fakeAdapter{openErr: Permanent(assert.AnError)}
	})

	runs := &recordedRuns{}
	job := testJob("test-runs", *testMarket())

	cfg := DefaultConfig()
	cfg.Pace = Pacer{}
	orch := NewOrchestrator(Deps{}, cfg, nil, zap.NewNop()).WithRunRecorder(runs)

	_, err := orch.Run(context.Background(), job)
	require.NoError(t, err)

	require.Len(t, runs.started, 1)
	assert.Equal(t, models.RunStatusRunning, runs.started[0].Status)
	require.Len(t, runs.finished, 1)
	assert.Equal(t, models.RunStatusFailed, runs.finished[0].Status)
	assert.Equal(t, 1, runs.finished[0].MarketsFailed)
	require.NotEmpty(t, runs.logs)
	assert.Equal(t, models.LogLevelError, runs.logs[0].Level)
}

func TestUnknownSource(t *testing.T) {
	_, err := NewAdapter("does-not-exist", Deps{}, DefaultConfig(), zap.NewNop())
	require.Error(t, err)
}

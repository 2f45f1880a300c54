package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carscout/models"
)

// RunRecorder persists local run bookkeeping. Optional; a nil recorder
// disables it.
type RunRecorder interface {
	StartRun(ctx context.Context, run *models.ScrapeRun) (int64, error)
	FinishRun(ctx context.Context, run *models.ScrapeRun) error
	Log(ctx context.Context, log *models.RunLog) error
}

// ResultRecorder persists finished execution rows. Optional.
type ResultRecorder interface {
	SaveResults(ctx context.Context, runKey string, results []models.ExecutionResult) error
}

// ResultArchiver writes a market's result set to local disk. Optional.
type ResultArchiver interface {
	Archive(script string, marketID int, results models.ScraperResults) error
}

// PublicLinker turns a stored object key into a browsable URL. Stores
// that implement it get full links in ResultsLink instead of bare keys.
type PublicLinker interface {
	PublicURL(key string) string
}

// Orchestrator runs one job: the configured source against each market in
// order, assembling one ExecutionResult per market. Markets run strictly
// sequentially; a credential failure in any market short-circuits the
// rest, since they would all fail against the same account pool.
type Orchestrator struct {
	deps    Deps
	cfg     Config
	store   ObjectStore
	runs    RunRecorder
	results ResultRecorder
	archive ResultArchiver
	logger  *zap.Logger
	now     func() time.Time

	newLoop func(adapter SourceAdapter) *Loop
}

func NewOrchestrator(deps Deps, cfg Config, store ObjectStore, logger *zap.Logger) *Orchestrator {
	o := &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	o.newLoop = func(adapter SourceAdapter) *Loop {
		return NewLoop(adapter, cfg, logger)
	}
	return o
}

// WithRunRecorder attaches local run bookkeeping.
func (o *Orchestrator) WithRunRecorder(r RunRecorder) *Orchestrator {
	o.runs = r
	return o
}

// WithResultRecorder attaches durable result persistence.
func (o *Orchestrator) WithResultRecorder(r ResultRecorder) *Orchestrator {
	o.results = r
	return o
}

// WithArchiver attaches a local on-disk copy of each market's results.
func (o *Orchestrator) WithArchiver(a ResultArchiver) *Orchestrator {
	o.archive = a
	return o
}

// Run executes the job and returns one result row per market, in market
// order. It never returns early: every market gets a row even when the
// cross-market breaker trips.
func (o *Orchestrator) Run(ctx context.Context, job *models.JobPayload) ([]models.ExecutionResult, error) {
	runKey := uuid.NewString()
	logger := o.logger.With(
		zap.String("runKey", runKey),
		zap.String("source", job.Source),
		zap.Int("execution", job.ID),
	)
	logger.Info("starting job", zap.Int("markets", len(job.Markets)))

	run := &models.ScrapeRun{
		RunKey:       runKey,
		Source:       job.Source,
		StartedAt:    o.now(),
		Status:       models.RunStatusRunning,
		MarketsTotal: len(job.Markets),
	}
	o.startRun(ctx, run, logger)

	results := make([]models.ExecutionResult, 0, len(job.Markets))
	skipRemaining := false

	for i := range job.Markets {
		market := &job.Markets[i]
		mlogger := logger.With(zap.Int("market", market.ID))

		if skipRemaining {
			mlogger.Warn("market skipped, account pool is locked out")
			results = append(results, o.buildResult(job, market,
				models.ErrorResults(fmt.Errorf("skipped: credential failure in an earlier market")), o.now(), o.now()))
			continue
		}

		started := o.now()
		sr, err := o.runMarket(ctx, job.Source, market, mlogger)
		ended := o.now()

		if err != nil && IsCredentialError(err) {
			mlogger.Error("credential failure, skipping remaining markets", zap.Error(err))
			skipRemaining = true
		}

		result := o.buildResult(job, market, sr, started, ended)
		if sr.Success {
			if o.archive != nil {
				if aerr := o.archive.Archive(result.Script, market.ID, sr); aerr != nil {
					mlogger.Warn("local results archive failed", zap.Error(aerr))
				}
			}
			o.uploadResults(ctx, &result, sr, mlogger)
			run.VehiclesValid += sr.ValidVehicles
		} else {
			run.MarketsFailed++
			run.ErrorsCount++
			o.logRun(ctx, run, models.LogLevelError, sr.ExecutionMessage, job.Source)
		}
		results = append(results, result)
	}

	finished := o.now()
	run.FinishedAt = &finished
	run.Status = models.RunStatusCompleted
	if run.MarketsFailed == run.MarketsTotal && run.MarketsTotal > 0 {
		run.Status = models.RunStatusFailed
	}
	o.finishRun(ctx, run, logger)

	if o.results != nil {
		if err := o.results.SaveResults(ctx, runKey, results); err != nil {
			logger.Error("persisting execution results failed", zap.Error(err))
		}
	}

	logger.Info("job finished",
		zap.Int("marketsFailed", run.MarketsFailed),
		zap.Int("vehiclesValid", run.VehiclesValid),
	)
	return results, nil
}

// runMarket validates the market and drives one loop run against a fresh
// adapter instance. Validation failures are config errors scoped to this
// market.
func (o *Orchestrator) runMarket(ctx context.Context, source string, market *models.Market, logger *zap.Logger) (models.ScraperResults, error) {
	if err := models.ValidateMarket(market); err != nil {
		cerr := ConfigError("invalid market: %v", err)
		logger.Error("market validation failed", zap.Error(cerr))
		return models.ErrorResults(cerr), cerr
	}

	adapter, err := NewAdapter(source, o.deps, o.cfg, o.logger)
	if err != nil {
		logger.Error("adapter construction failed", zap.Error(err))
		return models.ErrorResults(err), err
	}

	return o.newLoop(adapter).Run(ctx, market)
}

func (o *Orchestrator) buildResult(job *models.JobPayload, market *models.Market, sr models.ScraperResults, started, ended time.Time) models.ExecutionResult {
	return models.ExecutionResult{
		ExecutionID:      job.ID,
		MarketID:         market.ID,
		Script:           job.Script(),
		Success:          sr.Success,
		StartedAt:        started,
		EndedAt:          ended,
		ExecutionStatus:  sr.ExecutionStatus,
		ExecutionMessage: sr.ExecutionMessage,
		TotalVehicles:    sr.TotalVehicles,
		SkippedVehicles:  sr.SkippedVehicles,
		ValidVehicles:    sr.ValidVehicles,
	}
}

// uploadResults stores the full result set as a blob and records the key.
// An upload failure downgrades the row to an error: results that cannot be
// fetched later are results the pipeline never had.
func (o *Orchestrator) uploadResults(ctx context.Context, result *models.ExecutionResult, sr models.ScraperResults, logger *zap.Logger) {
	if o.store == nil {
		return
	}
	key := fmt.Sprintf("results-%s-%d-market-%d-%d.json",
		result.Script, result.ExecutionID, result.MarketID, o.now().UnixMilli())
	if err := o.store.Store(ctx, key, sr); err != nil {
		logger.Error("results upload failed", zap.String("key", key), zap.Error(err))
		result.Success = false
		result.ExecutionStatus = models.ExecutionStatusError
		result.ExecutionMessage = fmt.Sprintf("results upload failed: %v", err)
		return
	}
	result.ResultsLink = key
	if linker, ok := o.store.(PublicLinker); ok {
		result.ResultsLink = linker.PublicURL(key)
	}
	logger.Info("results uploaded", zap.String("key", key))
}

func (o *Orchestrator) startRun(ctx context.Context, run *models.ScrapeRun, logger *zap.Logger) {
	if o.runs == nil {
		return
	}
	id, err := o.runs.StartRun(ctx, run)
	if err != nil {
		logger.Warn("recording run start failed", zap.Error(err))
		return
	}
	run.ID = id
}

func (o *Orchestrator) finishRun(ctx context.Context, run *models.ScrapeRun, logger *zap.Logger) {
	if o.runs == nil {
		return
	}
	if err := o.runs.FinishRun(ctx, run); err != nil {
		logger.Warn("recording run finish failed", zap.Error(err))
	}
}

func (o *Orchestrator) logRun(ctx context.Context, run *models.ScrapeRun, level models.LogLevel, message, source string) {
	if o.runs == nil || run.ID == 0 {
		return
	}
	_ = o.runs.Log(ctx, &models.RunLog{
		RunID:     &run.ID,
		Level:     level,
		Message:   message,
		Source:    source,
		CreatedAt: o.now(),
	})
}

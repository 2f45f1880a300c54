package scraper

import (
	"context"
	"time"

	"go.uber.org/zap"

	"carscout/identity"
	"carscout/models"
)

// Loop is the per-source execution control flow: pagination, transient
// retry, continuous-error circuit breaking, time-budget enforcement, and
// result accounting. One Loop instance serves one (market, source) run;
// all counters live here, never at package level.
type Loop struct {
	adapter    SourceAdapter
	classifier *Classifier
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

func NewLoop(adapter SourceAdapter, cfg Config, logger *zap.Logger) *Loop {
	return &Loop{
		adapter:    adapter,
		classifier: NewClassifier(cfg.IgnoreTerms),
		cfg:        cfg,
		logger: logger.With(
			zap.String("source", adapter.Name()),
		),
		now: time.Now,
	}
}

// Run executes the source against one market. The returned error is
// non-nil only when the run as a whole failed; partial collection (time
// budget, circuit breaker, out-of-date cutoff) is still a success. The
// adapter session is released on every exit path.
func (l *Loop) Run(ctx context.Context, market *models.Market) (models.ScraperResults, error) {
	params := ResolveParams(market, l.cfg.Defaults)
	logger := l.logger.With(zap.Int("market", market.ID))

	url, err := l.adapter.ResolveURL(market, params)
	if err != nil {
		logger.Error("resolving search url failed", zap.Error(err))
		return models.ErrorResults(err), err
	}

	logger.Info("starting source run",
		zap.String("url", url),
		zap.Int("days", params.DaysSinceListed),
		zap.Int("maxResults", l.cfg.MaxResults),
	)

	// A failed open can still leave a partially established session
	// behind, so release is registered before the first attempt.
	defer func() {
		if cerr := l.adapter.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("session close failed", zap.Error(cerr))
		}
	}()

	if err := l.openWithRetry(ctx, url, market, logger); err != nil {
		logger.Error("session open failed", zap.String("url", url), zap.Error(err))
		return models.ErrorResults(err), err
	}

	run := &runState{started: l.now()}
	if err := l.collect(ctx, params, run, logger); err != nil {
		logger.Error("source run failed", zap.String("url", url), zap.Error(err))
		return models.ErrorResults(err), err
	}

	return l.finalize(run, logger), nil
}

// runState carries the per-run counters that older implementations kept in
// mutable module state.
type runState struct {
	started          time.Time
	valid            []models.ScrapedVehicle
	skipped          int
	continuousErrors int
	stop             bool
}

func (l *Loop) openWithRetry(ctx context.Context, url string, market *models.Market, logger *zap.Logger) error {
	var err error
	for attempt := 0; attempt < l.cfg.PageRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("retrying session open", zap.Int("attempt", attempt+1), zap.Error(err))
			if perr := l.cfg.Pace.Pause(ctx); perr != nil {
				return perr
			}
		}
		if err = l.adapter.Open(ctx, url, market); err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}
	return err
}

// collect drives pagination until the source is exhausted or a terminate
// condition fires. Page-level transient errors are retried in place;
// exhaustion fails the run with the triggering error preserved.
func (l *Loop) collect(ctx context.Context, params models.MarketParams, run *runState, logger *zap.Logger) error {
	for page := 0; !run.stop; page++ {
		if l.overBudget(run, logger) {
			return nil
		}

		window, err := l.fetchPageWithRetry(ctx, page, logger)
		if err != nil {
			return err
		}

		logger.Info("processing page",
			zap.Int("page", page),
			zap.Int("candidates", len(window.Candidates)),
		)

		l.processCandidates(ctx, window.Candidates, params, run, logger)

		if !window.HasMore {
			return nil
		}
	}
	return nil
}

func (l *Loop) fetchPageWithRetry(ctx context.Context, page int, logger *zap.Logger) (*Page, error) {
	var err error
	for attempt := 0; attempt < l.cfg.PageRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("retrying page fetch", zap.Int("page", page), zap.Int("attempt", attempt+1), zap.Error(err))
		}
		if perr := l.cfg.Pace.Pause(ctx); perr != nil {
			return nil, perr
		}
		var window *Page
		if window, err = l.adapter.FetchPage(ctx, page); err == nil {
			return window, nil
		}
		if !retryable(err) {
			return nil, err
		}
	}
	logger.Error("page retries exhausted", zap.Int("page", page), zap.Error(err))
	return nil, err
}

func (l *Loop) processCandidates(ctx context.Context, candidates []string, params models.MarketParams, run *runState, logger *zap.Logger) {
	for _, candidate := range candidates {
		if l.overBudget(run, logger) {
			run.stop = true
			return
		}
		if err := l.cfg.Pace.Pause(ctx); err != nil {
			run.stop = true
			return
		}

		vehicle, err := l.adapter.ExtractListing(ctx, candidate)
		if err != nil {
			logger.Warn("listing extraction failed", zap.String("candidate", candidate), zap.Error(err))
			run.skipped++
			run.continuousErrors++
			if run.continuousErrors > l.cfg.ContinuousErrorLimit {
				// Consecutive failures signal a systemic problem (block,
				// layout change), not bad listings. Keep what we have.
				logger.Error("continuous error threshold exceeded, aborting remaining listings",
					zap.Int("threshold", l.cfg.ContinuousErrorLimit))
				run.stop = true
				return
			}
			continue
		}
		run.continuousErrors = 0
		if vehicle == nil {
			// Rejected by the adapter before classification; not counted.
			continue
		}

		switch l.classifier.Classify(vehicle, params, l.now()) {
		case OutOfDate:
			logger.Info("listing outside the expiration window, stopping",
				zap.String("vehicle", vehicle.VehicleOriginalID))
			run.stop = true
			return
		case Skip:
			logger.Info("listing skipped", zap.String("vehicle", vehicle.VehicleOriginalID))
			run.skipped++
		case Accept:
			run.valid = append(run.valid, *vehicle)
			if len(run.valid) >= l.cfg.MaxResults {
				logger.Info("reached the maximum number of vehicles")
				run.stop = true
				return
			}
		}
	}
}

func (l *Loop) overBudget(run *runState, logger *zap.Logger) bool {
	if l.cfg.TimeBudget <= 0 {
		return false
	}
	elapsed := l.now().Sub(run.started)
	if elapsed <= l.cfg.TimeBudget {
		return false
	}
	logger.Warn("execution time budget exceeded, finalizing with accumulated results",
		zap.Duration("elapsed", elapsed))
	return true
}

// finalize applies cross-post deduplication and settles the accounting
// rule: duplicates count as skips, so total == valid + skipped always
// holds on success.
func (l *Loop) finalize(run *runState, logger *zap.Logger) models.ScraperResults {
	deduped := DedupeByImage(run.valid)
	skipped := run.skipped + (len(run.valid) - len(deduped))
	for i := range deduped {
		deduped[i].Fingerprint = identity.Fingerprint(&deduped[i])
	}

	results := models.ScraperResults{
		Success:         true,
		ExecutionStatus: models.ExecutionStatusSuccess,
		ValidVehicles:   len(deduped),
		SkippedVehicles: skipped,
		TotalVehicles:   len(deduped) + skipped,
		Results:         deduped,
	}

	logger.Info("source run finished",
		zap.Int("total", results.TotalVehicles),
		zap.Int("valid", results.ValidVehicles),
		zap.Int("skipped", results.SkippedVehicles),
	)
	return results
}

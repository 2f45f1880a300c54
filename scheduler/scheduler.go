// Package scheduler reruns a job on a cron schedule in daemon mode.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"carscout/models"
)

// JobRunner executes one full job. Satisfied by the run pipeline in main.
type JobRunner interface {
	RunJob(ctx context.Context, job *models.JobPayload) error
}

type Scheduler struct {
	runner JobRunner
	job    *models.JobPayload
	logger *zap.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	running bool
}

func New(runner JobRunner, job *models.JobPayload, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		runner: runner,
		job:    job,
		logger: logger,
		cron:   cron.New(),
	}
}

// Start registers the cron entry and begins scheduling. The first run does
// not happen until the first tick; call TriggerNow for an immediate run.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.TriggerNow(ctx); err != nil {
			s.logger.Error("scheduled run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	s.logger.Info("scheduler started", zap.String("cron", spec))
	s.cron.Start()
	return nil
}

// TriggerNow runs the job immediately. Overlapping runs are collapsed: if
// a run is still in flight when the next tick fires, the tick is skipped.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("previous run still in progress, skipping")
		return nil
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	return s.runner.RunJob(ctx, s.job)
}

// Stop halts scheduling and waits for the in-flight entry, if any, to
// return from the cron runner.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"carscout/apiclient"
	"carscout/browser"
	"carscout/config"
	"carscout/httputil"
	"carscout/logging"
	"carscout/models"
	"carscout/notify"
	"carscout/scheduler"
	"carscout/scraper"
	"carscout/storage"
	"carscout/twofactor"
	"carscout/vpn"
)

func main() {
	jobFile := flag.String("job", "", "path to a job payload JSON file")
	jobKey := flag.String("job-key", "", "object-store key of the job payload")
	daemon := flag.Bool("daemon", false, "keep running and rerun the job on the configured cron schedule")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, closer, err := logging.Setup(cfg.LogPath, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	defer logger.Sync()

	if err := run(cfg, logger, *jobFile, *jobKey, *daemon); err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger, jobFile, jobKey string, daemon bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.VPN.AutoConnect {
		if err := vpn.NewExpressVPN(cfg.VPN).EnsureConnected(); err != nil {
			return fmt.Errorf("vpn: %w", err)
		}
		logger.Info("vpn connected", zap.String("region", cfg.VPN.Region))
	}

	clients := httputil.NewClients(cfg.ProxyURL)

	var store *storage.S3Store
	if cfg.S3.Bucket != "" {
		var err error
		store, err = storage.NewS3Store(ctx, cfg.S3)
		if err != nil {
			return fmt.Errorf("object store: %w", err)
		}
	}

	job, err := loadJob(ctx, jobFile, jobKey, store)
	if err != nil {
		return err
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job payload: %w", err)
	}

	deps := scraper.Deps{
		NewBrowser: browser.Factory(cfg.Browser),
		HTTP:       httputil.NewRequester(clients.Scraping),
		Codes:      twofactor.GenerateCode,
	}
	if cfg.CaptchaAPIKey != "" {
		deps.Captcha = httputil.NewCapsolver(clients.API, cfg.CaptchaAPIKey)
	}

	var objectStore scraper.ObjectStore
	if store != nil {
		objectStore = store
	}
	orch := scraper.NewOrchestrator(deps, cfg.Scraper, objectStore, logger)

	if cfg.ArchiveDir != "" {
		orch.WithArchiver(storage.NewLocalArchive(cfg.ArchiveDir))
	}

	if cfg.SQLitePath != "" {
		runs, err := storage.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open run database: %w", err)
		}
		defer runs.Close()
		orch.WithRunRecorder(runs)
	}

	if cfg.PostgresURL != "" {
		results, err := storage.NewPostgresStore(ctx, cfg.PostgresURL)
		if err != nil {
			return fmt.Errorf("connect results database: %w", err)
		}
		defer results.Close()
		orch.WithResultRecorder(results)
	}

	pipe := &pipeline{
		orch:   orch,
		logger: logger,
	}
	if err := cfg.API.Validate(); err != nil {
		logger.Warn("result delivery disabled", zap.Error(err))
	} else {
		pipe.api = apiclient.New(cfg.API, clients.API)
	}
	if cfg.Email.Enabled() {
		pipe.reporter = notify.NewEmailReporter(cfg.Email, logger)
	}

	if daemon {
		if cfg.Cron == "" {
			return fmt.Errorf("daemon mode requires SCRAPE_CRON")
		}
		sched := scheduler.New(pipe, job, logger)
		if err := sched.Start(ctx, cfg.Cron); err != nil {
			return err
		}
		<-ctx.Done()
		sched.Stop()
		logger.Info("daemon stopped")
		return nil
	}

	return pipe.RunJob(ctx, job)
}

// pipeline is one end-to-end job execution: scrape every market, deliver
// the result rows to the backend, and report failures by email.
type pipeline struct {
	orch     *scraper.Orchestrator
	api      *apiclient.Client
	reporter *notify.EmailReporter
	logger   *zap.Logger
}

func (p *pipeline) RunJob(ctx context.Context, job *models.JobPayload) error {
	results, err := p.orch.Run(ctx, job)
	if err != nil {
		return err
	}

	var failed []models.ExecutionResult
	for _, r := range results {
		if !r.Success {
			failed = append(failed, r)
		}
	}

	if p.reporter != nil {
		if err := p.reporter.ReportErrors(job, failed); err != nil {
			p.logger.Error("error report failed", zap.Error(err))
		}
	}

	if p.api != nil {
		if err := p.api.Authenticate(ctx); err != nil {
			return fmt.Errorf("deliver results: %w", err)
		}
		if err := p.api.SendResults(ctx, job.ID, results); err != nil {
			return fmt.Errorf("deliver results: %w", err)
		}
		p.logger.Info("results delivered", zap.Int("rows", len(results)))
	}

	return nil
}

// loadJob reads the payload from a local file or from the object store.
func loadJob(ctx context.Context, jobFile, jobKey string, store *storage.S3Store) (*models.JobPayload, error) {
	var job models.JobPayload

	switch {
	case jobFile != "":
		data, err := os.ReadFile(jobFile)
		if err != nil {
			return nil, fmt.Errorf("read job file: %w", err)
		}
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("parse job file: %w", err)
		}
	case jobKey != "":
		if store == nil {
			return nil, fmt.Errorf("-job-key requires S3 configuration")
		}
		if err := store.Fetch(ctx, jobKey, &job); err != nil {
			return nil, fmt.Errorf("fetch job payload: %w", err)
		}
	default:
		return nil, fmt.Errorf("no job given: use -job <file> or -job-key <key>")
	}

	return &job, nil
}

package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"carscout/models"
)

// SQLiteStore is the local bookkeeping database: one row per job run plus
// an append-only log stream. It survives process restarts and keeps
// history when the results backend is unreachable.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scrape_runs (
		id INTEGER PRIMARY KEY,
		run_key TEXT UNIQUE,
		source TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		markets_total INTEGER DEFAULT 0,
		markets_failed INTEGER DEFAULT 0,
		vehicles_valid INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id INTEGER PRIMARY KEY,
		run_id INTEGER,
		level TEXT,
		message TEXT,
		source TEXT,
		created_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON scrape_runs(status, started_at);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON run_logs(run_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) StartRun(ctx context.Context, run *models.ScrapeRun) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_runs (run_key, source, started_at, status, markets_total,
			markets_failed, vehicles_valid, errors_count)
		VALUES (?, ?, ?, ?, ?, 0, 0, 0)`,
		run.RunKey, run.Source, run.StartedAt, run.Status, run.MarketsTotal)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *models.ScrapeRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scrape_runs SET finished_at = ?, status = ?, markets_failed = ?,
			vehicles_valid = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.MarketsFailed, run.VehiclesValid, run.ErrorsCount, run.ID)
	return err
}

func (s *SQLiteStore) Log(ctx context.Context, log *models.RunLog) error {
	createdAt := log.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_logs (run_id, level, message, source, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		log.RunID, log.Level, log.Message, log.Source, createdAt)
	return err
}

// GetRun returns the run for a key, or nil when unknown.
func (s *SQLiteStore) GetRun(ctx context.Context, runKey string) (*models.ScrapeRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_key, source, started_at, finished_at, status,
			markets_total, markets_failed, vehicles_valid, errors_count
		FROM scrape_runs WHERE run_key = ?`, runKey)

	var run models.ScrapeRun
	var finished sql.NullTime
	err := row.Scan(&run.ID, &run.RunKey, &run.Source, &run.StartedAt, &finished, &run.Status,
		&run.MarketsTotal, &run.MarketsFailed, &run.VehiclesValid, &run.ErrorsCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

// RecentRuns returns the latest runs for a source, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, source string, limit int) ([]models.ScrapeRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_key, source, started_at, finished_at, status,
			markets_total, markets_failed, vehicles_valid, errors_count
		FROM scrape_runs WHERE source = ?
		ORDER BY started_at DESC LIMIT ?`, source, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.ScrapeRun
	for rows.Next() {
		var run models.ScrapeRun
		var finished sql.NullTime
		if err := rows.Scan(&run.ID, &run.RunKey, &run.Source, &run.StartedAt, &finished, &run.Status,
			&run.MarketsTotal, &run.MarketsFailed, &run.VehiclesValid, &run.ErrorsCount); err != nil {
			return nil, err
		}
		if finished.Valid {
			run.FinishedAt = &finished.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

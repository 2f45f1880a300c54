package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"carscout/models"
)

// PostgresStore persists finished execution rows in the shared results
// database for downstream reporting.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// SaveResults writes one row per (market, source) execution, all within a
// single transaction so a run is either fully recorded or not at all.
func (s *PostgresStore) SaveResults(ctx context.Context, runKey string, results []models.ExecutionResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO execution_results (
			run_key, execution_id, market_id, script, success, started_at, ended_at,
			execution_status, execution_message, total_vehicles, skipped_vehicles,
			valid_vehicles, results_link
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_key, market_id) DO UPDATE SET
			success = EXCLUDED.success,
			ended_at = EXCLUDED.ended_at,
			execution_status = EXCLUDED.execution_status,
			execution_message = EXCLUDED.execution_message,
			total_vehicles = EXCLUDED.total_vehicles,
			skipped_vehicles = EXCLUDED.skipped_vehicles,
			valid_vehicles = EXCLUDED.valid_vehicles,
			results_link = EXCLUDED.results_link`

	for _, r := range results {
		if _, err := tx.Exec(ctx, query,
			runKey, r.ExecutionID, r.MarketID, r.Script, r.Success, r.StartedAt, r.EndedAt,
			r.ExecutionStatus, r.ExecutionMessage, r.TotalVehicles, r.SkippedVehicles,
			r.ValidVehicles, r.ResultsLink,
		); err != nil {
			return fmt.Errorf("insert result for market %d: %w", r.MarketID, err)
		}
	}

	return tx.Commit(ctx)
}

// ResultsForExecution returns the recorded rows for one execution id,
// market order preserved.
func (s *PostgresStore) ResultsForExecution(ctx context.Context, executionID int) ([]models.ExecutionResult, error) {
	query := `
		SELECT execution_id, market_id, script, success, started_at, ended_at,
			execution_status, execution_message, total_vehicles, skipped_vehicles,
			valid_vehicles, results_link
		FROM execution_results
		WHERE execution_id = $1
		ORDER BY started_at`

	rows, err := s.pool.Query(ctx, query, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.ExecutionResult
	for rows.Next() {
		var r models.ExecutionResult
		if err := rows.Scan(
			&r.ExecutionID, &r.MarketID, &r.Script, &r.Success, &r.StartedAt, &r.EndedAt,
			&r.ExecutionStatus, &r.ExecutionMessage, &r.TotalVehicles, &r.SkippedVehicles,
			&r.ValidVehicles, &r.ResultsLink,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// LastSuccessfulRun returns the most recent successful run time for a
// script/market pair, or the zero time when none exists.
func (s *PostgresStore) LastSuccessfulRun(ctx context.Context, script string, marketID int) (time.Time, error) {
	var endedAt time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT ended_at FROM execution_results
		WHERE script = $1 AND market_id = $2 AND success = TRUE
		ORDER BY ended_at DESC LIMIT 1`, script, marketID).Scan(&endedAt)
	if err == pgx.ErrNoRows {
		return time.Time{}, nil
	}
	return endedAt, err
}

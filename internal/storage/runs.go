package storage

import (
	"context"
	"fmt"
	"time"

	"scriptflow/internal/ledger"
)

// RunStore is the PostgreSQL ledger.Store implementation. Completion is
// guarded in SQL so a terminal run can never be rewritten.
type RunStore struct {
	db *DB
}

func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

func (s *RunStore) Create(ctx context.Context, run *ledger.Run) error {
	query := `
		INSERT INTO runs (id, deployment_id, user_id, trigger_kind, function,
			status, output, stderr, error_detail, exit_code, duration_ms, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.db.pool.Exec(ctx, query,
		run.ID, run.DeploymentID, run.UserID, run.Trigger, run.Function,
		run.Status, run.Output, run.Stderr, run.ErrorDetail, run.ExitCode, run.DurationMS,
		run.StartedAt, run.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

func (s *RunStore) MarkRunning(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE runs SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4`

	tag, err := s.db.pool.Exec(ctx, query, id, ledger.StatusRunning, at, ledger.StatusPending)
	if err != nil {
		return fmt.Errorf("marking run %s running: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s is not pending", id)
	}
	return nil
}

func (s *RunStore) Complete(ctx context.Context, id string, outcome ledger.Outcome) error {
	if !ledger.Terminal(outcome.Status) {
		return fmt.Errorf("completing run %s with non-terminal status %q", id, outcome.Status)
	}

	query := `
		UPDATE runs
		SET status = $2, output = $3, stderr = $4, error_detail = $5,
			exit_code = $6, duration_ms = $7, completed_at = $8
		WHERE id = $1 AND status IN ($9, $10)`

	tag, err := s.db.pool.Exec(ctx, query,
		id, outcome.Status,
		truncateForDB(outcome.Output, 65535),
		truncateForDB(outcome.Stderr, 65535),
		truncateForDB(outcome.ErrorDetail, 65535),
		outcome.ExitCode, outcome.DurationMS, outcome.CompletedAt,
		ledger.StatusPending, ledger.StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("completing run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s already terminal", id)
	}
	return nil
}

func (s *RunStore) SweepStale(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE runs
		SET status = $1, error_detail = $2, exit_code = -1, completed_at = $3
		WHERE status IN ($4, $5) AND started_at < $6`

	tag, err := s.db.pool.Exec(ctx, query,
		ledger.StatusFailed, ledger.AbandonedDetail, time.Now().UTC(),
		ledger.StatusPending, ledger.StatusRunning, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("sweeping stale runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *RunStore) Get(ctx context.Context, id string) (*ledger.Run, error) {
	query := `
		SELECT id, deployment_id, user_id, trigger_kind, function, status,
			output, stderr, error_detail, exit_code, duration_ms, started_at, completed_at
		FROM runs WHERE id = $1`

	var run ledger.Run
	err := s.db.pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.DeploymentID, &run.UserID, &run.Trigger, &run.Function,
		&run.Status, &run.Output, &run.Stderr, &run.ErrorDetail, &run.ExitCode,
		&run.DurationMS, &run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying run %s: %w", id, err)
	}
	return &run, nil
}

func (s *RunStore) List(ctx context.Context, filter ledger.Filter) ([]ledger.Run, error) {
	query := `
		SELECT id, deployment_id, user_id, trigger_kind, function, status,
			output, stderr, error_detail, exit_code, duration_ms, started_at, completed_at
		FROM runs
		WHERE ($1 = '' OR deployment_id = $1)
		  AND ($2 = '' OR user_id = $2)
		  AND ($3 = '' OR status = $3)
		ORDER BY started_at DESC
		LIMIT $4 OFFSET $5`

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.pool.Query(ctx, query,
		filter.DeploymentID, filter.UserID, filter.Status, limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var results []ledger.Run
	for rows.Next() {
		var run ledger.Run
		if err := rows.Scan(
			&run.ID, &run.DeploymentID, &run.UserID, &run.Trigger, &run.Function,
			&run.Status, &run.Output, &run.Stderr, &run.ErrorDetail, &run.ExitCode,
			&run.DurationMS, &run.StartedAt, &run.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		results = append(results, run)
	}
	return results, rows.Err()
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"scriptflow/internal/deploy"
	"scriptflow/internal/script"
)

// DeploymentStore is the PostgreSQL deploy.Store implementation.
type DeploymentStore struct {
	db *DB
}

func NewDeploymentStore(db *DB) *DeploymentStore {
	return &DeploymentStore{db: db}
}

func (s *DeploymentStore) Create(ctx context.Context, dep *deploy.Deployment) error {
	manifest, err := json.Marshal(dep.Manifest)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	query := `
		INSERT INTO deployments (id, user_id, name, script_content, script_version,
			manifest, status, error_detail, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = s.db.pool.Exec(ctx, query,
		dep.ID, dep.UserID, dep.Name, dep.ScriptContent, dep.ScriptVersion,
		manifest, dep.Status, dep.ErrorDetail, dep.CreatedAt, dep.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting deployment: %w", err)
	}
	return nil
}

func (s *DeploymentStore) Get(ctx context.Context, id string) (*deploy.Deployment, error) {
	query := `
		SELECT id, user_id, name, script_content, script_version, manifest,
			status, error_detail, created_at, updated_at
		FROM deployments WHERE id = $1`

	var dep deploy.Deployment
	var manifest []byte
	err := s.db.pool.QueryRow(ctx, query, id).Scan(
		&dep.ID, &dep.UserID, &dep.Name, &dep.ScriptContent, &dep.ScriptVersion,
		&manifest, &dep.Status, &dep.ErrorDetail, &dep.CreatedAt, &dep.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying deployment %s: %w", id, err)
	}
	if err := json.Unmarshal(manifest, &dep.Manifest); err != nil {
		return nil, fmt.Errorf("decoding manifest for %s: %w", id, err)
	}
	return &dep, nil
}

func (s *DeploymentStore) List(ctx context.Context, userID string) ([]deploy.Deployment, error) {
	query := `
		SELECT id, user_id, name, script_content, script_version, manifest,
			status, error_detail, created_at, updated_at
		FROM deployments
		WHERE user_id = $1 AND status != $2
		ORDER BY created_at DESC`

	return s.queryDeployments(ctx, query, userID, deploy.StatusDeleted)
}

func (s *DeploymentStore) ListActive(ctx context.Context) ([]deploy.Deployment, error) {
	query := `
		SELECT id, user_id, name, script_content, script_version, manifest,
			status, error_detail, created_at, updated_at
		FROM deployments
		WHERE status = $1
		ORDER BY created_at ASC`

	return s.queryDeployments(ctx, query, deploy.StatusActive)
}

func (s *DeploymentStore) SetStatus(ctx context.Context, id, status, errorDetail string) error {
	// The legal source states are checked in SQL so concurrent writers cannot
	// race a deployment out of a terminal state.
	query := `
		UPDATE deployments
		SET status = $2, error_detail = $3, updated_at = $4
		WHERE id = $1 AND status = ANY($5)`

	tag, err := s.db.pool.Exec(ctx, query,
		id, status, truncateForDB(errorDetail, 4096), time.Now().UTC(), legalSources(status),
	)
	if err != nil {
		return fmt.Errorf("updating deployment %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deployment %s: %w: no legal source state for %s", id, deploy.ErrIllegalTransition, status)
	}
	return nil
}

func (s *DeploymentStore) queryDeployments(ctx context.Context, query string, args ...any) ([]deploy.Deployment, error) {
	rows, err := s.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying deployments: %w", err)
	}
	defer rows.Close()

	var results []deploy.Deployment
	for rows.Next() {
		var dep deploy.Deployment
		var manifest []byte
		if err := rows.Scan(
			&dep.ID, &dep.UserID, &dep.Name, &dep.ScriptContent, &dep.ScriptVersion,
			&manifest, &dep.Status, &dep.ErrorDetail, &dep.CreatedAt, &dep.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning deployment row: %w", err)
		}
		if err := json.Unmarshal(manifest, &dep.Manifest); err != nil {
			dep.Manifest = script.Manifest{}
		}
		results = append(results, dep)
	}
	return results, rows.Err()
}

// legalSources returns the states a deployment may transition to target from.
func legalSources(target string) []string {
	var sources []string
	for _, from := range []string{
		deploy.StatusPending, deploy.StatusActive, deploy.StatusPaused,
		deploy.StatusError, deploy.StatusDeleted,
	} {
		if deploy.CanTransition(from, target) {
			sources = append(sources, from)
		}
	}
	return sources
}

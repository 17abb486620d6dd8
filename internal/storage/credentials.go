package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"scriptflow/internal/credential"
)

// CredentialStore is the PostgreSQL credential.Store implementation.
type CredentialStore struct {
	db *DB
}

func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db}
}

func (s *CredentialStore) Save(ctx context.Context, userID, integration string, fields map[string]string) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encoding credential fields: %w", err)
	}

	query := `
		INSERT INTO credentials (user_id, integration, fields, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, integration)
		DO UPDATE SET fields = EXCLUDED.fields, updated_at = EXCLUDED.updated_at`

	_, err = s.db.pool.Exec(ctx, query, userID, integration, encoded, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upserting credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Delete(ctx context.Context, userID, integration string) error {
	query := `DELETE FROM credentials WHERE user_id = $1 AND integration = $2`
	if _, err := s.db.pool.Exec(ctx, query, userID, integration); err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	return nil
}

func (s *CredentialStore) Has(ctx context.Context, userID, integration string) (bool, error) {
	query := `SELECT 1 FROM credentials WHERE user_id = $1 AND integration = $2`
	var one int
	err := s.db.pool.QueryRow(ctx, query, userID, integration).Scan(&one)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking credential: %w", err)
	}
	return true, nil
}

func (s *CredentialStore) Get(ctx context.Context, userID, integration string) (*credential.Record, error) {
	query := `
		SELECT fields, updated_at FROM credentials
		WHERE user_id = $1 AND integration = $2`

	var encoded []byte
	rec := credential.Record{UserID: userID, Integration: integration}
	err := s.db.pool.QueryRow(ctx, query, userID, integration).Scan(&encoded, &rec.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	if err := json.Unmarshal(encoded, &rec.Fields); err != nil {
		return nil, fmt.Errorf("decoding credential fields: %w", err)
	}
	return &rec, nil
}

func (s *CredentialStore) List(ctx context.Context, userID string) ([]credential.Status, error) {
	query := `
		SELECT integration, updated_at FROM credentials
		WHERE user_id = $1 ORDER BY integration`

	rows, err := s.db.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	defer rows.Close()

	var statuses []credential.Status
	for rows.Next() {
		status := credential.Status{Configured: true}
		if err := rows.Scan(&status.Integration, &status.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning credential row: %w", err)
		}
		statuses = append(statuses, status)
	}
	return statuses, rows.Err()
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/tidestore/tidestore/internal/models"
	"github.com/tidestore/tidestore/internal/store"
)

// SecretStore implements store.SecretStore using PostgreSQL.
type SecretStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *SecretStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const secretColumns = `id, owner_id, name, prefix, secret_hash, scopes,
	rate_limit_per_minute, monthly_quota_bytes, used_quota_bytes,
	is_active, last_used_at, created_at`

// Create persists a new pinning secret record.
func (s *SecretStore) Create(ctx context.Context, secret *models.PinningSecret) error {
	query := `
		INSERT INTO pinning_secrets (` + secretColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.conn().ExecContext(ctx, query,
		secret.ID,
		secret.OwnerID,
		secret.Name,
		secret.Prefix,
		secret.SecretHash,
		pq.Array(secret.Scopes),
		secret.RateLimitPerMinute,
		secret.MonthlyQuotaBytes,
		secret.UsedQuotaBytes,
		secret.IsActive,
		secret.LastUsedAt,
		secret.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("secret already exists: %w", err)
		}
		return fmt.Errorf("inserting secret: %w", err)
	}

	return nil
}

// Get retrieves a secret by ID.
func (s *SecretStore) Get(ctx context.Context, id string) (*models.PinningSecret, error) {
	query := `SELECT ` + secretColumns + ` FROM pinning_secrets WHERE id = $1`
	return s.scanOne(s.conn().QueryRowContext(ctx, query, id))
}

// GetActiveByHash retrieves an active secret by its SHA-256 hex digest.
func (s *SecretStore) GetActiveByHash(ctx context.Context, hash string) (*models.PinningSecret, error) {
	query := `SELECT ` + secretColumns + ` FROM pinning_secrets WHERE secret_hash = $1 AND is_active = TRUE`
	return s.scanOne(s.conn().QueryRowContext(ctx, query, hash))
}

// ListByOwner retrieves all secrets for an owner, newest first.
func (s *SecretStore) ListByOwner(ctx context.Context, ownerID string) ([]*models.PinningSecret, error) {
	query := `SELECT ` + secretColumns + ` FROM pinning_secrets WHERE owner_id = $1 ORDER BY created_at DESC`

	rows, err := s.conn().QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying secrets: %w", err)
	}
	defer rows.Close()

	var secrets []*models.PinningSecret

	for rows.Next() {
		secret, err := scanSecret(rows)
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, secret)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating secrets: %w", err)
	}

	return secrets, nil
}

// Revoke flips is_active to false for the owner's secret.
func (s *SecretStore) Revoke(ctx context.Context, id, ownerID string) error {
	query := `UPDATE pinning_secrets SET is_active = FALSE WHERE id = $1 AND owner_id = $2`

	result, err := s.conn().ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("revoking secret: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return store.ErrNotFound
	}

	return nil
}

// TouchLastUsed updates last_used_at to now.
func (s *SecretStore) TouchLastUsed(ctx context.Context, id string) error {
	query := `UPDATE pinning_secrets SET last_used_at = $2 WHERE id = $1`

	_, err := s.conn().ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating last_used_at: %w", err)
	}

	return nil
}

// AddUsedQuota atomically adds n bytes to used_quota_bytes.
func (s *SecretStore) AddUsedQuota(ctx context.Context, id string, n int64) error {
	query := `UPDATE pinning_secrets SET used_quota_bytes = used_quota_bytes + $2 WHERE id = $1`

	_, err := s.conn().ExecContext(ctx, query, id, n)
	if err != nil {
		return fmt.Errorf("adding used quota: %w", err)
	}

	return nil
}

// DeleteByOwner hard-deletes all secrets for an owner.
func (s *SecretStore) DeleteByOwner(ctx context.Context, ownerID string) error {
	query := `DELETE FROM pinning_secrets WHERE owner_id = $1`

	_, err := s.conn().ExecContext(ctx, query, ownerID)
	if err != nil {
		return fmt.Errorf("deleting secrets: %w", err)
	}

	return nil
}

// scanner abstracts over *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (s *SecretStore) scanOne(row *sql.Row) (*models.PinningSecret, error) {
	secret, err := scanSecret(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return secret, nil
}

func scanSecret(row scanner) (*models.PinningSecret, error) {
	var secret models.PinningSecret
	var scopes pq.StringArray

	err := row.Scan(
		&secret.ID,
		&secret.OwnerID,
		&secret.Name,
		&secret.Prefix,
		&secret.SecretHash,
		&scopes,
		&secret.RateLimitPerMinute,
		&secret.MonthlyQuotaBytes,
		&secret.UsedQuotaBytes,
		&secret.IsActive,
		&secret.LastUsedAt,
		&secret.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning secret: %w", err)
	}

	secret.Scopes = []string(scopes)
	return &secret, nil
}

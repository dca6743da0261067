package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tidestore/tidestore/internal/models"
	"github.com/tidestore/tidestore/internal/store"
)

// ContentStore implements store.ContentStore using PostgreSQL.
type ContentStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *ContentStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const contentColumns = `id, owner_id, address, name, size, content_type, created_at`

// Create persists a new content record.
func (s *ContentStore) Create(ctx context.Context, content *models.Content) error {
	query := `
		INSERT INTO content_records (` + contentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.conn().ExecContext(ctx, query,
		content.ID,
		content.OwnerID,
		content.Address,
		content.Name,
		content.Size,
		content.ContentType,
		content.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("content record already exists: %w", err)
		}
		return fmt.Errorf("inserting content record: %w", err)
	}

	return nil
}

// GetByAddress retrieves a content record by address.
func (s *ContentStore) GetByAddress(ctx context.Context, address string) (*models.Content, error) {
	query := `SELECT ` + contentColumns + ` FROM content_records WHERE address = $1`
	return s.scanOne(s.conn().QueryRowContext(ctx, query, address))
}

// GetByAddressAndOwner retrieves a content record by address, constrained to the owner.
func (s *ContentStore) GetByAddressAndOwner(ctx context.Context, address, ownerID string) (*models.Content, error) {
	query := `SELECT ` + contentColumns + ` FROM content_records WHERE address = $1 AND owner_id = $2`
	return s.scanOne(s.conn().QueryRowContext(ctx, query, address, ownerID))
}

func (s *ContentStore) scanOne(row *sql.Row) (*models.Content, error) {
	var content models.Content

	err := row.Scan(
		&content.ID,
		&content.OwnerID,
		&content.Address,
		&content.Name,
		&content.Size,
		&content.ContentType,
		&content.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scanning content record: %w", err)
	}

	return &content, nil
}

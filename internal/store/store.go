// Package store provides database access interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tidestore/tidestore/internal/models"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("resource not found")

// SecretStore defines operations for pinning secret management.
type SecretStore interface {
	// Create persists a new pinning secret record.
	Create(ctx context.Context, secret *models.PinningSecret) error
	// Get retrieves a secret by ID.
	Get(ctx context.Context, id string) (*models.PinningSecret, error)
	// GetActiveByHash retrieves an active secret by its SHA-256 hex digest.
	// Revoked secrets are never returned, even when the hash matches.
	GetActiveByHash(ctx context.Context, hash string) (*models.PinningSecret, error)
	// ListByOwner retrieves all secrets for an owner, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*models.PinningSecret, error)
	// Revoke flips is_active to false. Irreversible through this interface.
	Revoke(ctx context.Context, id, ownerID string) error
	// TouchLastUsed updates last_used_at to now.
	TouchLastUsed(ctx context.Context, id string) error
	// AddUsedQuota atomically adds n bytes to used_quota_bytes.
	AddUsedQuota(ctx context.Context, id string, n int64) error
	// DeleteByOwner hard-deletes all secrets for an owner (account deletion cascade).
	DeleteByOwner(ctx context.Context, ownerID string) error
}

// UsageStore defines operations for daily usage accumulation.
type UsageStore interface {
	// Add accumulates one transfer event into the (secretID, day) row:
	// request_count += 1, bytes_transferred += bytes, success_count += success.
	// The upsert-add is atomic; concurrent events never overwrite each other.
	Add(ctx context.Context, secretID string, day time.Time, bytes int64, success bool) error
	// ListBySecret retrieves up to days most recent rows for a secret, newest first.
	ListBySecret(ctx context.Context, secretID string, days int) ([]*models.DailyUsage, error)
}

// ContentStore defines operations for content metadata records.
type ContentStore interface {
	// Create persists a new content record.
	Create(ctx context.Context, content *models.Content) error
	// GetByAddress retrieves a content record by address.
	GetByAddress(ctx context.Context, address string) (*models.Content, error)
	// GetByAddressAndOwner retrieves a content record by address, constrained
	// to the given owner. Absence of an owned record is ErrNotFound.
	GetByAddressAndOwner(ctx context.Context, address, ownerID string) (*models.Content, error)
}

// Store is the main interface for database operations.
type Store interface {
	// Secrets returns the SecretStore for pinning secret operations.
	Secrets() SecretStore
	// Usage returns the UsageStore for daily usage operations.
	Usage() UsageStore
	// Content returns the ContentStore for content metadata operations.
	Content() ContentStore

	// WithTx executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// Otherwise, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Ping verifies the database connection.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

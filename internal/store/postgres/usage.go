package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidestore/tidestore/internal/models"
)

// UsageStore implements store.UsageStore using PostgreSQL.
type UsageStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *UsageStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Add accumulates one transfer event into the (secretID, day) row. The
// ON CONFLICT arm adds to the existing counters so concurrent events for the
// same key accumulate instead of overwriting.
func (s *UsageStore) Add(ctx context.Context, secretID string, day time.Time, bytes int64, success bool) error {
	query := `
		INSERT INTO daily_usage (secret_id, day, request_count, bytes_transferred, success_count)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (secret_id, day) DO UPDATE SET
			request_count     = daily_usage.request_count + 1,
			bytes_transferred = daily_usage.bytes_transferred + EXCLUDED.bytes_transferred,
			success_count     = daily_usage.success_count + EXCLUDED.success_count`

	successCount := 0
	if success {
		successCount = 1
	}

	_, err := s.conn().ExecContext(ctx, query, secretID, models.UsageDay(day), bytes, successCount)
	if err != nil {
		return fmt.Errorf("accumulating usage: %w", err)
	}

	return nil
}

// ListBySecret retrieves up to days most recent rows for a secret, newest first.
func (s *UsageStore) ListBySecret(ctx context.Context, secretID string, days int) ([]*models.DailyUsage, error) {
	query := `
		SELECT secret_id, day, request_count, bytes_transferred, success_count
		FROM daily_usage
		WHERE secret_id = $1
		ORDER BY day DESC
		LIMIT $2`

	rows, err := s.conn().QueryContext(ctx, query, secretID, days)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer rows.Close()

	var usage []*models.DailyUsage

	for rows.Next() {
		var u models.DailyUsage
		if err := rows.Scan(&u.SecretID, &u.Day, &u.RequestCount, &u.BytesTransferred, &u.SuccessCount); err != nil {
			return nil, fmt.Errorf("scanning usage row: %w", err)
		}
		usage = append(usage, &u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}

	return usage, nil
}

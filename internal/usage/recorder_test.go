package usage

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidestore/tidestore/internal/models"
)

type accumulatingUsageStore struct {
	mu   sync.Mutex
	rows map[string]*models.DailyUsage
}

func newAccumulatingUsageStore() *accumulatingUsageStore {
	return &accumulatingUsageStore{rows: make(map[string]*models.DailyUsage)}
}

func (s *accumulatingUsageStore) Add(_ context.Context, secretID string, day time.Time, bytes int64, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := secretID + "/" + models.UsageDay(day).Format("2006-01-02")
	row, ok := s.rows[key]
	if !ok {
		row = &models.DailyUsage{SecretID: secretID, Day: models.UsageDay(day)}
		s.rows[key] = row
	}
	row.RequestCount++
	row.BytesTransferred += bytes
	if success {
		row.SuccessCount++
	}
	return nil
}

func (s *accumulatingUsageStore) ListBySecret(_ context.Context, secretID string, days int) ([]*models.DailyUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.DailyUsage
	for _, row := range s.rows {
		if row.SecretID == secretID {
			out = append(out, row)
		}
	}
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingDropped struct {
	mu sync.Mutex
	n  int
}

func (c *countingDropped) Inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingDropped) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestEventsAccumulateIntoSingleDailyRow(t *testing.T) {
	st := newAccumulatingUsageStore()
	rec := NewRecorder(st, nil, nil)

	rec.Record("sec-1", 100, true)
	rec.Record("sec-1", 200, true)
	rec.Record("sec-1", 50, false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rec.Shutdown(ctx))

	rows, err := st.ListBySecret(context.Background(), "sec-1", 30)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, int64(3), rows[0].RequestCount)
	assert.Equal(t, int64(350), rows[0].BytesTransferred)
	assert.Equal(t, int64(2), rows[0].SuccessCount)
}

func TestRecordNeverBlocksWhenQueueFull(t *testing.T) {
	dropped := &countingDropped{}
	rec := &Recorder{
		usage:        newAccumulatingUsageStore(),
		logger:       discardLogger(),
		writeTimeout: time.Second,
		dropped:      dropped,
		ch:           make(chan event, 1),
	}
	// No worker running, so the second event must be dropped rather than
	// blocking the caller.

	done := make(chan struct{})
	go func() {
		rec.Record("sec-1", 1, true)
		rec.Record("sec-1", 1, true)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}

	assert.Equal(t, 1, dropped.count())
}

func TestShutdownDrainsQueuedEvents(t *testing.T) {
	st := newAccumulatingUsageStore()
	rec := NewRecorder(st, nil, nil, WithQueueSize(64))

	for i := 0; i < 20; i++ {
		rec.Record("sec-2", 10, true)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, rec.Shutdown(ctx))

	rows, err := st.ListBySecret(context.Background(), "sec-2", 30)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(20), rows[0].RequestCount)
	assert.Equal(t, int64(200), rows[0].BytesTransferred)
}

// Package usage accumulates per-secret transfer events into daily rollups.
//
// Recording is fire-and-forget: events are queued onto a bounded channel and
// written by a background worker, so a burst of requests can never spawn an
// unbounded number of concurrent writes, and a metering failure never fails
// the request it describes.
package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tidestore/tidestore/internal/store"
)

// event is one completed proxied transfer.
type event struct {
	secretID string
	bytes    int64
	success  bool
	at       time.Time
}

// DroppedCounter is notified when an event is discarded because the queue is
// full. Satisfied by prometheus.Counter.
type DroppedCounter interface {
	Inc()
}

// Recorder collapses transfer events into one row per (secret, UTC day).
type Recorder struct {
	usage   store.UsageStore
	secrets store.SecretStore
	logger  *slog.Logger

	writeTimeout time.Duration
	dropped      DroppedCounter

	ch        chan event
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithQueueSize sets the bounded queue capacity.
func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.ch = make(chan event, n)
		}
	}
}

// WithWriteTimeout sets the per-write database timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// WithDroppedCounter sets the counter incremented when events are discarded.
func WithDroppedCounter(c DroppedCounter) Option {
	return func(r *Recorder) {
		r.dropped = c
	}
}

// NewRecorder creates a recorder and starts its background worker. secrets may
// be nil; when set, used-quota bytes are accumulated on the secret record too.
func NewRecorder(usageStore store.UsageStore, secrets store.SecretStore, logger *slog.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		usage:        usageStore,
		secrets:      secrets,
		logger:       logger,
		writeTimeout: 5 * time.Second,
		ch:           make(chan event, 1024),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// Record queues one completed transfer for the secret. Never blocks: when the
// queue is full the event is dropped and counted.
func (r *Recorder) Record(secretID string, bytes int64, success bool) {
	select {
	case r.ch <- event{secretID: secretID, bytes: bytes, success: success, at: time.Now().UTC()}:
	default:
		if r.dropped != nil {
			r.dropped.Inc()
		}
		r.logger.Warn("usage event dropped, queue full", "secret_id", secretID)
	}
}

// Shutdown stops the worker, draining queued events until the context deadline.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.closeOnce.Do(func() {
		close(r.ch)
	})

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name returns the component name for shutdown logging.
func (r *Recorder) Name() string { return "usage-recorder" }

func (r *Recorder) worker() {
	defer r.wg.Done()

	for ev := range r.ch {
		r.write(ev)
	}
}

// write performs the upsert-add. Failures are logged and discarded.
func (r *Recorder) write(ev event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if err := r.usage.Add(ctx, ev.secretID, ev.at, ev.bytes, ev.success); err != nil {
		r.logger.Error("usage accumulation failed",
			"secret_id", ev.secretID,
			"bytes", ev.bytes,
			"error", err,
		)
		return
	}

	if r.secrets != nil && ev.bytes > 0 {
		if err := r.secrets.AddUsedQuota(ctx, ev.secretID, ev.bytes); err != nil {
			r.logger.Debug("quota accumulation failed", "secret_id", ev.secretID, "error", err)
		}
	}
}

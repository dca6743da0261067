// Package ratelimit provides fixed-window request rate limiting keyed by an
// arbitrary string identity. A window is identified by [start, start+window);
// once now passes the window end the next request replaces the window rather
// than incrementing it. Bursts straddling a window boundary can briefly admit
// up to 2x the ceiling; this is an accepted approximation for abuse
// mitigation, not billing-grade metering.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"time"
)

// Info contains rate limit state for populating response headers.
type Info struct {
	Limit      int           // Ceiling for the current window
	Remaining  int           // Requests left in the current window
	ResetAt    time.Time     // When the current window ends
	RetryAfter time.Duration // How long to wait (meaningful only when denied)
}

// window is one live counting window for a key.
type window struct {
	count int
	start time.Time
	end   time.Time
}

// shardCount spreads keys over independent locks so unrelated callers never
// contend on a single mutex.
const shardCount = 64

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// Limiter is a fixed-window per-key request counter. Safe for concurrent use;
// the increment-and-compare for a key is atomic under its shard lock, so two
// concurrent requests can never both take the last admission.
type Limiter struct {
	limit  int
	window time.Duration

	shards [shardCount]*shard

	now func() time.Time // injectable for tests

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a limiter with the given default per-key ceiling and window.
// sweepInterval controls the advisory background sweep that reclaims expired
// windows; correctness does not depend on it because lookups self-heal. A
// non-positive sweepInterval disables the sweep.
func New(limit int, windowDur, sweepInterval time.Duration) *Limiter {
	l := &Limiter{
		limit:  limit,
		window: windowDur,
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for i := range l.shards {
		l.shards[i] = &shard{windows: make(map[string]*window)}
	}
	if sweepInterval > 0 {
		go l.sweepLoop(sweepInterval)
	}
	return l
}

// Allow checks whether a request for key should be admitted under the
// limiter's default ceiling.
func (l *Limiter) Allow(key string) (bool, Info) {
	return l.AllowLimit(key, l.limit)
}

// AllowLimit checks whether a request for key should be admitted under the
// given ceiling. Per-identity ceilings (a secret's own rate limit) use this
// form; the window state is shared regardless of the ceiling passed.
func (l *Limiter) AllowLimit(key string, limit int) (bool, Info) {
	sh := l.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := l.now()

	w, exists := sh.windows[key]
	if !exists || !now.Before(w.end) {
		w = &window{count: 1, start: now, end: now.Add(l.window)}
		sh.windows[key] = w
		return true, Info{Limit: limit, Remaining: limit - 1, ResetAt: w.end}
	}

	if w.count >= limit {
		return false, Info{
			Limit:      limit,
			Remaining:  0,
			ResetAt:    w.end,
			RetryAfter: w.end.Sub(now),
		}
	}

	w.count++
	return true, Info{Limit: limit, Remaining: limit - w.count, ResetAt: w.end}
}

// Close stops the background sweep goroutine.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}

func (l *Limiter) shard(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

// sweepLoop periodically removes windows whose end has passed to bound memory.
func (l *Limiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep removes expired windows from every shard.
func (l *Limiter) sweep() {
	now := l.now()
	for _, sh := range l.shards {
		sh.mu.Lock()
		for key, w := range sh.windows {
			if !now.Before(w.end) {
				delete(sh.windows, key)
			}
		}
		sh.mu.Unlock()
	}
}

// Tracked reports the number of keys currently holding a window. Used by
// tests and metrics.
func (l *Limiter) Tracked() int {
	total := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		total += len(sh.windows)
		sh.mu.Unlock()
	}
	return total
}

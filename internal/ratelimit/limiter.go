package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Limiter admits at most a fixed number of events per key per window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

var _ Limiter = (*MemoryLimiter)(nil)

type window struct {
	start time.Time
	count int
}

// MemoryLimiter is a fixed-window limiter for a single process.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	limit   int
	period  time.Duration
	now     func() time.Time
}

func NewMemoryLimiter(limit int, period time.Duration) *MemoryLimiter {
	return newMemoryLimiter(limit, period, time.Now)
}

func newMemoryLimiter(limit int, period time.Duration, nowFn func() time.Time) *MemoryLimiter {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryLimiter{
		windows: make(map[string]*window),
		limit:   limit,
		period:  period,
		now:     nowFn,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	key = normalizeKey(key)
	if key == "" {
		return false, fmt.Errorf("rate limit key is required")
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.start.Add(l.period)) {
		w = &window{start: now}
		l.windows[key] = w
		l.pruneLocked(now)
	}
	w.count++
	return w.count <= l.limit, nil
}

// pruneLocked drops windows that have closed. l.mu must be held.
func (l *MemoryLimiter) pruneLocked(now time.Time) {
	for key, w := range l.windows {
		if !now.Before(w.start.Add(l.period)) {
			delete(l.windows, key)
		}
	}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

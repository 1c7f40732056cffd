// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	hits   []time.Time
	length time.Duration
}

// prune keeps the timestamps with now - ts < length. hits is kept in
// insertion order, which is chronological for a monotonic clock.
func (w *window) prune(now time.Time) {
	i := 0
	for i < len(w.hits) && now.Sub(w.hits[i]) >= w.length {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// MemoryStore keeps windows in process memory. It is the default store and
// is only correct for a single instance.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithStoreClock sets the clock Cleanup and the janitor prune against. It
// should match the clock of the limiters sharing the store.
func WithStoreClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		windows: make(map[string]*window),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Hit(_ context.Context, key string, now time.Time, limit int, length time.Duration) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = &window{}
		s.windows[key] = w
	}
	w.length = length
	w.prune(now)

	if len(w.hits) >= limit {
		retry := w.hits[0].Add(length).Sub(now)
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: retry}, nil
	}

	w.hits = append(w.hits, now)
	return Decision{Allowed: true, Limit: limit, Remaining: limit - len(w.hits)}, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.windows, key)
	s.mu.Unlock()
	return nil
}

// Cleanup prunes every window and drops the keys left empty.
func (s *MemoryStore) Cleanup() {
	s.cleanupAt(s.now())
}

func (s *MemoryStore) cleanupAt(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, w := range s.windows {
		w.prune(now)
		if len(w.hits) == 0 {
			delete(s.windows, key)
		}
	}
}

// Len returns the number of keys currently tracked.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// StartJanitor runs Cleanup every interval until ctx is cancelled.
func (s *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	t := time.NewTicker(interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

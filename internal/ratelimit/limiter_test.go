// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, max int, window time.Duration, clock *fakeClock, opts ...Option) *Limiter {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	l, err := New(Config{Name: "test", MaxRequests: max, Window: window}, NewMemoryStore(), opts...)
	require.NoError(t, err)
	return l
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing name", cfg: Config{MaxRequests: 1, Window: time.Second}},
		{name: "zero max", cfg: Config{Name: "x", Window: time.Second}},
		{name: "negative window", cfg: Config{Name: "x", MaxRequests: 1, Window: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg, nil)
			require.Error(t, err)
		})
	}
}

func TestLimiterSlidingWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	l := newTestLimiter(t, 3, time.Second, clock)

	assert.True(t, l.IsAllowed(ctx, "k"))
	clock.Advance(100 * time.Millisecond)
	assert.True(t, l.IsAllowed(ctx, "k"))
	clock.Advance(100 * time.Millisecond)
	assert.True(t, l.IsAllowed(ctx, "k"))

	clock.Advance(100 * time.Millisecond)
	d := l.Allow(ctx, "k")
	assert.False(t, d.Allowed)
	assert.Equal(t, 700*time.Millisecond, d.RetryAfter)

	// 1000ms after the first hit it has left the window
	clock.Advance(700 * time.Millisecond)
	assert.True(t, l.IsAllowed(ctx, "k"))
	assert.False(t, l.IsAllowed(ctx, "k"))
}

func TestRejectedAttemptsAreNotRecorded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	l := newTestLimiter(t, 2, time.Second, clock)

	require.True(t, l.IsAllowed(ctx, "k"))
	require.True(t, l.IsAllowed(ctx, "k"))
	for range 50 {
		clock.Advance(10 * time.Millisecond)
		require.False(t, l.IsAllowed(ctx, "k"))
	}

	// only the two accepted hits at t=0 count, so a full window later both
	// slots are free again
	clock.Advance(500 * time.Millisecond)
	assert.True(t, l.IsAllowed(ctx, "k"))
	assert.True(t, l.IsAllowed(ctx, "k"))
	assert.False(t, l.IsAllowed(ctx, "k"))
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newTestLimiter(t, 1, time.Minute, newFakeClock())

	assert.True(t, l.IsAllowed(ctx, "alice"))
	assert.False(t, l.IsAllowed(ctx, "alice"))
	assert.True(t, l.IsAllowed(ctx, "bob"))
}

func TestLimitersShareStoreWithoutInterference(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	limiters, err := NewLimiters(store,
		Config{Name: "api", MaxRequests: 1, Window: time.Minute},
		Config{Name: "auth", MaxRequests: 1, Window: time.Minute},
		Config{Name: "download", MaxRequests: 1, Window: time.Minute},
	)
	require.NoError(t, err)

	assert.True(t, limiters.API.IsAllowed(ctx, "user-1"))
	assert.False(t, limiters.API.IsAllowed(ctx, "user-1"))
	assert.True(t, limiters.Auth.IsAllowed(ctx, "user-1"))
	assert.True(t, limiters.Download.IsAllowed(ctx, "user-1"))
	assert.Equal(t, 3, store.Len())
}

func TestReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newTestLimiter(t, 1, time.Hour, newFakeClock())

	require.True(t, l.IsAllowed(ctx, "k"))
	require.False(t, l.IsAllowed(ctx, "k"))
	require.NoError(t, l.Reset(ctx, "k"))
	assert.True(t, l.IsAllowed(ctx, "k"))
}

func TestRemaining(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newTestLimiter(t, 3, time.Minute, newFakeClock())

	assert.Equal(t, 2, l.Allow(ctx, "k").Remaining)
	assert.Equal(t, 1, l.Allow(ctx, "k").Remaining)
	d := l.Allow(ctx, "k")
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 3, d.Limit)
}

func TestConcurrentAllowNeverExceedsLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := newTestLimiter(t, 20, time.Hour, newFakeClock())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.IsAllowed(ctx, "shared") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, allowed)
}

type failingStore struct{}

func (failingStore) Hit(context.Context, string, time.Time, int, time.Duration) (Decision, error) {
	return Decision{}, errors.New("connection refused")
}

func (failingStore) Reset(context.Context, string) error {
	return errors.New("connection refused")
}

func TestStoreErrorsFailOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	metrics := NewMetrics()
	l, err := New(Config{Name: "download", MaxRequests: 1, Window: time.Hour}, failingStore{}, WithMetrics(metrics))
	require.NoError(t, err)

	for range 5 {
		assert.True(t, l.IsAllowed(ctx, "k"))
	}
	assert.Error(t, l.Reset(ctx, "k"))
	assert.Equal(t, float64(5), testutil.ToFloat64(metrics.decisions.WithLabelValues("download", resultError)))
}

func TestMetricsCountDecisions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	metrics := NewMetrics()
	l := newTestLimiter(t, 1, time.Minute, newFakeClock(), WithMetrics(metrics))

	l.IsAllowed(ctx, "k")
	l.IsAllowed(ctx, "k")
	l.IsAllowed(ctx, "k")

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.decisions.WithLabelValues("test", resultAllowed)))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.decisions.WithLabelValues("test", resultRejected)))
}

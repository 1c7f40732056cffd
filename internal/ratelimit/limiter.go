// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ratelimit implements a keyed sliding-window request limiter. A key
// may make at most MaxRequests accepted requests in any trailing Window;
// rejected attempts are not recorded.
package ratelimit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Name        string
	MaxRequests int
	Window      time.Duration
}

func (c Config) validate() error {
	if c.Name == "" {
		return errors.New("limiter name is required")
	}
	if c.MaxRequests <= 0 {
		return errors.Errorf("limiter %s: max requests must be positive", c.Name)
	}
	if c.Window <= 0 {
		return errors.Errorf("limiter %s: window must be positive", c.Name)
	}
	return nil
}

// Decision is the outcome of one Allow call. Remaining counts the requests
// still available in the current window after this one. RetryAfter is only
// set on rejection and is the time until the oldest counted request leaves
// the window.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Store holds the per-key request windows. Hit prunes, counts and, when the
// request fits, records now as one atomic step.
type Store interface {
	Hit(ctx context.Context, key string, now time.Time, limit int, window time.Duration) (Decision, error)
	Reset(ctx context.Context, key string) error
}

type Limiter struct {
	cfg     Config
	store   Store
	now     func() time.Time
	log     zerolog.Logger
	metrics *Metrics
}

type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Limiter) { l.log = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// New builds a limiter over store. A nil store gets a private MemoryStore on
// the limiter's clock.
func New(cfg Config, store Store, opts ...Option) (*Limiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		cfg:   cfg,
		store: store,
		now:   time.Now,
		log:   log.With().Str("component", "ratelimit").Str("limiter", cfg.Name).Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.store == nil {
		l.store = NewMemoryStore(WithStoreClock(l.now))
	}
	return l, nil
}

func (l *Limiter) Config() Config {
	return l.cfg
}

// Allow evaluates and, when accepted, records a request for key. Store errors
// are logged and the request is let through.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	d, err := l.store.Hit(ctx, l.storeKey(key), l.now(), l.cfg.MaxRequests, l.cfg.Window)
	if err != nil {
		l.log.Error().Err(err).Msg("rate limit store failed, allowing request")
		l.metrics.observe(l.cfg.Name, resultError)
		return Decision{Allowed: true, Limit: l.cfg.MaxRequests, Remaining: l.cfg.MaxRequests}
	}

	if d.Allowed {
		l.metrics.observe(l.cfg.Name, resultAllowed)
	} else {
		l.metrics.observe(l.cfg.Name, resultRejected)
		l.log.Debug().Str("key", key).Dur("retryAfter", d.RetryAfter).Msg("request rejected")
	}
	return d
}

func (l *Limiter) IsAllowed(ctx context.Context, key string) bool {
	return l.Allow(ctx, key).Allowed
}

// Reset forgets every request recorded for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.store.Reset(ctx, l.storeKey(key)); err != nil {
		return errors.Wrapf(err, "reset %s limiter", l.cfg.Name)
	}
	return nil
}

// storeKey namespaces keys so limiters can share one store.
func (l *Limiter) storeKey(key string) string {
	return l.cfg.Name + ":" + key
}

// Limiters are the three process-wide limiters, built once at start and
// passed to whoever gates requests.
type Limiters struct {
	API      *Limiter
	Auth     *Limiter
	Download *Limiter
}

// NewLimiters builds the api, auth and download limiters over one store.
func NewLimiters(store Store, api, auth, download Config, opts ...Option) (*Limiters, error) {
	apiLimiter, err := New(api, store, opts...)
	if err != nil {
		return nil, err
	}
	authLimiter, err := New(auth, store, opts...)
	if err != nil {
		return nil, err
	}
	downloadLimiter, err := New(download, store, opts...)
	if err != nil {
		return nil, err
	}
	return &Limiters{API: apiLimiter, Auth: authLimiter, Download: downloadLimiter}, nil
}

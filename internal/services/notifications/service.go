// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package notifications

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultQueueSize = 100
	defaultWorkers   = 2
	defaultAttempts  = 3
	defaultDelay     = time.Second
)

// Message is one outgoing email.
type Message struct {
	To    string
	Title string
	Body  string
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type Config struct {
	// URL is any shoutrrr service URL. Empty means messages are only logged.
	URL string
	// Rate caps sends per second across workers. Zero or less is unlimited.
	Rate      float64
	QueueSize int
	Workers   int
	Attempts  uint
	Delay     time.Duration
}

type Option func(*Service)

// WithSender replaces the shoutrrr sender.
func WithSender(sender Sender) Option {
	return func(s *Service) { s.sender = sender }
}

type Service struct {
	cfg     Config
	sender  Sender
	logger  zerolog.Logger
	queue   chan Message
	limiter *rate.Limiter

	// workers outlive the caller's context and stop only through Close
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	closeOnce sync.Once
}

func NewService(cfg Config, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.Delay <= 0 {
		cfg.Delay = defaultDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:     cfg,
		logger:  logger,
		queue:   make(chan Message, cfg.QueueSize),
		limiter: rate.NewLimiter(rate.Inf, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	if cfg.Rate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}

	if url := strings.TrimSpace(cfg.URL); url != "" {
		sender, err := newShoutrrrSender(url)
		if err != nil {
			return nil, err
		}
		s.sender = sender
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func ValidateURL(rawURL string) error {
	_, err := router.New(nil, rawURL)
	return err
}

// Start launches the workers. Only the first call has an effect.
func (s *Service) Start() {
	if s == nil || s.sender == nil {
		return
	}

	s.startOnce.Do(func() {
		s.wg.Add(s.cfg.Workers)
		for range s.cfg.Workers {
			go s.worker()
		}
	})
}

// Close stops accepting messages and waits for the workers to drain the
// queue. When ctx ends first the in-flight sends are cancelled and the
// remaining messages are dropped.
func (s *Service) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})
	// a service that was never started still owes its queued messages
	s.Start()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		if pending := len(s.queue); pending > 0 {
			s.logger.Warn().Int("pending", pending).Msg("notifications: shutdown deadline reached, dropping queued emails")
		}
		return ctx.Err()
	}
}

// Enabled reports whether messages are delivered rather than only logged.
func (s *Service) Enabled() bool {
	return s != nil && s.sender != nil
}

// SendDownloadEmail queues the download link for email. It never blocks: it
// returns false when the queue is full or the service is closed.
func (s *Service) SendDownloadEmail(_ context.Context, email, downloadPageURL, appName string) bool {
	if s == nil {
		return false
	}

	msg := downloadMessage(email, downloadPageURL, appName)

	if s.sender == nil {
		s.logger.Info().
			Str("email", email).
			Str("app", appName).
			Str("url", downloadPageURL).
			Msg("notifications: no sender configured, download email logged only")
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn().Str("email", email).Str("app", appName).Msg("notifications: service closed, dropping download email")
		return false
	}

	select {
	case s.queue <- msg:
		return true
	default:
		s.logger.Warn().Str("email", email).Str("app", appName).Msg("notifications: queue full, dropping download email")
		return false
	}
}

func (s *Service) worker() {
	defer s.wg.Done()

	for msg := range s.queue {
		if s.ctx.Err() != nil {
			continue
		}
		if err := s.deliver(s.ctx, msg); err != nil && s.ctx.Err() == nil {
			s.logger.Error().Err(err).Str("email", msg.To).Msg("notifications: send failed")
		}
	}
}

func (s *Service) deliver(ctx context.Context, msg Message) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	return retry.Do(
		func() error { return s.sender.Send(ctx, msg) },
		retry.Context(ctx),
		retry.Attempts(s.cfg.Attempts),
		retry.Delay(s.cfg.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug().Err(err).Uint("attempt", n+1).Str("email", msg.To).Msg("notifications: retrying send")
		}),
	)
}

type shoutrrrSender struct {
	router *router.ServiceRouter
	smtp   bool
}

func newShoutrrrSender(rawURL string) (*shoutrrrSender, error) {
	r, err := router.New(nil, rawURL)
	if err != nil {
		return nil, err
	}
	return &shoutrrrSender{
		router: r,
		smtp:   strings.HasPrefix(strings.ToLower(rawURL), "smtp://"),
	}, nil
}

func (s *shoutrrrSender) Send(_ context.Context, msg Message) error {
	params := types.Params{}
	if title := truncateMessage(msg.Title, maxTitleLength); title != "" {
		params.SetTitle(title)
	}
	// other services reject unknown param keys
	if s.smtp && msg.To != "" {
		params["toaddresses"] = msg.To
	}

	var errs []error
	for _, sendErr := range s.router.Send(truncateMessage(msg.Body, maxMessageLength), &params) {
		if sendErr != nil {
			errs = append(errs, sendErr)
		}
	}
	return errors.Join(errs...)
}

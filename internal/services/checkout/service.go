// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package checkout completes simulated orders: every line item becomes a
// completed purchase with its own download grant and email.
package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/threeeyedemu/emu/internal/domain"
	"github.com/threeeyedemu/emu/internal/models"
	"github.com/threeeyedemu/emu/internal/services/downloads"
)

const maxConcurrentItems = 4

var (
	ErrEmptyOrder      = errors.New("order has no items")
	ErrMissingCustomer = errors.New("order requires a user id and email")
)

type AppStore interface {
	GetByIDOrSlug(ctx context.Context, idOrSlug string) (*models.App, error)
}

type PurchaseStore interface {
	Create(ctx context.Context, p *models.Purchase) (*models.Purchase, error)
	UpdateStatus(ctx context.Context, id string, status models.PurchaseStatus) error
}

type LinkIssuer interface {
	CreateDownloadLink(ctx context.Context, userID, appID, purchaseID, platform string) (*models.DownloadGrant, error)
	DownloadPageURL(token string) string
}

type Notifier interface {
	SendDownloadEmail(ctx context.Context, email, downloadPageURL, appName string) bool
}

type Item struct {
	AppID    string `json:"appId" validate:"required"`
	Platform string `json:"platform" validate:"required"`
}

type Order struct {
	UserID string `json:"-"`
	Email  string `json:"email" validate:"required,email"`
	Items  []Item `json:"items" validate:"required,min=1,dive"`
}

// Receipt is returned for every item of a completed order.
type Receipt struct {
	ExpiresAt       time.Time `json:"expiresAt"`
	PurchaseID      string    `json:"purchaseId"`
	AppID           string    `json:"appId"`
	AppName         string    `json:"appName"`
	Platform        string    `json:"platform"`
	Token           string    `json:"token"`
	DownloadPageURL string    `json:"downloadPageUrl"`
	AmountCents     int64     `json:"amountCents"`
	EmailQueued     bool      `json:"emailQueued"`
}

type Service struct {
	apps      AppStore
	purchases PurchaseStore
	links     LinkIssuer
	notifier  Notifier
	log       zerolog.Logger
}

func NewService(apps AppStore, purchases PurchaseStore, links LinkIssuer, notifier Notifier) *Service {
	return &Service{
		apps:      apps,
		purchases: purchases,
		links:     links,
		notifier:  notifier,
		log:       log.With().Str("component", "checkout").Logger(),
	}
}

// Complete validates the whole order, then processes its items concurrently.
// Receipts are returned in item order.
func (s *Service) Complete(ctx context.Context, order Order) ([]Receipt, error) {
	if strings.TrimSpace(order.UserID) == "" || strings.TrimSpace(order.Email) == "" {
		return nil, ErrMissingCustomer
	}
	if len(order.Items) == 0 {
		return nil, ErrEmptyOrder
	}

	apps := make([]*models.App, len(order.Items))
	platforms := make([]string, len(order.Items))
	for i, item := range order.Items {
		app, err := s.apps.GetByIDOrSlug(ctx, item.AppID)
		if err != nil {
			if errors.Is(err, models.ErrAppNotFound) {
				return nil, errors.Wrapf(downloads.ErrAppNotFound, "item %d: %s", i, item.AppID)
			}
			return nil, errors.Wrap(err, "could not resolve app")
		}
		platform, ok := models.NormalizePlatform(item.Platform)
		if !ok {
			return nil, errors.Wrapf(models.ErrUnsupportedPlatform, "item %d: %q", i, item.Platform)
		}
		apps[i] = app
		platforms[i] = platform
	}

	receipts := make([]Receipt, len(order.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentItems)

	for i := range order.Items {
		g.Go(func() error {
			receipt, err := s.completeItem(gctx, order, apps[i], platforms[i])
			if err != nil {
				return errors.Wrapf(err, "item %d", i)
			}
			receipts[i] = *receipt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.log.Info().Str("userId", order.UserID).Int("items", len(receipts)).Msg("order completed")
	return receipts, nil
}

func (s *Service) completeItem(ctx context.Context, order Order, app *models.App, platform string) (*Receipt, error) {
	purchase, err := s.purchases.Create(ctx, &models.Purchase{
		UserID:      order.UserID,
		Email:       order.Email,
		AppID:       app.ID,
		AmountCents: app.PriceCents,
		Status:      models.PurchaseStatusPending,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not create purchase")
	}

	// a grant is only ever issued against a completed purchase
	if err := s.purchases.UpdateStatus(ctx, purchase.ID, models.PurchaseStatusCompleted); err != nil {
		return nil, errors.Wrap(err, "could not complete purchase")
	}

	grant, err := s.links.CreateDownloadLink(ctx, order.UserID, app.ID, purchase.ID, platform)
	if err != nil {
		s.log.Error().Err(err).
			Str("purchaseId", purchase.ID).
			Str("appId", app.ID).
			Msg("purchase completed without a download link")
		return nil, errors.Wrap(err, "could not create download link")
	}

	pageURL := s.links.DownloadPageURL(grant.Token)
	queued := false
	if s.notifier != nil {
		queued = s.notifier.SendDownloadEmail(ctx, order.Email, pageURL, app.Name)
	}

	s.log.Debug().
		Str("purchaseId", purchase.ID).
		Str("appId", app.ID).
		Str("token", domain.MaskToken(grant.Token)).
		Bool("persisted", grant.Persisted).
		Msg("order item completed")

	return &Receipt{
		ExpiresAt:       grant.ExpiresAt,
		PurchaseID:      purchase.ID,
		AppID:           app.ID,
		AppName:         app.Name,
		Platform:        platform,
		Token:           grant.Token,
		DownloadPageURL: pageURL,
		AmountCents:     purchase.AmountCents,
		EmailQueued:     queued,
	}, nil
}

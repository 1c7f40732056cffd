// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/threeeyedemu/emu/internal/dbinterface"
)

var (
	ErrGrantNotFound      = errors.New("download grant not found")
	ErrGrantTokenExists   = errors.New("download grant token already exists")
	ErrGrantNotRedeemable = errors.New("download grant not redeemable")
)

// GrantStatus is the redeemability of a grant at a given instant.
type GrantStatus string

const (
	GrantStatusValid     GrantStatus = "valid"
	GrantStatusExpired   GrantStatus = "expired"
	GrantStatusExhausted GrantStatus = "exhausted"
)

// DownloadGrant authorises a bounded number of downloads of one purchased
// asset until ExpiresAt. Token is the only external handle.
type DownloadGrant struct {
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	PurchaseID    string    `json:"purchaseId"`
	UserID        string    `json:"userId"`
	AppID         string    `json:"appId"`
	Platform      string    `json:"platform"`
	Token         string    `json:"token"`
	AssetURL      string    `json:"assetUrl"`
	ID            int64     `json:"id"`
	DownloadCount int       `json:"downloadCount"`
	MaxDownloads  int       `json:"maxDownloads"`
	// Persisted is false for a grant that was issued but could not be stored.
	Persisted bool `json:"persisted"`
}

// Status evaluates the grant at now. A grant is valid while now is before
// ExpiresAt and DownloadCount is below MaxDownloads; expiry wins when both
// fail. The conditional UPDATE in Consume encodes the same rule.
func (g *DownloadGrant) Status(now time.Time) GrantStatus {
	if !now.Before(g.ExpiresAt) {
		return GrantStatusExpired
	}
	if g.DownloadCount >= g.MaxDownloads {
		return GrantStatusExhausted
	}
	return GrantStatusValid
}

// IsValid reports whether the grant can be redeemed at now.
func (g *DownloadGrant) IsValid(now time.Time) bool {
	return g.Status(now) == GrantStatusValid
}

// RemainingDownloads never goes below zero.
func (g *DownloadGrant) RemainingDownloads() int {
	return max(g.MaxDownloads-g.DownloadCount, 0)
}

type DownloadGrantStore struct {
	db dbinterface.Querier
}

func NewDownloadGrantStore(db dbinterface.Querier) *DownloadGrantStore {
	return &DownloadGrantStore{db: db}
}

const grantColumns = `id, purchase_id, user_id, app_id, platform, token, asset_url,
	download_count, max_downloads, created_at, expires_at`

func scanGrant(scan func(dest ...any) error) (*DownloadGrant, error) {
	var (
		g                    DownloadGrant
		createdAt, expiresAt int64
	)
	if err := scan(&g.ID, &g.PurchaseID, &g.UserID, &g.AppID, &g.Platform, &g.Token, &g.AssetURL,
		&g.DownloadCount, &g.MaxDownloads, &createdAt, &expiresAt); err != nil {
		return nil, err
	}
	g.CreatedAt = time.UnixMilli(createdAt).UTC()
	g.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	g.Persisted = true
	return &g, nil
}

// Create stores a new grant and returns it with its assigned id.
func (s *DownloadGrantStore) Create(ctx context.Context, g *DownloadGrant) (*DownloadGrant, error) {
	if g == nil {
		return nil, errors.New("grant is nil")
	}
	if strings.TrimSpace(g.Token) == "" {
		return nil, errors.New("grant token is required")
	}
	if g.MaxDownloads <= 0 {
		return nil, errors.New("grant max downloads must be positive")
	}
	if !g.ExpiresAt.After(g.CreatedAt) {
		return nil, errors.New("grant must expire after it is created")
	}

	out := *g
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO download_grants (purchase_id, user_id, app_id, platform, token, asset_url,
			download_count, max_downloads, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`, out.PurchaseID, out.UserID, out.AppID, out.Platform, out.Token, out.AssetURL,
		out.DownloadCount, out.MaxDownloads, out.CreatedAt.UnixMilli(), out.ExpiresAt.UnixMilli()).Scan(&out.ID)
	if err != nil {
		switch {
		case isUniqueConstraintError(err):
			return nil, ErrGrantTokenExists
		case isForeignKeyConstraintError(err):
			return nil, ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("insert download grant: %w", err)
	}

	out.CreatedAt = time.UnixMilli(out.CreatedAt.UnixMilli()).UTC()
	out.ExpiresAt = time.UnixMilli(out.ExpiresAt.UnixMilli()).UTC()
	out.Persisted = true
	return &out, nil
}

func (s *DownloadGrantStore) GetByToken(ctx context.Context, token string) (*DownloadGrant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM download_grants WHERE token = ?`, token)

	g, err := scanGrant(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGrantNotFound
		}
		return nil, fmt.Errorf("get download grant: %w", err)
	}

	return g, nil
}

// ListByUser returns the grants attached to the user's completed purchases,
// newest first.
func (s *DownloadGrantStore) ListByUser(ctx context.Context, userID string) ([]*DownloadGrant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.purchase_id, g.user_id, g.app_id, g.platform, g.token, g.asset_url,
			g.download_count, g.max_downloads, g.created_at, g.expires_at
		FROM download_grants g
		JOIN purchases p ON p.id = g.purchase_id
		WHERE p.user_id = ? AND p.status = ?
		ORDER BY g.created_at DESC, g.id DESC
	`, userID, string(PurchaseStatusCompleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []*DownloadGrant
	for rows.Next() {
		g, err := scanGrant(rows.Scan)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return grants, nil
}

// Consume spends one download of the grant identified by token in a single
// conditional UPDATE and returns the grant as updated. It returns
// ErrGrantNotRedeemable when no row matched, i.e. the token is unknown,
// expired at now, or has no downloads left.
func (s *DownloadGrantStore) Consume(ctx context.Context, token string, now time.Time) (*DownloadGrant, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE download_grants
		SET download_count = download_count + 1
		WHERE token = ? AND download_count < max_downloads AND expires_at > ?
		RETURNING `+grantColumns, token, now.UnixMilli())

	g, err := scanGrant(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGrantNotRedeemable
		}
		return nil, fmt.Errorf("consume download grant: %w", err)
	}

	return g, nil
}

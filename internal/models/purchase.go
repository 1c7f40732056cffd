// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/threeeyedemu/emu/internal/dbinterface"
)

var (
	ErrPurchaseNotFound      = errors.New("purchase not found")
	ErrInvalidPurchaseStatus = errors.New("invalid purchase status")
)

type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusCompleted PurchaseStatus = "completed"
	PurchaseStatusRefunded  PurchaseStatus = "refunded"
)

// Purchase records that a user bought an app.
type Purchase struct {
	CreatedAt   time.Time      `json:"createdAt"`
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Email       string         `json:"email"`
	AppID       string         `json:"appId"`
	Status      PurchaseStatus `json:"status"`
	AmountCents int64          `json:"amountCents"`
}

type PurchaseStore struct {
	db dbinterface.Querier
}

func NewPurchaseStore(db dbinterface.Querier) *PurchaseStore {
	return &PurchaseStore{db: db}
}

func (s *PurchaseStore) Create(ctx context.Context, p *Purchase) (*Purchase, error) {
	if p == nil {
		return nil, errors.New("purchase is nil")
	}
	if strings.TrimSpace(p.UserID) == "" {
		return nil, errors.New("purchase user is required")
	}

	out := *p
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Status == "" {
		out.Status = PurchaseStatusPending
	}
	out.Email = strings.TrimSpace(out.Email)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO purchases (id, user_id, email, app_id, amount_cents, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, out.ID, out.UserID, out.Email, out.AppID, out.AmountCents, string(out.Status))
	if err != nil {
		switch {
		case isForeignKeyConstraintError(err):
			return nil, ErrAppNotFound
		case isCheckConstraintError(err):
			return nil, ErrInvalidPurchaseStatus
		}
		return nil, fmt.Errorf("insert purchase: %w", err)
	}

	return s.GetByID(ctx, out.ID)
}

func (s *PurchaseStore) GetByID(ctx context.Context, id string) (*Purchase, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, email, app_id, amount_cents, status, created_at
		FROM purchases
		WHERE id = ?
	`, id)

	var p Purchase
	var status string
	if err := row.Scan(&p.ID, &p.UserID, &p.Email, &p.AppID, &p.AmountCents, &status, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("get purchase: %w", err)
	}
	p.Status = PurchaseStatus(status)

	return &p, nil
}

// UpdateStatus moves a purchase to status.
func (s *PurchaseStore) UpdateStatus(ctx context.Context, id string, status PurchaseStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE purchases SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		if isCheckConstraintError(err) {
			return ErrInvalidPurchaseStatus
		}
		return fmt.Errorf("update purchase status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPurchaseNotFound
	}

	return nil
}

// ListCompletedByUser returns the user's completed purchases, newest first.
func (s *PurchaseStore) ListCompletedByUser(ctx context.Context, userID string) ([]*Purchase, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, email, app_id, amount_cents, status, created_at
		FROM purchases
		WHERE user_id = ? AND status = ?
		ORDER BY created_at DESC
	`, userID, string(PurchaseStatusCompleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var purchases []*Purchase
	for rows.Next() {
		var p Purchase
		var status string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Email, &p.AppID, &p.AmountCents, &status, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Status = PurchaseStatus(status)
		purchases = append(purchases, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return purchases, nil
}

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
	ErrAppNotFound  = errors.New("app not found")
	ErrAppSlugTaken = errors.New("app slug already in use")
)

// App is a catalogue entry that can be purchased.
type App struct {
	CreatedAt   time.Time `json:"createdAt"`
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	PriceCents  int64     `json:"priceCents"`
	Active      bool      `json:"active"`
}

type AppStore struct {
	db dbinterface.Querier
}

func NewAppStore(db dbinterface.Querier) *AppStore {
	return &AppStore{db: db}
}

func (s *AppStore) Create(ctx context.Context, app *App) (*App, error) {
	if app == nil {
		return nil, errors.New("app is nil")
	}

	slug := strings.ToLower(strings.TrimSpace(app.Slug))
	name := strings.TrimSpace(app.Name)
	if slug == "" || name == "" {
		return nil, errors.New("app slug and name are required")
	}
	if app.PriceCents < 0 {
		return nil, errors.New("app price cannot be negative")
	}

	id := app.ID
	if id == "" {
		id = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO apps (id, slug, name, description, price_cents, active)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, slug, name, strings.TrimSpace(app.Description), app.PriceCents, app.Active)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrAppSlugTaken
		}
		return nil, fmt.Errorf("insert app: %w", err)
	}

	return s.GetByIDOrSlug(ctx, id)
}

// GetByIDOrSlug resolves an app by primary key or by slug.
func (s *AppStore) GetByIDOrSlug(ctx context.Context, idOrSlug string) (*App, error) {
	key := strings.TrimSpace(idOrSlug)
	if key == "" {
		return nil, ErrAppNotFound
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, description, price_cents, active, created_at
		FROM apps
		WHERE id = ? OR slug = ?
		LIMIT 1
	`, key, strings.ToLower(key))

	var app App
	if err := row.Scan(&app.ID, &app.Slug, &app.Name, &app.Description, &app.PriceCents, &app.Active, &app.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAppNotFound
		}
		return nil, fmt.Errorf("get app: %w", err)
	}

	return &app, nil
}

func (s *AppStore) List(ctx context.Context) ([]*App, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, name, description, price_cents, active, created_at
		FROM apps
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []*App
	for rows.Next() {
		var app App
		if err := rows.Scan(&app.ID, &app.Slug, &app.Name, &app.Description, &app.PriceCents, &app.Active, &app.CreatedAt); err != nil {
			return nil, err
		}
		apps = append(apps, &app)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return apps, nil
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/threeeyedemu/emu/internal/database"
	"github.com/threeeyedemu/emu/internal/models"
	"github.com/threeeyedemu/emu/internal/testdb"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	return testdb.Open(t, "models")
}

func seedApp(t *testing.T, db *database.DB, slug string) *models.App {
	t.Helper()

	app, err := models.NewAppStore(db).Create(context.Background(), &models.App{
		Slug:       slug,
		Name:       "App " + slug,
		PriceCents: 499,
		Active:     true,
	})
	require.NoError(t, err)
	return app
}

func seedPurchase(t *testing.T, db *database.DB, userID, appID string, status models.PurchaseStatus) *models.Purchase {
	t.Helper()

	p, err := models.NewPurchaseStore(db).Create(context.Background(), &models.Purchase{
		UserID:      userID,
		Email:       userID + "@example.com",
		AppID:       appID,
		AmountCents: 499,
		Status:      status,
	})
	require.NoError(t, err)
	return p
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threeeyedemu/emu/internal/models"
)

func TestPurchaseStore_Lifecycle(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	app := seedApp(t, db, "emu-cam")
	store := models.NewPurchaseStore(db)
	ctx := context.Background()

	p := seedPurchase(t, db, "user-1", app.ID, "")
	assert.Equal(t, models.PurchaseStatusPending, p.Status)

	completed, err := store.ListCompletedByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, completed)

	require.NoError(t, store.UpdateStatus(ctx, p.ID, models.PurchaseStatusCompleted))

	got, err := store.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PurchaseStatusCompleted, got.Status)

	completed, err = store.ListCompletedByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, p.ID, completed[0].ID)

	assert.ErrorIs(t, store.UpdateStatus(ctx, p.ID, "stolen"), models.ErrInvalidPurchaseStatus)
	assert.ErrorIs(t, store.UpdateStatus(ctx, "missing", models.PurchaseStatusRefunded), models.ErrPurchaseNotFound)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrPurchaseNotFound)
}

func TestPurchaseStore_CreateUnknownApp(t *testing.T) {
	t.Parallel()

	store := models.NewPurchaseStore(setupTestDB(t))

	_, err := store.Create(context.Background(), &models.Purchase{UserID: "u", AppID: "missing"})
	assert.ErrorIs(t, err, models.ErrAppNotFound)

	_, err = store.Create(context.Background(), &models.Purchase{AppID: "missing"})
	assert.Error(t, err)
}

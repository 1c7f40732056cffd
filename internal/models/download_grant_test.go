// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threeeyedemu/emu/internal/database"
	"github.com/threeeyedemu/emu/internal/models"
)

func newGrant(t *testing.T, db *database.DB, token string, count, maxDownloads int, created time.Time, ttl time.Duration) *models.DownloadGrant {
	t.Helper()

	app := seedApp(t, db, "app-"+token)
	p := seedPurchase(t, db, "user-"+token, app.ID, models.PurchaseStatusCompleted)

	g, err := models.NewDownloadGrantStore(db).Create(context.Background(), &models.DownloadGrant{
		PurchaseID:    p.ID,
		UserID:        p.UserID,
		AppID:         app.ID,
		Platform:      "android",
		Token:         token,
		AssetURL:      "https://cdn/apps/" + app.ID + "/android/app-v1.0.0.apk",
		DownloadCount: count,
		MaxDownloads:  maxDownloads,
		CreatedAt:     created,
		ExpiresAt:     created.Add(ttl),
	})
	require.NoError(t, err)
	return g
}

func TestDownloadGrantStatus(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		grant models.DownloadGrant
		want  models.GrantStatus
	}{
		{
			name:  "fresh",
			grant: models.DownloadGrant{ExpiresAt: now.Add(time.Hour), MaxDownloads: 5},
			want:  models.GrantStatusValid,
		},
		{
			name:  "one left",
			grant: models.DownloadGrant{ExpiresAt: now.Add(time.Hour), DownloadCount: 4, MaxDownloads: 5},
			want:  models.GrantStatusValid,
		},
		{
			name:  "exhausted",
			grant: models.DownloadGrant{ExpiresAt: now.Add(time.Hour), DownloadCount: 5, MaxDownloads: 5},
			want:  models.GrantStatusExhausted,
		},
		{
			name:  "expires exactly now",
			grant: models.DownloadGrant{ExpiresAt: now, MaxDownloads: 5},
			want:  models.GrantStatusExpired,
		},
		{
			name:  "expired with downloads left",
			grant: models.DownloadGrant{ExpiresAt: now.Add(-time.Second), DownloadCount: 1, MaxDownloads: 5},
			want:  models.GrantStatusExpired,
		},
		{
			name:  "expired and exhausted",
			grant: models.DownloadGrant{ExpiresAt: now.Add(-time.Second), DownloadCount: 5, MaxDownloads: 5},
			want:  models.GrantStatusExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.grant.Status(now))
			assert.Equal(t, tt.want == models.GrantStatusValid, tt.grant.IsValid(now))
		})
	}
}

func TestDownloadGrantStore_CreateAndGet(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	created := time.Now().UTC()
	g := newGrant(t, db, "tok-create", 0, 5, created, 24*time.Hour)

	assert.Positive(t, g.ID)
	assert.True(t, g.Persisted)

	store := models.NewDownloadGrantStore(db)
	got, err := store.GetByToken(context.Background(), "tok-create")
	require.NoError(t, err)
	assert.Equal(t, g.ID, got.ID)
	assert.Equal(t, g.AssetURL, got.AssetURL)
	assert.Equal(t, created.UnixMilli(), got.CreatedAt.UnixMilli())
	assert.Equal(t, created.Add(24*time.Hour).UnixMilli(), got.ExpiresAt.UnixMilli())
	assert.Equal(t, 5, got.MaxDownloads)
	assert.Zero(t, got.DownloadCount)

	_, err = store.GetByToken(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrGrantNotFound)

	dup := *got
	_, err = store.Create(context.Background(), &dup)
	assert.ErrorIs(t, err, models.ErrGrantTokenExists)
}

func TestDownloadGrantStore_ConsumeUntilExhausted(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	now := time.Now()
	seeded := newGrant(t, db, "tok-five", 0, 5, now, 24*time.Hour)
	store := models.NewDownloadGrantStore(db)
	ctx := context.Background()

	for i := range 5 {
		consumed, err := store.Consume(ctx, "tok-five", now)
		require.NoError(t, err, "redemption %d", i+1)
		assert.Equal(t, i+1, consumed.DownloadCount)
		assert.Equal(t, seeded.AssetURL, consumed.AssetURL)
		assert.Equal(t, seeded.ID, consumed.ID)
	}

	_, err := store.Consume(ctx, "tok-five", now)
	require.ErrorIs(t, err, models.ErrGrantNotRedeemable)

	g, err := store.GetByToken(ctx, "tok-five")
	require.NoError(t, err)
	assert.Equal(t, 5, g.DownloadCount)
	assert.Equal(t, models.GrantStatusExhausted, g.Status(now))
}

func TestDownloadGrantStore_ConsumeExpired(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	created := time.Now().Add(-25 * time.Hour)
	newGrant(t, db, "tok-old", 0, 5, created, 24*time.Hour)
	store := models.NewDownloadGrantStore(db)

	_, err := store.Consume(context.Background(), "tok-old", time.Now())
	require.ErrorIs(t, err, models.ErrGrantNotRedeemable)

	_, err = store.Consume(context.Background(), "tok-unknown", time.Now())
	require.ErrorIs(t, err, models.ErrGrantNotRedeemable)
}

func TestDownloadGrantStore_ConcurrentConsumeLastSlot(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	now := time.Now()
	newGrant(t, db, "tok-race", 4, 5, now, time.Hour)
	store := models.NewDownloadGrantStore(db)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Consume(context.Background(), "tok-race", now)
			if err == nil {
				successes.Add(1)
				return
			}
			assert.ErrorIs(t, err, models.ErrGrantNotRedeemable)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())

	g, err := store.GetByToken(context.Background(), "tok-race")
	require.NoError(t, err)
	assert.Equal(t, 5, g.DownloadCount)
}

func TestDownloadGrantStore_ListByUser(t *testing.T) {
	t.Parallel()

	db := setupTestDB(t)
	ctx := context.Background()
	app := seedApp(t, db, "emu-list")
	grants := models.NewDownloadGrantStore(db)

	completed := seedPurchase(t, db, "lister", app.ID, models.PurchaseStatusCompleted)
	refunded := seedPurchase(t, db, "lister", app.ID, models.PurchaseStatusRefunded)

	base := time.Now()
	for i, p := range []*models.Purchase{completed, completed, refunded} {
		_, err := grants.Create(ctx, &models.DownloadGrant{
			PurchaseID:   p.ID,
			UserID:       "lister",
			AppID:        app.ID,
			Platform:     "web",
			Token:        "list-" + string(rune('a'+i)),
			AssetURL:     "https://cdn/x.zip",
			MaxDownloads: 5,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
			ExpiresAt:    base.Add(24 * time.Hour),
		})
		require.NoError(t, err)
	}

	list, err := grants.ListByUser(ctx, "lister")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "list-b", list[0].Token, "newest first")
	assert.Equal(t, "list-a", list[1].Token)

	none, err := grants.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDownloadGrantStore_CreateValidation(t *testing.T) {
	t.Parallel()

	store := models.NewDownloadGrantStore(setupTestDB(t))
	now := time.Now()

	_, err := store.Create(context.Background(), &models.DownloadGrant{Token: "", MaxDownloads: 5, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	assert.Error(t, err)

	_, err = store.Create(context.Background(), &models.DownloadGrant{Token: "x", MaxDownloads: 0, CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
	assert.Error(t, err)

	_, err = store.Create(context.Background(), &models.DownloadGrant{Token: "x", MaxDownloads: 5, CreatedAt: now, ExpiresAt: now})
	assert.Error(t, err)

	_, err = store.Create(context.Background(), &models.DownloadGrant{
		PurchaseID: "missing", Token: "x", MaxDownloads: 5, CreatedAt: now, ExpiresAt: now.Add(time.Hour),
	})
	assert.ErrorIs(t, err, models.ErrPurchaseNotFound)
}

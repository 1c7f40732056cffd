// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "emu.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestNewCreatesSchema(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	for _, table := range []string{"apps", "app_versions", "purchases", "download_grants"} {
		var name string
		err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}

	var journalMode string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "emu.db")

	db, err := New(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	defer db.Close()

	var applied int
	require.NoError(t, db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM migrations").Scan(&applied))
	files, err := listMigrations(migrationsFS, "migrations")
	require.NoError(t, err)
	assert.Equal(t, len(files), applied)
}

func TestSerializedConditionalUpdate(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "INSERT INTO apps (id, slug, name) VALUES (?, ?, ?)", "app-1", "emu-maps", "Emu Maps")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "INSERT INTO purchases (id, user_id, app_id, amount_cents, status) VALUES (?, ?, ?, ?, ?)",
		"p-1", "u-1", "app-1", 499, "completed")
	require.NoError(t, err)

	now := time.Now().UnixMilli()
	_, err = db.ExecContext(ctx, `
		INSERT INTO download_grants (purchase_id, user_id, app_id, platform, token, asset_url, download_count, max_downloads, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		"p-1", "u-1", "app-1", "android", "tok", "https://cdn/emu.apk", 2, 3, now, now+60_000)
	require.NoError(t, err)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		updated int64
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := db.ExecContext(ctx,
				"UPDATE download_grants SET download_count = download_count + 1 WHERE token = ? AND download_count < max_downloads",
				"tok")
			if !assert.NoError(t, err) {
				return
			}
			n, err := res.RowsAffected()
			assert.NoError(t, err)
			mu.Lock()
			updated += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), updated)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT download_count FROM download_grants WHERE token = ?", "tok").Scan(&count))
	assert.Equal(t, 3, count)
}

func TestWritesAfterCloseFail(t *testing.T) {
	t.Parallel()

	db, err := New(filepath.Join(t.TempDir(), "emu.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "close is idempotent")

	_, err = db.ExecContext(context.Background(), "DELETE FROM apps")
	assert.ErrorIs(t, err, ErrClosing)
}

func TestIsWriteQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query string
		want  bool
	}{
		{"INSERT INTO apps VALUES (1)", true},
		{"  \n\tupdate download_grants SET x = 1", true},
		{"DELETE FROM apps", true},
		{"REPLACE INTO apps VALUES (1)", true},
		{"SELECT * FROM apps", false},
		{"PRAGMA optimize", false},
		{"", false},
		{"WITH x AS (SELECT 1) SELECT * FROM x", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, isWriteQuery(tt.query), tt.query)
	}
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/threeeyedemu/emu/internal/dbinterface"
)

func TestSQLTypesSatisfyQuerier(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	for name, q := range map[string]dbinterface.Querier{"db": db, "conn": conn} {
		var one int
		require.NoError(t, q.QueryRowContext(ctx, "SELECT 1").Scan(&one), name)
		assert.Equal(t, 1, one, name)
	}
}

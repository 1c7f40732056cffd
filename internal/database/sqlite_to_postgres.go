// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// copyTable describes one table moved by CopySQLiteToPostgres. Tables are
// listed parents first so foreign keys hold during the copy.
type copyTable struct {
	name        string
	columns     []string
	boolColumns map[string]struct{}
	identity    string
}

var copyTables = []copyTable{
	{
		name:        "apps",
		columns:     []string{"id", "slug", "name", "description", "price_cents", "active", "created_at"},
		boolColumns: map[string]struct{}{"active": {}},
	},
	{
		name:        "app_versions",
		columns:     []string{"id", "app_id", "version", "platform", "file_url", "file_size", "active", "created_at"},
		boolColumns: map[string]struct{}{"active": {}},
		identity:    "id",
	},
	{
		name:    "purchases",
		columns: []string{"id", "user_id", "email", "app_id", "amount_cents", "status", "created_at"},
	},
	{
		name: "download_grants",
		columns: []string{
			"id", "purchase_id", "user_id", "app_id", "platform", "token", "asset_url",
			"download_count", "max_downloads", "created_at", "expires_at",
		},
		identity: "id",
	},
}

type CopyOptions struct {
	SQLitePath  string
	PostgresDSN string
	Apply       bool
}

type TableCopyResult struct {
	Table        string
	SQLiteRows   int64
	PostgresRows int64
}

type CopyReport struct {
	Applied bool
	Tables  []TableCopyResult
}

// CopySQLiteToPostgres moves every row of an emu SQLite database into a
// PostgreSQL database. Without Apply it only counts rows on both sides. With
// Apply the target tables are truncated and refilled in one transaction.
func CopySQLiteToPostgres(ctx context.Context, opts CopyOptions) (*CopyReport, error) {
	sqlitePath := strings.TrimSpace(opts.SQLitePath)
	dsn := strings.TrimSpace(opts.PostgresDSN)
	if sqlitePath == "" {
		return nil, errors.New("sqlite path is required")
	}
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	if _, err := os.Stat(sqlitePath); err != nil {
		return nil, fmt.Errorf("stat sqlite file: %w", err)
	}

	src, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", sqlitePath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer src.Close()

	sqliteCounts := make(map[string]int64, len(copyTables))
	for _, table := range copyTables {
		var n int64
		if err := src.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table.name)).Scan(&n); err != nil {
			return nil, fmt.Errorf("count sqlite rows for %s: %w", table.name, err)
		}
		sqliteCounts[table.name] = n
	}

	if opts.Apply {
		// make sure the schema exists before truncating into it
		target, err := Open(OpenOptions{Engine: string(DialectPostgres), Postgres: PostgresOptions{DSN: dsn}})
		if err != nil {
			return nil, fmt.Errorf("bootstrap postgres schema: %w", err)
		}
		if err := target.Close(); err != nil {
			return nil, fmt.Errorf("close bootstrap postgres connection: %w", err)
		}
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	defer pool.Close()

	if !opts.Apply {
		report := &CopyReport{}
		for _, table := range copyTables {
			var pgRows int64
			if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table.name)).Scan(&pgRows); err != nil {
				return nil, fmt.Errorf("count postgres rows for %s: %w", table.name, err)
			}
			report.Tables = append(report.Tables, TableCopyResult{
				Table:        table.name,
				SQLiteRows:   sqliteCounts[table.name],
				PostgresRows: pgRows,
			})
		}
		return report, nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin postgres import transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	names := make([]string, 0, len(copyTables))
	for _, table := range copyTables {
		names = append(names, quoteIdent(table.name))
	}
	if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+strings.Join(names, ", ")+" CASCADE"); err != nil {
		return nil, fmt.Errorf("truncate postgres tables: %w", err)
	}

	report := &CopyReport{Applied: true}
	for _, table := range copyTables {
		copied, err := copyTableRows(ctx, src, tx, table)
		if err != nil {
			return nil, fmt.Errorf("copy table %s: %w", table.name, err)
		}
		if copied != sqliteCounts[table.name] {
			return nil, fmt.Errorf("row count mismatch for table %s: sqlite=%d postgres=%d", table.name, sqliteCounts[table.name], copied)
		}

		if table.identity != "" {
			query := fmt.Sprintf(
				"SELECT setval(pg_get_serial_sequence($1, $2), COALESCE((SELECT MAX(%s) FROM %s), 0) + 1, false)",
				quoteIdent(table.identity), quoteIdent(table.name),
			)
			if _, err := tx.Exec(ctx, query, table.name, table.identity); err != nil {
				return nil, fmt.Errorf("reset identity for %s: %w", table.name, err)
			}
		}

		report.Tables = append(report.Tables, TableCopyResult{
			Table:        table.name,
			SQLiteRows:   sqliteCounts[table.name],
			PostgresRows: copied,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit postgres import: %w", err)
	}
	committed = true

	return report, nil
}

func copyTableRows(ctx context.Context, src *sql.DB, tx pgx.Tx, table copyTable) (int64, error) {
	// #nosec G201 -- identifiers come from the static table list.
	rows, err := src.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", joinQuoted(table.columns), quoteIdent(table.name)))
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	const batchSize = 1_000
	batch := make([][]any, 0, batchSize)
	var copied int64

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{table.name}, table.columns, pgx.CopyFromRows(batch))
		if err != nil {
			return err
		}
		copied += n
		batch = batch[:0]
		return nil
	}

	for rows.Next() {
		raw := make([]any, len(table.columns))
		dest := make([]any, len(raw))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return 0, err
		}
		for i, column := range table.columns {
			_, isBool := table.boolColumns[column]
			raw[i] = normalizeSQLiteValue(raw[i], isBool)
		}
		batch = append(batch, raw)

		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return 0, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if err := flush(); err != nil {
		return 0, err
	}

	return copied, nil
}

// normalizeSQLiteValue converts driver values to what pgx expects for the
// target column.
func normalizeSQLiteValue(v any, asBool bool) any {
	switch value := v.(type) {
	case nil:
		return nil
	case int64:
		if asBool {
			return value != 0
		}
		return value
	case []byte:
		return string(value)
	default:
		return value
	}
}

func joinQuoted(columns []string) string {
	quoted := make([]string, 0, len(columns))
	for _, column := range columns {
		quoted = append(quoted, quoteIdent(column))
	}
	return strings.Join(quoted, ", ")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

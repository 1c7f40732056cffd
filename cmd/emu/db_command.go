// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/threeeyedemu/emu/internal/database"
)

func RunDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database operations",
	}

	cmd.AddCommand(runDBMigrateCommand(), runDBCopyCommand())
	return cmd
}

func runDBMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the configured database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openEnvironment(cmd)
			if err != nil {
				return err
			}
			if err := env.Close(); err != nil {
				return err
			}

			cmd.Printf("Database schema is up to date (%s)\n", env.db.Dialect())
			return nil
		},
	}
}

func runDBCopyCommand() *cobra.Command {
	var (
		fromSQLite string
		toPostgres string
		dryRun     bool
		apply      bool
	)

	cmd := &cobra.Command{
		Use:   "copy-to-postgres",
		Short: "Offline one-shot copy of a SQLite database into Postgres",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if fromSQLite == "" {
				return errors.New("--from-sqlite is required")
			}
			if toPostgres == "" {
				return errors.New("--to-postgres is required")
			}
			if dryRun == apply {
				return errors.New("set exactly one of --dry-run or --apply")
			}

			report, err := database.CopySQLiteToPostgres(cmd.Context(), database.CopyOptions{
				SQLitePath:  fromSQLite,
				PostgresDSN: toPostgres,
				Apply:       apply,
			})
			if err != nil {
				return err
			}

			mode := "dry-run"
			if report.Applied {
				mode = "apply"
			}

			cmd.Printf("SQLite -> Postgres copy (%s)\n", mode)
			cmd.Printf("Tables: %d\n", len(report.Tables))
			for _, table := range report.Tables {
				cmd.Printf("  - %s: sqlite=%d postgres=%d\n", table.Table, table.SQLiteRows, table.PostgresRows)
			}

			if report.Applied {
				cmd.Println("Copy applied successfully.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fromSQLite, "from-sqlite", "", "Path to source SQLite database file")
	cmd.Flags().StringVar(&toPostgres, "to-postgres", "", "Target Postgres DSN")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only count rows on both sides")
	cmd.Flags().BoolVar(&apply, "apply", false, "Truncate the Postgres tables and copy every row")
	return cmd
}

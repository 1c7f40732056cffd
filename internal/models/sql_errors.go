// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

type constraint int

const (
	constraintNone constraint = iota
	constraintUnique
	constraintCheck
	constraintForeignKey
)

// constraintViolation classifies a driver error from either engine.
func constraintViolation(err error) constraint {
	if err == nil {
		return constraintNone
	}

	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlitelib.SQLITE_CONSTRAINT_UNIQUE, sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY:
			return constraintUnique
		case sqlitelib.SQLITE_CONSTRAINT_CHECK:
			return constraintCheck
		case sqlitelib.SQLITE_CONSTRAINT_FOREIGNKEY:
			return constraintForeignKey
		}
		return constraintNone
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return constraintUnique
		case "23514":
			return constraintCheck
		case "23503":
			return constraintForeignKey
		}
	}

	return constraintNone
}

func isUniqueConstraintError(err error) bool {
	return constraintViolation(err) == constraintUnique
}

func isForeignKeyConstraintError(err error) bool {
	return constraintViolation(err) == constraintForeignKey
}

func isCheckConstraintError(err error) bool {
	return constraintViolation(err) == constraintCheck
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrClosing is returned for writes submitted after Close.
var ErrClosing = errors.New("database is closing")

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) String() string {
	return string(d)
}

func parseDialect(raw string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(DialectSQLite), "sqlite3":
		return DialectSQLite, nil
	case string(DialectPostgres), "postgresql", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database engine %q", raw)
	}
}

// Dialect reports the engine behind db.
func (db *DB) Dialect() string {
	if db == nil || db.dialect == "" {
		return string(DialectSQLite)
	}
	return db.dialect.String()
}

// bindQuery rewrites ? placeholders to $n for postgres. Stores always write
// the ? form.
func (db *DB) bindQuery(query string) string {
	if db == nil || db.dialect != DialectPostgres {
		return query
	}
	return rebindPlaceholders(query)
}

type lexState int

const (
	lexCode lexState = iota
	lexSingleQuote
	lexDoubleQuote
	lexLineComment
	lexBlockComment
)

// rebindPlaceholders numbers every ? that appears in plain SQL, leaving string
// literals, quoted identifiers and comments untouched.
func rebindPlaceholders(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}

	var out strings.Builder
	out.Grow(len(query) + 16)

	state := lexCode
	param := 0
	for i := 0; i < len(query); i++ {
		ch := query[i]
		next := byte(0)
		if i+1 < len(query) {
			next = query[i+1]
		}

		switch state {
		case lexSingleQuote, lexDoubleQuote:
			quote := byte('\'')
			if state == lexDoubleQuote {
				quote = '"'
			}
			out.WriteByte(ch)
			if ch == quote {
				if next == quote {
					out.WriteByte(next)
					i++
					continue
				}
				state = lexCode
			}
			continue
		case lexLineComment:
			out.WriteByte(ch)
			if ch == '\n' {
				state = lexCode
			}
			continue
		case lexBlockComment:
			out.WriteByte(ch)
			if ch == '*' && next == '/' {
				out.WriteByte(next)
				i++
				state = lexCode
			}
			continue
		}

		switch {
		case ch == '\'':
			state = lexSingleQuote
		case ch == '"':
			state = lexDoubleQuote
		case ch == '-' && next == '-':
			state = lexLineComment
		case ch == '/' && next == '*':
			state = lexBlockComment
		case ch == '?':
			param++
			out.WriteByte('$')
			out.WriteString(strconv.Itoa(param))
			continue
		}
		out.WriteByte(ch)
	}

	return out.String()
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/threeeyedemu/emu/internal/domain"
)

const (
	defaultPostgresPort    = 5432
	defaultConnectTimeout  = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
)

// PostgresOptions locate a PostgreSQL database. DSN wins over the individual
// fields when set.
type PostgresOptions struct {
	DSN            string
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	ConnectTimeout time.Duration
}

// ConnString returns the DSN, or builds one from the individual fields. It is
// empty when neither a DSN nor host, user and database are given.
func (p PostgresOptions) ConnString() string {
	if dsn := strings.TrimSpace(p.DSN); dsn != "" {
		return dsn
	}

	host := strings.TrimSpace(p.Host)
	user := strings.TrimSpace(p.User)
	name := strings.TrimSpace(p.Database)
	if host == "" || user == "" || name == "" {
		return ""
	}

	port := p.Port
	if port <= 0 {
		port = defaultPostgresPort
	}
	sslMode := cmpOr(strings.TrimSpace(p.SSLMode), "disable")
	timeout := p.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	q := url.Values{}
	q.Set("sslmode", sslMode)
	q.Set("connect_timeout", strconv.Itoa(int(timeout/time.Second)))

	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, p.Password),
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + name,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// PoolOptions size the PostgreSQL connection pool. SQLite always uses a
// single connection.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (p PoolOptions) withDefaults() PoolOptions {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = defaultMaxOpenConns
	}
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = defaultMaxIdleConns
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = defaultConnMaxLifetime
	}
	return p
}

type OpenOptions struct {
	Engine     string
	SQLitePath string
	Postgres   PostgresOptions
	Pool       PoolOptions
}

// Open connects to the selected engine and applies pending migrations.
func Open(opts OpenOptions) (*DB, error) {
	dialect, err := parseDialect(opts.Engine)
	if err != nil {
		return nil, err
	}

	switch dialect {
	case DialectSQLite:
		if strings.TrimSpace(opts.SQLitePath) == "" {
			return nil, errors.New("sqlite database path is required")
		}
		return New(opts.SQLitePath)
	case DialectPostgres:
		dsn := opts.Postgres.ConnString()
		if dsn == "" {
			return nil, errors.New("postgres dsn or host/user/name is required")
		}
		return newPostgres(dsn, opts.Pool.withDefaults())
	default:
		return nil, fmt.Errorf("unsupported database engine %q", opts.Engine)
	}
}

// OpenFromConfig opens the engine selected in cfg. sqlitePath is resolved by
// the caller so relative paths follow the config directory.
func OpenFromConfig(cfg *domain.Config, sqlitePath string) (*DB, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}

	return Open(OpenOptions{
		Engine:     cfg.DatabaseEngine,
		SQLitePath: sqlitePath,
		Postgres: PostgresOptions{
			DSN:            cfg.DatabaseDSN,
			Host:           cfg.DatabaseHost,
			Port:           cfg.DatabasePort,
			User:           cfg.DatabaseUser,
			Password:       cfg.DatabasePassword,
			Database:       cfg.DatabaseName,
			SSLMode:        cfg.DatabaseSSLMode,
			ConnectTimeout: time.Duration(cfg.DatabaseConnectTimeout) * time.Second,
		},
		Pool: PoolOptions{
			MaxOpenConns: cfg.DatabaseMaxOpenConns,
			MaxIdleConns: cfg.DatabaseMaxIdleConns,
		},
	})
}

func cmpOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/threeeyedemu/emu/internal/config"
	"github.com/threeeyedemu/emu/internal/database"
	"github.com/threeeyedemu/emu/internal/domain"
	"github.com/threeeyedemu/emu/internal/models"
	"github.com/threeeyedemu/emu/internal/ratelimit"
	"github.com/threeeyedemu/emu/internal/services/downloads"
)

const janitorInterval = time.Minute

// environment bundles what every command needs once config and database are up.
type environment struct {
	cfg       *config.AppConfig
	db        *database.DB
	apps      *models.AppStore
	versions  *models.AppVersionStore
	purchases *models.PurchaseStore
	grants    *models.DownloadGrantStore
}

func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	configDir, err := cmd.Flags().GetString("config-dir")
	if err != nil {
		return nil, err
	}

	cfg, err := config.New(configDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	return cfg, nil
}

func openEnvironment(cmd *cobra.Command) (*environment, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenFromConfig(cfg.Config, cfg.GetDatabasePath())
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	return &environment{
		cfg:       cfg,
		db:        db,
		apps:      models.NewAppStore(db),
		versions:  models.NewAppVersionStore(db),
		purchases: models.NewPurchaseStore(db),
		grants:    models.NewDownloadGrantStore(db),
	}, nil
}

func (e *environment) Close() error {
	return e.db.Close()
}

// limiterConfigs maps the configured limits onto the api, auth and download
// limiters.
func limiterConfigs(cfg *domain.Config) (api, auth, download ratelimit.Config) {
	api = ratelimit.Config{Name: "api", MaxRequests: cfg.RateLimitAPIMax, Window: cfg.RateLimitAPIWindow}
	auth = ratelimit.Config{Name: "auth", MaxRequests: cfg.RateLimitAuthMax, Window: cfg.RateLimitAuthWindow}
	download = ratelimit.Config{Name: "download", MaxRequests: cfg.RateLimitDownloadMax, Window: cfg.RateLimitDownloadWindow}
	return api, auth, download
}

// newLimiters builds the limiters on the configured backend. The returned
// close function releases the Redis client, if one was opened.
func newLimiters(ctx context.Context, cfg *domain.Config, opts ...ratelimit.Option) (*ratelimit.Limiters, func() error, error) {
	var (
		store   ratelimit.Store
		closeFn = func() error { return nil }
	)

	switch cfg.RateLimitBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, errors.Wrapf(err, "could not reach redis at %s", cfg.RedisAddr)
		}
		store = ratelimit.NewRedisStore(rdb)
		closeFn = rdb.Close
	case "", "memory":
		mem := ratelimit.NewMemoryStore()
		mem.StartJanitor(ctx, janitorInterval)
		store = mem
	default:
		return nil, nil, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimitBackend)
	}

	api, auth, download := limiterConfigs(cfg)
	limiters, err := ratelimit.NewLimiters(store, api, auth, download, opts...)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}

	log.Debug().Str("backend", cfg.RateLimitBackend).Msg("Rate limiters ready")
	return limiters, closeFn, nil
}

func (e *environment) newDownloadService(limiter *ratelimit.Limiter) (*downloads.Service, error) {
	return downloads.NewService(downloads.ConfigFromDomain(e.cfg.Config), downloads.Dependencies{
		Apps:     e.apps,
		Versions: e.versions,
		Grants:   e.grants,
		Limiter:  limiter,
	})
}

// localDownloadService backs the download limiter with process memory. One
// shot commands do not share windows with running servers.
func (e *environment) localDownloadService() (*downloads.Service, error) {
	api, auth, download := limiterConfigs(e.cfg.Config)
	limiters, err := ratelimit.NewLimiters(ratelimit.NewMemoryStore(), api, auth, download)
	if err != nil {
		return nil, err
	}
	return e.newDownloadService(limiters.Download)
}

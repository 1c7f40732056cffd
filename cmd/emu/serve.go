// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/threeeyedemu/emu/internal/api"
	"github.com/threeeyedemu/emu/internal/buildinfo"
	"github.com/threeeyedemu/emu/internal/metrics"
	"github.com/threeeyedemu/emu/internal/ratelimit"
	"github.com/threeeyedemu/emu/internal/services/checkout"
	"github.com/threeeyedemu/emu/internal/services/notifications"
)

const shutdownTimeout = 15 * time.Second

func RunServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd)
		},
	}
}

func serve(cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	env, err := openEnvironment(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := env.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
		_ = env.cfg.CloseLogs()
	}()

	if err := env.cfg.ApplyLogConfig(); err != nil {
		return err
	}
	env.cfg.WatchConfig()

	cfg := env.cfg.Config
	log.Info().Str("version", buildinfo.Version).Str("engine", env.db.Dialect()).Msg("Starting emu")
	log.Debug().Interface("config", cfg.Redacted()).Msg("Loaded configuration")

	rateMetrics := ratelimit.NewMetrics()
	limiters, closeLimiters, err := newLimiters(ctx, cfg, ratelimit.WithMetrics(rateMetrics))
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLimiters(); err != nil {
			log.Error().Err(err).Msg("Failed to close rate limit store")
		}
	}()

	downloadService, err := env.newDownloadService(limiters.Download)
	if err != nil {
		return err
	}

	notifier, err := notifications.NewService(notifications.Config{
		URL:  cfg.NotifierURL,
		Rate: cfg.NotifierRate,
	}, log.With().Str("component", "notifications").Logger())
	if err != nil {
		return errors.Wrap(err, "invalid notifier url")
	}
	notifier.Start()
	if !notifier.Enabled() {
		log.Warn().Msg("No notifierUrl configured, download emails will only be logged")
	}

	checkoutService := checkout.NewService(env.apps, env.purchases, downloadService, notifier)

	server := api.NewServer(&api.Dependencies{
		Config:    env.cfg,
		DB:        env.db,
		Downloads: downloadService,
		Checkout:  checkoutService,
		Limiters:  limiters,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.ListenAndServe)

	var metricsServer *metrics.MetricsServer
	if cfg.MetricsEnabled {
		manager := metrics.NewMetricsManager(env.db, rateMetrics)
		metricsServer = metrics.NewMetricsServer(manager, cfg.MetricsHost, cfg.MetricsPort, cfg.MetricsBasicAuthUsers)
		g.Go(metricsServer.ListenAndServe)
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown failed")
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Metrics server shutdown failed")
			}
		}
		if err := notifier.Close(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Notification queue did not drain before shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Stopped")
	return nil
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/threeeyedemu/emu/internal/database"
	"github.com/threeeyedemu/emu/internal/ratelimit"
)

type Manager struct {
	registry     *prometheus.Registry
	rateLimiting *ratelimit.Metrics
}

// NewMetricsManager builds the registry. db may be nil when no database is
// attached, e.g. in tests.
func NewMetricsManager(db *database.DB, rateLimiting *ratelimit.Metrics) *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if db != nil {
		registry.MustRegister(database.NewMetricsCollector(db))
	}
	if rateLimiting != nil {
		registry.MustRegister(rateLimiting)
	}

	log.Info().Bool("database", db != nil).Bool("rateLimiting", rateLimiting != nil).Msg("Metrics manager initialized")

	return &Manager{
		registry:     registry,
		rateLimiting: rateLimiting,
	}
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ratelimit

import "github.com/prometheus/client_golang/prometheus"

const (
	resultAllowed  = "allowed"
	resultRejected = "rejected"
	resultError    = "error"
)

// Metrics counts limiter decisions. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	decisions *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "emu_ratelimit_decisions_total",
			Help: "Rate limiter decisions by limiter and result",
		}, []string{"limiter", "result"}),
	}
}

func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.decisions.Describe(ch)
}

func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.decisions.Collect(ch)
}

func (m *Metrics) observe(limiter, result string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(limiter, result).Inc()
}

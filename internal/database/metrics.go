// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	serializedWritesTotal atomic.Uint64
	serializedWriteErrors atomic.Uint64
	serializedWriteNanos  atomic.Uint64
)

func observeWrite(elapsed time.Duration, err error) {
	serializedWritesTotal.Add(1)
	serializedWriteNanos.Add(uint64(elapsed.Nanoseconds()))
	if err != nil {
		serializedWriteErrors.Add(1)
	}
}

// MetricsCollector exposes the SQLite writer queue to Prometheus.
type MetricsCollector struct {
	db *DB

	writesDesc       *prometheus.Desc
	writeErrorsDesc  *prometheus.Desc
	writeSecondsDesc *prometheus.Desc
	queueDepthDesc   *prometheus.Desc
	openConnsDesc    *prometheus.Desc
}

func NewMetricsCollector(db *DB) *MetricsCollector {
	engine := prometheus.Labels{"engine": db.Dialect()}
	return &MetricsCollector{
		db: db,
		writesDesc: prometheus.NewDesc(
			"emu_db_serialized_writes_total",
			"Writes executed by the single writer goroutine",
			nil, engine,
		),
		writeErrorsDesc: prometheus.NewDesc(
			"emu_db_serialized_write_errors_total",
			"Writes executed by the single writer goroutine that returned an error",
			nil, engine,
		),
		writeSecondsDesc: prometheus.NewDesc(
			"emu_db_serialized_write_seconds_total",
			"Time spent executing serialized writes",
			nil, engine,
		),
		queueDepthDesc: prometheus.NewDesc(
			"emu_db_write_queue_depth",
			"Writes waiting for the writer goroutine",
			nil, engine,
		),
		openConnsDesc: prometheus.NewDesc(
			"emu_db_open_connections",
			"Open connections in the pool",
			nil, engine,
		),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.writesDesc
	ch <- c.writeErrorsDesc
	ch <- c.writeSecondsDesc
	ch <- c.queueDepthDesc
	ch <- c.openConnsDesc
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.writesDesc, prometheus.CounterValue, float64(serializedWritesTotal.Load()))
	ch <- prometheus.MustNewConstMetric(c.writeErrorsDesc, prometheus.CounterValue, float64(serializedWriteErrors.Load()))
	ch <- prometheus.MustNewConstMetric(c.writeSecondsDesc, prometheus.CounterValue, time.Duration(serializedWriteNanos.Load()).Seconds())
	ch <- prometheus.MustNewConstMetric(c.queueDepthDesc, prometheus.GaugeValue, float64(len(c.db.writeCh)))
	ch <- prometheus.MustNewConstMetric(c.openConnsDesc, prometheus.GaugeValue, float64(c.db.conn.Stats().OpenConnections))
}
